package chat

// User is a chat user known to a store.
type User struct {
	ID       string
	Username string
}
