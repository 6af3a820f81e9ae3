// Package event defines the domain events the adapter delivers to a chat
// store and the dispatcher that routes them.
package event

import (
	"github.com/omochice/chatlink/internal/chat"
	"github.com/omochice/chatlink/internal/connection"
)

// Kind identifies an event slot.
type Kind int

const (
	KindMessage Kind = iota
	KindConnectionStateChanged
	KindUserConnected
	KindUserDisconnected
	KindUserPresenceChanged
	KindUserTyping

	kindCount
)

// Kinds returns every event kind in declaration order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= 0 && k < kindCount
}

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindConnectionStateChanged:
		return "connectionStateChanged"
	case KindUserConnected:
		return "userConnected"
	case KindUserDisconnected:
		return "userDisconnected"
	case KindUserPresenceChanged:
		return "userPresenceChanged"
	case KindUserTyping:
		return "userTyping"
	default:
		return "unknown"
	}
}

// Event is implemented only by the event types of this package.
type Event interface {
	Kind() Kind
	isEvent()
}

// Message carries a message received in a conversation.
type Message struct {
	ConversationID string
	Message        chat.Message
}

// ConnectionStateChanged reports a transition of the underlying connection.
type ConnectionStateChanged struct {
	State connection.State
}

// UserConnected reports that a user came online.
type UserConnected struct {
	UserID string
}

// UserDisconnected reports that a user went offline.
type UserDisconnected struct {
	UserID string
}

// UserPresenceChanged reports a user's new presence status.
type UserPresenceChanged struct {
	UserID string
	Status string
}

// UserTyping reports a typing notification as received.
type UserTyping struct {
	UserID         string
	ConversationID string
	IsTyping       bool
	Content        string
}

func (Message) Kind() Kind                { return KindMessage }
func (ConnectionStateChanged) Kind() Kind { return KindConnectionStateChanged }
func (UserConnected) Kind() Kind          { return KindUserConnected }
func (UserDisconnected) Kind() Kind       { return KindUserDisconnected }
func (UserPresenceChanged) Kind() Kind    { return KindUserPresenceChanged }
func (UserTyping) Kind() Kind             { return KindUserTyping }

func (Message) isEvent()                {}
func (ConnectionStateChanged) isEvent() {}
func (UserConnected) isEvent()          {}
func (UserDisconnected) isEvent()       {}
func (UserPresenceChanged) isEvent()    {}
func (UserTyping) isEvent()             {}
