package chat

import "time"

// Direction tells whether a message was received or sent by the local user.
type Direction int

const (
	DirectionIncoming Direction = iota
	DirectionOutgoing
)

func (d Direction) String() string {
	switch d {
	case DirectionIncoming:
		return "incoming"
	case DirectionOutgoing:
		return "outgoing"
	default:
		return "unknown"
	}
}

// Status is the delivery state of a message.
type Status int

const (
	StatusPending Status = iota
	StatusSent
	StatusDelivered
	StatusSeen
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusSeen:
		return "seen"
	default:
		return "unknown"
	}
}

// ContentType is the MIME-like kind of a message body.
type ContentType string

const ContentTypeTextPlain ContentType = "text/plain"

// Message is a chat message. ID is assigned by the store that keeps it.
type Message struct {
	ID          string
	Content     string
	ContentType ContentType
	SenderID    string
	Direction   Direction
	Status      Status
	CreatedAt   time.Time
}
