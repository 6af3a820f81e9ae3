// Package protocol implements the wire format shared by chat clients and the
// channel relay: one JSON record per UTF-8 text frame.
package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

var (
	// ErrMalformed is returned when a frame is not a JSON object of the record shape.
	ErrMalformed = errors.New("malformed record")
	// ErrUnknownType is returned when a frame carries a type other than join, message or typing.
	ErrUnknownType = errors.New("unknown record type")
)

// RecordType is the kind of a wire record.
type RecordType string

const (
	RecordTypeJoin    RecordType = "join"
	RecordTypeMessage RecordType = "message"
	RecordTypeTyping  RecordType = "typing"
)

// Valid reports whether rt is one of the known record kinds.
func (rt RecordType) Valid() bool {
	switch rt {
	case RecordTypeJoin, RecordTypeMessage, RecordTypeTyping:
		return true
	default:
		return false
	}
}

func (rt RecordType) String() string {
	return string(rt)
}

// Record is a single frame exchanged with a channel endpoint.
// Content is opaque for messages and unused for joins.
type Record struct {
	Type           RecordType
	UserID         string
	ConversationID string
	Content        string
	IsTyping       bool
}

// NewJoin returns a join record for userID in conversationID.
func NewJoin(userID, conversationID string) Record {
	return Record{Type: RecordTypeJoin, UserID: userID, ConversationID: conversationID}
}

// NewMessage returns a message record.
func NewMessage(userID, conversationID, content string) Record {
	return Record{
		Type:           RecordTypeMessage,
		UserID:         userID,
		ConversationID: conversationID,
		Content:        content,
	}
}

// NewTyping returns a typing notification record.
func NewTyping(userID, conversationID, content string, isTyping bool) Record {
	return Record{
		Type:           RecordTypeTyping,
		UserID:         userID,
		ConversationID: conversationID,
		Content:        content,
		IsTyping:       isTyping,
	}
}

// wireRecord fixes the JSON field names and their order.
type wireRecord struct {
	Type           string `json:"type"`
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	IsTyping       bool   `json:"isTyping"`
}

// Encode serializes the record. The output is deterministic: every field is
// always present and emitted in declaration order.
func (r Record) Encode() string {
	// Marshalling a struct of strings and a bool cannot fail.
	data, _ := json.Marshal(r.toWire())
	return string(data)
}

// Decode parses a single frame. It fails with ErrMalformed when raw is not a
// JSON object with the record's field types and with ErrUnknownType when the
// type field names no known kind.
func Decode(raw string) (Record, error) {
	var w *wireRecord
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Record{}, errors.Wrapf(ErrMalformed, "decode record: %v", err)
	}
	if w == nil {
		return Record{}, errors.Wrap(ErrMalformed, "decode record: null payload")
	}
	r := fromWire(*w)
	if !r.Type.Valid() {
		return Record{}, errors.Wrapf(ErrUnknownType, "decode record: type %q", w.Type)
	}
	return r, nil
}

func (r Record) toWire() wireRecord {
	return wireRecord{
		Type:           string(r.Type),
		UserID:         r.UserID,
		ConversationID: r.ConversationID,
		Content:        r.Content,
		IsTyping:       r.IsTyping,
	}
}

func fromWire(w wireRecord) Record {
	return Record{
		Type:           RecordType(w.Type),
		UserID:         w.UserID,
		ConversationID: w.ConversationID,
		Content:        w.Content,
		IsTyping:       w.IsTyping,
	}
}
