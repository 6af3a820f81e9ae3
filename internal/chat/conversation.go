// Package chat holds the chat domain model shared by the adapter and stores.
// No transport or UI logic belongs here.
package chat

import (
	"slices"

	"github.com/samber/lo"
)

// Role describes what a participant may do in a conversation.
type Role struct {
	Permissions []string
}

// Participant is a member of a conversation.
type Participant struct {
	ID   string
	Role Role
}

// Conversation is a chat room as seen by a client store.
type Conversation struct {
	ID            string
	Participants  []Participant
	TypingUsers   map[string]struct{}
	UnreadCounter int
	Draft         string
}

// NewConversation returns a conversation whose participants are added in
// order, skipping duplicate ids.
func NewConversation(id string, participants ...Participant) Conversation {
	c := Conversation{
		ID:           id,
		Participants: make([]Participant, 0, len(participants)),
		TypingUsers:  make(map[string]struct{}),
	}
	for _, p := range participants {
		c.AddParticipant(p)
	}
	return c
}

// AddParticipant appends p unless a participant with the same id exists.
// It reports whether p was added.
func (c *Conversation) AddParticipant(p Participant) bool {
	if c.HasParticipant(p.ID) {
		return false
	}
	c.Participants = append(c.Participants, p)
	return true
}

// HasParticipant reports whether userID participates in the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	return lo.ContainsBy(c.Participants, func(p Participant) bool {
		return p.ID == userID
	})
}

// SetTyping marks or clears userID as typing.
func (c *Conversation) SetTyping(userID string, isTyping bool) {
	if c.TypingUsers == nil {
		c.TypingUsers = make(map[string]struct{})
	}
	if isTyping {
		c.TypingUsers[userID] = struct{}{}
		return
	}
	delete(c.TypingUsers, userID)
}

// Typing returns the ids of users currently typing, sorted.
func (c *Conversation) Typing() []string {
	ids := lo.Keys(c.TypingUsers)
	slices.Sort(ids)
	return ids
}

// Clone returns a deep copy so stores can hand out values without sharing maps.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = slices.Clone(c.Participants)
	out.TypingUsers = make(map[string]struct{}, len(c.TypingUsers))
	for id := range c.TypingUsers {
		out.TypingUsers[id] = struct{}{}
	}
	return out
}
