// Package store provides an in-memory chat store that consumes adapter events.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/omochice/chatlink/internal/chat"
	"github.com/omochice/chatlink/internal/connection"
	"github.com/omochice/chatlink/internal/event"
)

// Registrar is anything events can be subscribed on, typically an adapter.
type Registrar interface {
	On(kind event.Kind, h event.Handler)
}

// Memory keeps conversations, users and messages in memory.
// It is safe for concurrent use.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]*chat.Conversation
	order         []string
	users         map[string]chat.User
	messages      map[string][]chat.Message
	state         connection.State
	now           func() time.Time
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*chat.Conversation),
		users:         make(map[string]chat.User),
		messages:      make(map[string][]chat.Message),
		state:         connection.StateClosed,
		now:           time.Now,
	}
}

// Bind registers the store as the handler for every event kind on r.
func (s *Memory) Bind(r Registrar) {
	for _, k := range event.Kinds() {
		r.On(k, s.Apply)
	}
}

// Apply updates the store from a single event.
func (s *Memory) Apply(e event.Event) {
	switch e := e.(type) {
	case event.Message:
		s.AddMessage(e.ConversationID, e.Message)
	case event.UserTyping:
		s.SetTyping(e.ConversationID, e.UserID, e.IsTyping)
	case event.ConnectionStateChanged:
		s.mu.Lock()
		s.state = e.State
		s.mu.Unlock()
	case event.UserConnected, event.UserDisconnected, event.UserPresenceChanged:
		// presence is not tracked
	}
}

// AddConversation adds c unless a conversation with the same id exists.
func (s *Memory) AddConversation(c chat.Conversation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[c.ID]; ok {
		return false
	}
	clone := c.Clone()
	s.conversations[c.ID] = &clone
	s.order = append(s.order, c.ID)
	return true
}

// GetConversation returns a copy of the conversation with the given id.
func (s *Memory) GetConversation(id string) (chat.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, false
	}
	return c.Clone(), true
}

// Conversations returns copies of all conversations in insertion order.
func (s *Memory) Conversations() []chat.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.conversations[id].Clone())
	}
	return out
}

// Participants returns the ids of the participants of conversationID.
func (s *Memory) Participants(conversationID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	return lo.Map(c.Participants, func(p chat.Participant, _ int) string {
		return p.ID
	})
}

// AddUser adds u unless a user with the same id exists.
func (s *Memory) AddUser(u chat.User) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return false
	}
	s.users[u.ID] = u
	return true
}

// GetUser returns the user with the given id.
func (s *Memory) GetUser(id string) (chat.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// AddMessage stores m in conversationID, assigning it an id and timestamp when
// missing. Incoming messages bump the unread counter. The conversation is
// created if it does not exist yet.
func (s *Memory) AddMessage(conversationID string, m chat.Message) chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	c := s.conversationLocked(conversationID)
	if m.Direction == chat.DirectionIncoming {
		c.UnreadCounter++
	}
	s.messages[conversationID] = append(s.messages[conversationID], m)
	return m
}

// Messages returns the messages of conversationID in arrival order.
func (s *Memory) Messages(conversationID string) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chat.Message(nil), s.messages[conversationID]...)
}

// SetTyping records whether userID is typing in conversationID.
func (s *Memory) SetTyping(conversationID, userID string, isTyping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationLocked(conversationID).SetTyping(userID, isTyping)
}

// MarkRead resets the unread counter of conversationID.
func (s *Memory) MarkRead(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[conversationID]; ok {
		c.UnreadCounter = 0
	}
}

// ConnectionState returns the last connection state the store was told about.
func (s *Memory) ConnectionState() connection.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Memory) conversationLocked(id string) *chat.Conversation {
	c, ok := s.conversations[id]
	if !ok {
		created := chat.NewConversation(id)
		c = &created
		s.conversations[id] = c
		s.order = append(s.order, id)
	}
	return c
}
