// Package adapter translates a channel's wire records into chat domain events
// and sends the local user's messages back over the channel connection.
package adapter

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/omochice/chatlink/internal/chat"
	"github.com/omochice/chatlink/internal/connection"
	"github.com/omochice/chatlink/internal/event"
	"github.com/omochice/chatlink/pkg/protocol"
)

// ErrInvalidConfig is returned by New for an incomplete Config.
var ErrInvalidConfig = errors.New("invalid adapter config")

var validate = validator.New()

// Store is the chat store the adapter keeps consistent with inbound messages.
type Store interface {
	AddConversation(c chat.Conversation) bool
	GetConversation(id string) (chat.Conversation, bool)
	AddUser(u chat.User) bool
	GetUser(id string) (chat.User, bool)
}

// Config identifies the channel and the local user.
type Config struct {
	Endpoint       connection.Endpoint
	ConversationID string `validate:"required"`
	UserID         string `validate:"required"`
}

// TypingParams describes an outbound typing notification.
type TypingParams struct {
	ConversationID string
	IsTyping       bool
	Content        string
}

// Option configures a Service.
type Option func(*options)

type options struct {
	log      zerolog.Logger
	connOpts []connection.Option
}

// WithLogger sets the logger used by the adapter and its connection.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithConnectionOptions forwards options to the connection manager.
func WithConnectionOptions(opts ...connection.Option) Option {
	return func(o *options) {
		o.connOpts = append(o.connOpts, opts...)
	}
}

// Service is a chat service bound to a single channel connection.
type Service struct {
	store      Store
	userID     string
	dispatcher *event.Dispatcher
	conn       *connection.Manager
	log        zerolog.Logger
}

// New validates cfg and opens the channel connection. It does not wait for
// the connection to be established.
func New(store Store, cfg Config, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "nil store")
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "%v", err)
	}
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		store:      store,
		userID:     cfg.UserID,
		dispatcher: event.NewDispatcher(),
		log:        o.log.With().Str("component", "adapter").Str("user_id", cfg.UserID).Logger(),
	}

	connOpts := append([]connection.Option{
		connection.WithLogger(o.log),
		connection.WithRawMessageHandler(s.HandleRaw),
		connection.WithStateHandler(s.handleState),
	}, o.connOpts...)
	s.conn = connection.Open(cfg.Endpoint.URL(cfg.ConversationID, cfg.UserID), connOpts...)
	return s, nil
}

// UserID returns the local user id.
func (s *Service) UserID() string {
	return s.userID
}

// On replaces the handler for kind.
func (s *Service) On(kind event.Kind, h event.Handler) {
	s.dispatcher.On(kind, h)
}

// Off resets the handler for kind to a no-op.
func (s *Service) Off(kind event.Kind, h event.Handler) {
	s.dispatcher.Off(kind, h)
}

// State returns the connection state.
func (s *Service) State() connection.State {
	return s.conn.State()
}

// Close closes the channel connection. No events are emitted afterwards.
func (s *Service) Close() error {
	return s.conn.Close()
}

// SendMessage sends content to conversationID as the local user. While the
// connection is not open the message is dropped and an error wrapping
// connection.ErrNotConnected is returned; nothing is queued or retried, so a
// reconnect never delivers a message twice.
func (s *Service) SendMessage(content, conversationID string) error {
	record := protocol.NewMessage(s.userID, conversationID, content)
	if err := s.conn.Send(record.Encode()); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("message dropped")
		return errors.Wrap(err, "send message")
	}
	return nil
}

// SendTyping is intentionally a no-op: throttling typing notifications is
// left to the store that calls it, and this adapter does not forward them.
func (s *Service) SendTyping(TypingParams) error {
	return nil
}

// HandleRaw decodes one inbound frame and applies it. Frames that fail to
// decode are logged and dropped.
func (s *Service) HandleRaw(raw string) {
	record, err := protocol.Decode(raw)
	if err != nil {
		s.log.Debug().Err(err).Msg("dropping inbound frame")
		return
	}
	s.HandleRecord(record)
}

// HandleRecord applies the translation policy to a decoded record.
func (s *Service) HandleRecord(r protocol.Record) {
	switch r.Type {
	case protocol.RecordTypeJoin:
		// reserved for presence signaling
	case protocol.RecordTypeMessage:
		s.handleMessage(r)
	case protocol.RecordTypeTyping:
		s.dispatcher.Emit(event.UserTyping{
			UserID:         r.UserID,
			ConversationID: r.ConversationID,
			IsTyping:       r.IsTyping,
			Content:        r.Content,
		})
	}
}

func (s *Service) handleMessage(r protocol.Record) {
	// The channel echoes our own messages back; they are already shown.
	if r.UserID == s.userID {
		return
	}

	if _, ok := s.store.GetConversation(r.ConversationID); !ok {
		s.store.AddConversation(chat.NewConversation(r.ConversationID, chat.Participant{ID: r.UserID}))
	}
	if _, ok := s.store.GetUser(r.UserID); !ok {
		s.store.AddUser(chat.User{ID: r.UserID, Username: r.UserID})
	}

	s.dispatcher.Emit(event.Message{
		ConversationID: r.ConversationID,
		Message: chat.Message{
			Content:     r.Content,
			ContentType: chat.ContentTypeTextPlain,
			SenderID:    r.UserID,
			Direction:   chat.DirectionIncoming,
			Status:      chat.StatusPending,
			CreatedAt:   time.Now(),
		},
	})
}

func (s *Service) handleState(state connection.State) {
	s.log.Debug().Stringer("state", state).Msg("connection state changed")
	s.dispatcher.Emit(event.ConnectionStateChanged{State: state})
}
