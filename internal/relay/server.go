// Package relay implements the channel endpoint chat clients subscribe to.
// Every record a subscriber sends is stamped with its identity and broadcast
// to all subscribers of the channel, the sender included.
package relay

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/omochice/chatlink/pkg/protocol"
)

const (
	outgoingBuffer = 32

	// DefaultPongWait is how long a subscriber may stay silent before it is
	// dropped. Pings go out twice per wait.
	DefaultPongWait = 60 * time.Second
)

var validate = validator.New()

// ErrServerStopped is returned by Start after Stop.
var ErrServerStopped = errors.New("server stopped")

// PostMessageRequest is the body of POST /{provider}/channels/{channelID}/messages.
type PostMessageRequest struct {
	UserID  string `json:"userId" validate:"required"`
	Content string `json:"content" validate:"required"`
}

// CreateBotResponse is the body returned by POST /bots.
type CreateBotResponse struct {
	ID uuid.UUID `json:"ID"`
}

// Option configures a Server.
type Option func(*Server)

// WithPongWait overrides DefaultPongWait.
func WithPongWait(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pongWait = d
		}
	}
}

// Server serves channel subscriptions and the bot endpoints.
type Server struct {
	address  string
	provider string
	pongWait time.Duration
	hub      *Hub
	bots     *BotRegistry
	log      zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	stopped  bool // guarded by mu; no subscriber is added once set
	ready    chan struct{}
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a relay listening on address. Routes are mounted under
// /{provider}; an empty provider mounts them at the root.
func New(address, provider string, log zerolog.Logger, opts ...Option) *Server {
	log = log.With().Str("component", "relay").Logger()
	s := &Server{
		address:  address,
		provider: strings.Trim(provider, "/"),
		pongWait: DefaultPongWait,
		hub:      NewHub(log),
		bots:     NewBotRegistry(),
		log:      log,
		ready:    make(chan struct{}),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hub returns the subscriber hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Bots returns the bot registry.
func (s *Server) Bots() *BotRegistry {
	return s.bots
}

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler {
	prefix := ""
	if s.provider != "" {
		prefix = "/" + s.provider
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+prefix+"/channels/{channelID}/subscribe/{userID}", s.handleSubscribe)
	mux.HandleFunc("POST "+prefix+"/channels/{channelID}/messages", s.handlePostMessage)
	mux.HandleFunc("POST "+prefix+"/channels/{channelID}/bots/{botID}", s.handleAddBot)
	mux.HandleFunc("POST /bots", s.handleCreateBot)
	return mux
}

// Start listens and serves until Stop is called.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return errors.Wrap(err, "failed to start server")
	}

	s.mu.Lock()
	s.listener = listener
	s.server = &http.Server{Handler: s.Handler()}
	srv := s.server
	s.mu.Unlock()
	close(s.ready)

	s.log.Info().Str("addr", listener.Addr().String()).Str("provider", s.provider).Msg("relay started")

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return errors.Wrap(err, "serve")
	case <-s.quit:
		return ErrServerStopped
	}
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Stop closes the listener and every subscriber, then waits for their
// goroutines to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		srv := s.server
		s.mu.Unlock()
		close(s.quit)
		if srv != nil {
			_ = srv.Shutdown(context.Background())
		}
		s.hub.CloseAll()
		s.wg.Wait()
	})
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	channelID, userID := r.PathValue("channelID"), r.PathValue("userID")
	if channelID == "" || userID == "" {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	client := &Client{
		Conn:      NewConn(netConn, s.pongWait),
		UserID:    userID,
		ChannelID: channelID,
		Outgoing:  make(chan []byte, outgoingBuffer),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = client.Conn.Close()
		return
	}
	s.wg.Add(2)
	s.hub.Register(client)
	s.mu.Unlock()

	s.log.Info().Str("channel_id", channelID).Str("user_id", userID).Str("remote", client.Conn.RemoteAddr()).Msg("subscribed")
	s.hub.Broadcast(channelID, []byte(protocol.NewJoin(userID, channelID).Encode()))

	go s.readLoop(client)
	go s.writeLoop(client)
}

func (s *Server) readLoop(client *Client) {
	defer s.wg.Done()
	defer s.hub.Unregister(client)

	for {
		data, err := client.Conn.Read()
		if err != nil {
			s.log.Debug().Err(err).Str("user_id", client.UserID).Msg("subscriber gone")
			return
		}
		record, err := protocol.Decode(string(data))
		if err != nil {
			s.log.Debug().Err(err).Str("user_id", client.UserID).Msg("dropping frame")
			continue
		}
		if record.Type == protocol.RecordTypeJoin {
			continue
		}
		record.UserID = client.UserID
		record.ConversationID = client.ChannelID
		s.hub.Broadcast(client.ChannelID, []byte(record.Encode()))
	}
}

func (s *Server) writeLoop(client *Client) {
	ticker := time.NewTicker(s.pongWait / 2)
	defer func() {
		ticker.Stop()
		_ = client.Conn.Close()
		s.wg.Done()
	}()
	for {
		select {
		case data, ok := <-client.Outgoing:
			if !ok {
				return
			}
			if err := client.Conn.Write(data); err != nil {
				s.log.Warn().Err(err).Str("user_id", client.UserID).Msg("failed to write to subscriber")
				return
			}
		case <-ticker.C:
			if err := client.Conn.Ping(); err != nil {
				s.log.Debug().Err(err).Str("user_id", client.UserID).Msg("ping failed")
				return
			}
		}
	}
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	channelID := r.PathValue("channelID")
	s.hub.Broadcast(channelID, []byte(protocol.NewMessage(req.UserID, channelID, req.Content).Encode()))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req CreateBotRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bot := s.bots.Create(req)
	s.log.Info().Str("bot_id", bot.ID.String()).Str("name", bot.Name).Msg("bot created")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(CreateBotResponse{ID: bot.ID})
}

func (s *Server) handleAddBot(w http.ResponseWriter, r *http.Request) {
	botID, err := uuid.Parse(r.PathValue("botID"))
	if err != nil {
		http.Error(w, "invalid bot id", http.StatusBadRequest)
		return
	}
	channelID := r.PathValue("channelID")
	if !s.bots.AddToChannel(channelID, botID) {
		http.Error(w, "bot not found", http.StatusNotFound)
		return
	}
	s.hub.Broadcast(channelID, []byte(protocol.NewJoin(botID.String(), channelID).Encode()))
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, "decode body")
	}
	if err := validate.Struct(v); err != nil {
		return errors.Wrap(err, "validate body")
	}
	return nil
}
