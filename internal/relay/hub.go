package relay

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Client is a subscriber of one channel.
type Client struct {
	Conn      *Conn
	UserID    string
	ChannelID string
	Outgoing  chan []byte
}

// Hub tracks subscribers per channel and fans frames out to them.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Client]struct{}
	log      zerolog.Logger
}

// NewHub creates a new Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[*Client]struct{}),
		log:      log,
	}
}

// Register adds a client to its channel.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[client.ChannelID] == nil {
		h.channels[client.ChannelID] = make(map[*Client]struct{})
	}
	h.channels[client.ChannelID][client] = struct{}{}
}

// Unregister removes a client and closes its outgoing queue.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.channels[client.ChannelID]
	if !ok {
		return
	}
	if _, ok := members[client]; !ok {
		return
	}
	delete(members, client)
	close(client.Outgoing)
	if len(members) == 0 {
		delete(h.channels, client.ChannelID)
	}
}

// Broadcast queues data for every subscriber of channelID, the sender
// included. Subscribers whose queue is full miss the frame.
func (h *Hub) Broadcast(channelID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.channels[channelID] {
		select {
		case client.Outgoing <- data:
		default:
			h.log.Warn().Str("channel_id", channelID).Str("user_id", client.UserID).Msg("client queue full, dropping frame")
		}
	}
}

// ClientCount returns the number of connected clients across channels.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.SumBy(lo.Values(h.channels), func(m map[*Client]struct{}) int {
		return len(m)
	})
}

// Members returns the user ids subscribed to channelID.
func (h *Hub) Members(channelID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return lo.Map(lo.Keys(h.channels[channelID]), func(c *Client, _ int) string {
		return c.UserID
	})
}

// CloseAll closes every client connection; their read loops then unregister them.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, members := range h.channels {
		for client := range members {
			_ = client.Conn.Close()
		}
	}
}
