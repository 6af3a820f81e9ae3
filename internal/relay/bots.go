package relay

import (
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Bot is an LLM-backed participant that can be added to channels.
type Bot struct {
	ID     uuid.UUID `json:"ID"`
	Name   string    `json:"Name"`
	Prompt string    `json:"Prompt"`
	LLM    string    `json:"LLM"`
}

// CreateBotRequest is the body of POST /bots.
type CreateBotRequest struct {
	Name   string `json:"name" validate:"required,max=64"`
	Prompt string `json:"prompt" validate:"required"`
	LLM    string `json:"llm" validate:"required"`
}

// BotRegistry keeps bots and the channels they were added to.
type BotRegistry struct {
	mu       sync.RWMutex
	bots     map[uuid.UUID]Bot
	channels map[string][]uuid.UUID
}

// NewBotRegistry creates an empty registry.
func NewBotRegistry() *BotRegistry {
	return &BotRegistry{
		bots:     make(map[uuid.UUID]Bot),
		channels: make(map[string][]uuid.UUID),
	}
}

// Create stores a new bot with a fresh id.
func (r *BotRegistry) Create(req CreateBotRequest) Bot {
	bot := Bot{ID: uuid.New(), Name: req.Name, Prompt: req.Prompt, LLM: req.LLM}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bots[bot.ID] = bot
	return bot
}

// Get returns the bot with the given id.
func (r *BotRegistry) Get(id uuid.UUID) (Bot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bot, ok := r.bots[id]
	return bot, ok
}

// AddToChannel records bot id as a member of channelID. It reports false for
// unknown bots and is a no-op for bots already in the channel.
func (r *BotRegistry) AddToChannel(channelID string, id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bots[id]; !ok {
		return false
	}
	if !lo.Contains(r.channels[channelID], id) {
		r.channels[channelID] = append(r.channels[channelID], id)
	}
	return true
}

// ChannelBots returns the bots added to channelID in insertion order.
func (r *BotRegistry) ChannelBots(channelID string) []Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.channels[channelID], func(id uuid.UUID, _ int) Bot {
		return r.bots[id]
	})
}
