// Package botapi is the HTTP client for creating bots and adding them to
// channels.
package botapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// BotID identifies a bot.
type BotID = uuid.UUID

// CreateBotRequest describes a new bot.
type CreateBotRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
	LLM    string `json:"llm"`
}

type createBotResponse struct {
	ID BotID `json:"ID"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log.With().Str("component", "botapi").Logger()
	}
}

// Client talks to the bot endpoints.
type Client struct {
	baseURL  string
	provider string
	http     *http.Client
	log      zerolog.Logger
}

// New creates a client for the service at baseURL whose channel routes are
// mounted under provider.
func New(baseURL, provider string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		provider: strings.Trim(provider, "/"),
		http:     http.DefaultClient,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateBot creates a bot and returns its id.
func (c *Client) CreateBot(ctx context.Context, req CreateBotRequest) (BotID, error) {
	var resp createBotResponse
	if err := c.post(ctx, c.baseURL+"/bots", req, &resp); err != nil {
		return uuid.Nil, errors.Wrap(err, "create bot")
	}
	c.log.Debug().Str("bot_id", resp.ID.String()).Str("name", req.Name).Msg("bot created")
	return resp.ID, nil
}

// AddBotToChannel adds an existing bot to channelID.
func (c *Client) AddBotToChannel(ctx context.Context, channelID string, botID BotID) error {
	if err := c.post(ctx, c.channelURL(channelID)+"/bots/"+botID.String(), nil, nil); err != nil {
		return errors.Wrapf(err, "add bot %s to %s", botID, channelID)
	}
	c.log.Debug().Str("bot_id", botID.String()).Str("channel_id", channelID).Msg("bot added")
	return nil
}

func (c *Client) channelURL(channelID string) string {
	prefix := c.baseURL
	if c.provider != "" {
		prefix += "/" + c.provider
	}
	return prefix + "/channels/" + url.PathEscape(channelID)
}

func (c *Client) post(ctx context.Context, target string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{
			Method: http.MethodPost,
			URL:    target,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(msg)),
		}
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}
