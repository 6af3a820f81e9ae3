// Package config loads the settings of the chat binaries from the
// environment, an optional .env file and command-line overrides.
package config

import (
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/omochice/chatlink/internal/connection"
)

var validate = validator.New()

// Client configures the terminal chat client.
type Client struct {
	Host             string        `env:"CHAT_HOST,default=localhost:4000" validate:"required,hostname_port|hostname|tcp_addr"`
	Provider         string        `env:"CHAT_PROVIDER,default=encorechat"`
	Secure           bool          `env:"CHAT_SECURE,default=false"`
	ConversationID   string        `env:"CHAT_CONVERSATION_ID" validate:"required"`
	UserID           string        `env:"CHAT_USER_ID" validate:"required"`
	APIURL           string        `env:"CHAT_API_URL" validate:"omitempty,url"`
	ReconnectInitial time.Duration `env:"CHAT_RECONNECT_INITIAL,default=500ms" validate:"gt=0"`
	ReconnectMax     time.Duration `env:"CHAT_RECONNECT_MAX,default=10s" validate:"gtefield=ReconnectInitial"`
	LogLevel         string        `env:"LOG_LEVEL,default=info"`
}

// Relay configures the relay server.
type Relay struct {
	Addr     string `env:"RELAY_ADDR,default=:4000" validate:"required"`
	Provider string `env:"RELAY_PROVIDER,default=encorechat"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
}

// LoadDotEnv loads the given .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return errors.Wrapf(err, "load %s", path)
		}
	}
	return nil
}

// LoadClient reads the client settings from the environment. The result is
// not validated so that flags can fill the gaps first.
func LoadClient() (Client, error) {
	var cfg Client
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Client{}, errors.Wrap(err, "read client config")
	}
	return cfg, nil
}

// Validate reports missing or inconsistent settings.
func (c Client) Validate() error {
	return errors.Wrap(validate.Struct(c), "invalid client config")
}

// Endpoint returns the channel endpoint the client subscribes to.
func (c Client) Endpoint() connection.Endpoint {
	return connection.Endpoint{Secure: c.Secure, Host: c.Host, Provider: c.Provider}
}

// BaseURL returns the HTTP base of the bot API. It defaults to the chat host
// with the scheme matching Secure.
func (c Client) BaseURL() string {
	if c.APIURL != "" {
		return c.APIURL
	}
	if c.Secure {
		return "https://" + c.Host
	}
	return "http://" + c.Host
}

// LoadRelay reads the relay settings from the environment.
func LoadRelay() (Relay, error) {
	var cfg Relay
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Relay{}, errors.Wrap(err, "read relay config")
	}
	return cfg, nil
}

// Validate reports missing settings.
func (r Relay) Validate() error {
	return errors.Wrap(validate.Struct(r), "invalid relay config")
}
