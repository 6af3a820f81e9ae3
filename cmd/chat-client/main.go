package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/omochice/chatlink/internal/adapter"
	"github.com/omochice/chatlink/internal/botapi"
	"github.com/omochice/chatlink/internal/config"
	"github.com/omochice/chatlink/internal/connection"
	"github.com/omochice/chatlink/internal/event"
	"github.com/omochice/chatlink/internal/logging"
	"github.com/omochice/chatlink/internal/store"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		envFile string
		cfg     config.Client
	)

	cmd := &cobra.Command{
		Use:           "chat-client",
		Short:         "Chat in a channel from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			fromEnv, err := config.LoadClient()
			if err != nil {
				return err
			}
			mergeClientFlags(cmd, &cfg, fromEnv)
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.StringVar(&cfg.Host, "host", "", "chat host (CHAT_HOST)")
	flags.StringVar(&cfg.Provider, "provider", "", "provider path segment (CHAT_PROVIDER)")
	flags.BoolVar(&cfg.Secure, "secure", false, "use wss and https (CHAT_SECURE)")
	flags.StringVarP(&cfg.ConversationID, "conversation", "c", "", "conversation to join (CHAT_CONVERSATION_ID)")
	flags.StringVarP(&cfg.UserID, "user", "u", "", "local user id (CHAT_USER_ID)")
	flags.StringVar(&cfg.APIURL, "api-url", "", "bot API base URL (CHAT_API_URL)")
	flags.StringVar(&cfg.LogLevel, "log-level", "", "log level (LOG_LEVEL)")
	return cmd
}

// mergeClientFlags fills every setting not given on the command line from env.
func mergeClientFlags(cmd *cobra.Command, cfg *config.Client, env config.Client) {
	flags := cmd.Flags()
	if !flags.Changed("host") {
		cfg.Host = env.Host
	}
	if !flags.Changed("provider") {
		cfg.Provider = env.Provider
	}
	if !flags.Changed("secure") {
		cfg.Secure = env.Secure
	}
	if !flags.Changed("conversation") {
		cfg.ConversationID = env.ConversationID
	}
	if !flags.Changed("user") {
		cfg.UserID = env.UserID
	}
	if !flags.Changed("api-url") {
		cfg.APIURL = env.APIURL
	}
	if !flags.Changed("log-level") {
		cfg.LogLevel = env.LogLevel
	}
	cfg.ReconnectInitial = env.ReconnectInitial
	cfg.ReconnectMax = env.ReconnectMax
}

func run(ctx context.Context, cmd *cobra.Command, cfg config.Client) error {
	log := logging.New(cfg.LogLevel, cmd.ErrOrStderr())
	mem := store.NewMemory()

	svc, err := adapter.New(mem, adapter.Config{
		Endpoint:       cfg.Endpoint(),
		ConversationID: cfg.ConversationID,
		UserID:         cfg.UserID,
	},
		adapter.WithLogger(log),
		adapter.WithConnectionOptions(connection.WithBackoff(cfg.ReconnectInitial, cfg.ReconnectMax)),
	)
	if err != nil {
		return errors.Wrap(err, "start chat service")
	}
	defer svc.Close()

	s := &session{
		conversationID: cfg.ConversationID,
		sender:         svc,
		bots:           botapi.New(cfg.BaseURL(), cfg.Provider, botapi.WithLogger(log)),
		store:          mem,
		out:            cmd.OutOrStdout(),
	}
	for _, kind := range event.Kinds() {
		svc.On(kind, s.handle)
	}

	log.Info().
		Str("url", cfg.Endpoint().URL(cfg.ConversationID, cfg.UserID)).
		Msg("connecting")
	return s.run(ctx, cmd.InOrStdin())
}
