package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/chatlink/internal/config"
	"github.com/omochice/chatlink/internal/logging"
	"github.com/omochice/chatlink/internal/relay"
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
		cfg     config.Relay
	)

	cmd := &cobra.Command{
		Use:           "chat-relay",
		Short:         "Relay chat records between channel subscribers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			fromEnv, err := config.LoadRelay()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if !flags.Changed("addr") {
				cfg.Addr = fromEnv.Addr
			}
			if !flags.Changed("provider") {
				cfg.Provider = fromEnv.Provider
			}
			if !flags.Changed("log-level") {
				cfg.LogLevel = fromEnv.LogLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.StringVar(&cfg.Addr, "addr", "", "listen address (RELAY_ADDR)")
	flags.StringVar(&cfg.Provider, "provider", "", "provider path segment (RELAY_PROVIDER)")
	flags.StringVar(&cfg.LogLevel, "log-level", "", "log level (LOG_LEVEL)")
	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, cfg config.Relay) error {
	log := logging.New(cfg.LogLevel, cmd.ErrOrStderr())
	srv := relay.New(cfg.Addr, cfg.Provider, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.Start()
		if errors.Is(err, relay.ErrServerStopped) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		srv.Stop()
		return nil
	})
	return g.Wait()
}
