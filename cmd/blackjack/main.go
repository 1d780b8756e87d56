package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/edge-router/internal/blackjack"
	"github.com/angeloszaimis/edge-router/internal/httpserver"
	"github.com/angeloszaimis/edge-router/pkg/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		addr     string
		logLevel string
		env      string
	)

	cmd := &cobra.Command{
		Use:           "blackjack",
		Short:         "Serves the blackjack game API for one pool instance",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := instanceName()
			log := logger.New(logger.Options{Level: logLevel, Environment: env}).
				With(slog.String("instance", name))

			handler := blackjack.NewHandler(blackjack.NewStore(nil), name, log)

			srv, err := httpserver.New(addr, httpserver.AccessLog(log, handler))
			if err != nil {
				log.Error("Failed to create server", slog.Any("err", err))
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			srvErrCh := make(chan error, 1)
			go func() {
				log.Info("Blackjack server running", slog.String("address", addr))
				srvErrCh <- srv.Start()
			}()

			select {
			case <-ctx.Done():
				log.Info("Shutting down gracefully...")
				return srv.Shutdown(context.Background())
			case err := <-srvErrCh:
				if err != nil {
					log.Error("Server failed", slog.Any("err", err))
				}
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	cmd.Flags().StringVar(&env, "env", "dev", "environment name; prod logs JSON")
	cmd.SetContext(context.Background())

	return cmd
}

// instanceName prefers INSTANCE_NAME, which the docker provider sets, and
// falls back to the hostname.
func instanceName() string {
	if name := os.Getenv("INSTANCE_NAME"); name != "" {
		return name
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}
