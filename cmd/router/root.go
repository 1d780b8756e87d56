package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/edge-router/config"
	"github.com/angeloszaimis/edge-router/pkg/logger"
)

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "router",
		Short:         "Routes /game traffic to a pool of blackjack instances",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := serve(ctx, cfg, log); err != nil {
				log.Error("Router stopped with error", slog.Any("err", err))
				return err
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default ./config/config.yaml)")
	cmd.AddCommand(newInstancesCommand(&configPath))
	cmd.SetContext(context.Background())

	return cmd
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		return nil, nil, err
	}

	log := logger.New(logger.Options{
		Level:       cfg.Logging.Level,
		Environment: cfg.Server.Environment,
		AddSource:   cfg.Server.Environment != config.EnvProd,
	})

	return cfg, log, nil
}
