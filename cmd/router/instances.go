package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/edge-router/config"
	"github.com/angeloszaimis/edge-router/internal/pool"
)

var errNotDocker = errors.New("instances commands need the docker provider")

func newInstancesCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Manages the pool's instance containers",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the pool's containers",
			RunE: func(cmd *cobra.Command, args []string) error {
				resolver, closeFn, err := openDockerResolver(*configPath)
				if err != nil {
					return err
				}
				defer closeFn()

				statuses, err := resolver.List(cmd.Context())
				if err != nil {
					return err
				}
				return printStatuses(cmd.OutOrStdout(), statuses)
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop every running container of the pool",
			RunE: func(cmd *cobra.Command, args []string) error {
				resolver, closeFn, err := openDockerResolver(*configPath)
				if err != nil {
					return err
				}
				defer closeFn()

				return resolver.StopAll(cmd.Context())
			},
		},
	)

	return cmd
}

func openDockerResolver(configPath string) (*pool.DockerResolver, func() error, error) {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Pool.Provider != config.ProviderDocker {
		log.Error("Wrong provider", slog.String("provider", cfg.Pool.Provider))
		return nil, nil, errNotDocker
	}

	cli, err := newDockerClient()
	if err != nil {
		return nil, nil, err
	}

	resolver, err := newDockerResolver(cfg, cli, log, nil)
	if err != nil {
		cli.Close()
		return nil, nil, err
	}

	return resolver, cli.Close, nil
}

func printStatuses(w io.Writer, statuses []pool.ContainerStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tINDEX\tSTATE\tID")
	for _, s := range statuses {
		id := s.ID
		if len(id) > 12 {
			id = id[:12]
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.Name, s.Index, s.State, id)
	}
	return tw.Flush()
}
