package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/docker/docker/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/edge-router/config"
	"github.com/angeloszaimis/edge-router/internal/dispatcher"
	"github.com/angeloszaimis/edge-router/internal/httpserver"
	"github.com/angeloszaimis/edge-router/internal/instance"
	"github.com/angeloszaimis/edge-router/internal/metrics"
	"github.com/angeloszaimis/edge-router/internal/pool"
	"github.com/angeloszaimis/edge-router/internal/strategy"
)

const eventBufferSize = 1024

// serve runs the public listener, the admin listener, the metrics collector
// and, for the docker provider, the idle reaper until ctx is done.
func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	collector := metrics.NewCollector(eventBufferSize, log, metrics.WithRegisterer(registry))

	selector, err := createSelector(log, cfg.Pool.Selection)
	if err != nil {
		return err
	}

	var api pool.ContainerAPI
	if cfg.Pool.Provider == config.ProviderDocker {
		cli, err := newDockerClient()
		if err != nil {
			return err
		}
		defer cli.Close()
		api = cli
	}

	resolver, err := buildResolver(cfg, api, log, collector)
	if err != nil {
		return fmt.Errorf("build %s resolver: %w", cfg.Pool.Provider, err)
	}

	p := pool.New(cfg.Pool.Name, selector, resolver)

	d, err := dispatcher.New(p,
		dispatcher.WithPoolSize(cfg.Pool.Size),
		dispatcher.WithRootMessage(cfg.Routing.RootMessage),
		dispatcher.WithForwardPrefix(cfg.Routing.ForwardPrefix),
		dispatcher.WithCollector(collector),
		dispatcher.WithLogger(log),
	)
	if err != nil {
		return err
	}

	// Forwarded responses may stream for as long as the instance takes.
	public, err := httpserver.New(cfg.Server.Address, httpserver.AccessLog(log, d),
		httpserver.WithTimeouts(0, 0))
	if err != nil {
		return fmt.Errorf("public server: %w", err)
	}

	var admin *httpserver.Server
	if cfg.Admin.Address != "" {
		admin, err = httpserver.New(cfg.Admin.Address, setupAdminRouter(collector, registry, cfg.Pool.Selection))
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
	}

	var durations config.Durations
	if cfg.Pool.Provider == config.ProviderDocker {
		if durations, err = cfg.Pool.Container.Durations(); err != nil {
			return err
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	collector.Start(gctx)

	group.Go(func() error {
		log.Info("Router listening",
			slog.String("address", cfg.Server.Address),
			slog.String("pool", cfg.Pool.Name),
			slog.Int("size", cfg.Pool.Size),
			slog.String("provider", cfg.Pool.Provider),
			slog.String("selection", cfg.Pool.Selection))
		return public.Start()
	})

	if admin != nil {
		group.Go(func() error {
			log.Info("Admin listening", slog.String("address", cfg.Admin.Address))
			return admin.Start()
		})
	}

	if sleeper, ok := resolver.(pool.Sleeper); ok {
		group.Go(func() error {
			pool.Reap(gctx, sleeper, durations.SleepAfter, durations.SweepInterval, log)
			return nil
		})
	}

	group.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully...")

		var errs []error
		if err := public.Shutdown(context.Background()); err != nil {
			errs = append(errs, fmt.Errorf("public server: %w", err))
		}
		if admin != nil {
			if err := admin.Shutdown(context.Background()); err != nil {
				errs = append(errs, fmt.Errorf("admin server: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	err = group.Wait()
	<-collector.Done()
	return err
}

func createSelector(logger *slog.Logger, selection string) (strategy.Selector, error) {
	switch selection {
	case config.SelectionRandom, "":
		return strategy.NewRandomSelector(), nil
	case config.SelectionRoundRobin:
		return strategy.NewRoundRobinSelector(), nil
	default:
		logger.Warn("Unknown selection", slog.String("requested", selection))
		return nil, fmt.Errorf("unknown selection %q", selection)
	}
}

// buildResolver maps the configured provider to a pool resolver. api is
// only used by the docker provider.
func buildResolver(cfg *config.Config, api pool.ContainerAPI, log *slog.Logger, events metrics.Emitter) (pool.Resolver, error) {
	instanceOpts := []instance.Option{instance.WithLogger(log)}

	switch cfg.Pool.Provider {
	case config.ProviderStatic:
		targets := make([]*url.URL, 0, len(cfg.Pool.Instances))
		for _, ic := range cfg.Pool.Instances {
			u, err := url.Parse(ic.URL)
			if err != nil {
				return nil, fmt.Errorf("instance url %q: %w", ic.URL, err)
			}
			targets = append(targets, u)
		}
		if len(targets) < cfg.Pool.Size {
			return nil, fmt.Errorf("%d instances configured for a pool of %d", len(targets), cfg.Pool.Size)
		}
		return pool.NewStaticResolver(cfg.Pool.Name, targets, instanceOpts...), nil

	case config.ProviderDocker:
		if api == nil {
			return nil, errors.New("docker provider needs a container API")
		}
		return newDockerResolver(cfg, api, log, events, instanceOpts...)

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Pool.Provider)
	}
}

func newDockerResolver(cfg *config.Config, api pool.ContainerAPI, log *slog.Logger, events metrics.Emitter, instanceOpts ...instance.Option) (*pool.DockerResolver, error) {
	cc := cfg.Pool.Container

	durations, err := cc.Durations()
	if err != nil {
		return nil, err
	}

	return pool.NewDockerResolver(api, pool.DockerOptions{
		Pool:           cfg.Pool.Name,
		Image:          cc.Image,
		Port:           cc.Port,
		Network:        cc.Network,
		HostIP:         cc.HostIP,
		Env:            cc.Env,
		StartupTimeout: durations.StartupTimeout,
	}, log, events, instanceOpts...), nil
}

func newDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return cli, nil
}
