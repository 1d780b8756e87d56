package dispatcher

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/angeloszaimis/edge-router/internal/metrics"
)

var ErrInvalidPoolSize = errors.New("pool size must be at least 1")

const (
	DefaultPoolSize      = 3
	DefaultRootMessage   = "Blackjack Cloudflare Container Worker"
	DefaultForwardPrefix = "/game"
)

type Option func(*Dispatcher) error

func WithPoolSize(n int) Option {
	return func(d *Dispatcher) error {
		if n < 1 {
			return fmt.Errorf("%w: got %d", ErrInvalidPoolSize, n)
		}
		d.poolSize = n
		return nil
	}
}

func WithRootMessage(msg string) Option {
	return func(d *Dispatcher) error {
		d.rootMessage = msg
		return nil
	}
}

// WithForwardPrefix sets the path prefix that is proxied to the pool. It
// must start with "/" and be longer than "/" so the root route stays
// reachable.
func WithForwardPrefix(prefix string) Option {
	return func(d *Dispatcher) error {
		if !strings.HasPrefix(prefix, "/") || prefix == "/" {
			return fmt.Errorf("invalid forward prefix %q", prefix)
		}
		d.forwardPrefix = prefix
		return nil
	}
}

// WithCollector attaches a metrics sink. Events are best effort and never
// change a response.
func WithCollector(events metrics.Emitter) Option {
	return func(d *Dispatcher) error {
		d.events = events
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) error {
		if logger == nil {
			return errors.New("logger is nil")
		}
		d.logger = logger
		return nil
	}
}
