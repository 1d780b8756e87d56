package pool

import (
	"context"
	"log/slog"
	"time"

	"github.com/angeloszaimis/edge-router/internal/instance"
)

// Sleeper is a resolver whose instances can be put to sleep.
type Sleeper interface {
	Instances() []*instance.Instance
	Sleep(ctx context.Context, inst *instance.Instance) error
}

// Reap puts instances to sleep once they have been idle for at least idle,
// checking every interval until ctx is done.
func Reap(
	ctx context.Context,
	sleeper Sleeper,
	idle time.Duration,
	interval time.Duration,
	logger *slog.Logger,
) {
	if interval <= 0 {
		logger.Warn("Idle reaper disabled", slog.Duration("interval", interval))
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Idle reaper stopped")
			return

		case now := <-ticker.C:
			Sweep(ctx, sleeper, idle, now, logger)
		}
	}
}

// Sweep runs one reaper pass at now and returns how many instances were
// put to sleep.
func Sweep(ctx context.Context, sleeper Sleeper, idle time.Duration, now time.Time, logger *slog.Logger) int {
	slept := 0

	for _, inst := range sleeper.Instances() {
		idleFor := inst.IdleFor(now)
		if idleFor < idle {
			continue
		}

		if err := sleeper.Sleep(ctx, inst); err != nil {
			logger.Warn("Failed to put instance to sleep",
				slog.String("instance", inst.Name()),
				slog.Any("err", err))
			continue
		}

		slept++
		logger.Info("Instance is asleep",
			slog.String("instance", inst.Name()),
			slog.Duration("idle", idleFor))
	}

	return slept
}
