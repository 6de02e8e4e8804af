package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per refresh interval with the tick it runs
// for.
type TickFunc func(ctx context.Context, tick time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
}

// Scheduler drives the refresh cycle. A tick runs to completion before
// the next is scheduled; if execution overruns the interval, the
// elapsed ticks are skipped rather than queued.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function at each interval until ctx is
// cancelled. Tick errors are logged, never fatal.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	// The first tick fires immediately; a negative-duration timer
	// expires at once.
	next := time.Now().UTC()
	for {
		timer := time.NewTimer(time.Until(next))
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		started := next
		if err := tick(ctx, started); err != nil {
			s.logger.Error().Err(err).Time("tick", started).Msg("tick execution failed")
		}

		next = next.Add(s.opts.Interval)
		if time.Until(next) < 0 {
			// The tick overran; drop the elapsed ticks.
			skipped := next
			next = time.Now().UTC().Add(s.opts.Interval)
			s.logger.Warn().Time("skipped_tick", skipped).Msg("tick overran interval, skipping to next")
		}
	}
}
