package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestRunInvokesTicks(t *testing.T) {
	s := New(Options{Interval: 20 * time.Millisecond}, noopLogger())

	var ticks atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, func(ctx context.Context, tick time.Time) error {
		ticks.Add(1)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if got := ticks.Load(); got < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", got)
	}
}

func TestRunFirstTickImmediate(t *testing.T) {
	s := New(Options{Interval: time.Hour}, noopLogger())

	start := time.Now()
	var first time.Time
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Run(ctx, func(ctx context.Context, tick time.Time) error {
		first = time.Now()
		cancel()
		return nil
	})

	if first.IsZero() {
		t.Fatal("first tick never ran")
	}
	if elapsed := first.Sub(start); elapsed > time.Second {
		t.Fatalf("first tick must not wait out the interval, took %v", elapsed)
	}
}

func TestRunTickErrorsAreNotFatal(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, noopLogger())

	var ticks atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	s.Run(ctx, func(ctx context.Context, tick time.Time) error {
		ticks.Add(1)
		return errors.New("boom")
	})
	if got := ticks.Load(); got < 2 {
		t.Fatalf("failing ticks must not stop the loop, got %d ticks", got)
	}
}

func TestRunSkipsOverrunTicks(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond}, noopLogger())

	var ticks []time.Time
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Run(ctx, func(ctx context.Context, tick time.Time) error {
		ticks = append(ticks, tick)
		if len(ticks) == 1 {
			// Overrun several intervals; elapsed ticks must be
			// skipped, not replayed back to back.
			time.Sleep(45 * time.Millisecond)
		}
		if len(ticks) >= 3 {
			cancel()
		}
		return nil
	})

	if len(ticks) < 3 {
		t.Fatalf("expected 3 ticks, got %d", len(ticks))
	}
	gap := ticks[1].Sub(ticks[0])
	if gap < 45*time.Millisecond {
		t.Fatalf("overrun ticks must be skipped, got gap %v", gap)
	}
}

func TestRunHonoursStartupDelay(t *testing.T) {
	s := New(Options{Interval: 10 * time.Millisecond, StartupDelay: 60 * time.Millisecond}, noopLogger())

	start := time.Now()
	var first time.Time
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Run(ctx, func(ctx context.Context, tick time.Time) error {
		first = time.Now()
		cancel()
		return nil
	})

	if first.Sub(start) < 60*time.Millisecond {
		t.Fatalf("first tick ran before the startup delay elapsed: %v", first.Sub(start))
	}
}

func TestNewPanicsOnNonPositiveInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-positive interval")
		}
	}()
	New(Options{Interval: 0}, noopLogger())
}
