package latch

import (
	"context"
	"log/slog"
	"time"
)

// Latch is a wake-up flag a blocked goroutine can wait on with a timeout.
// Setting an already set latch is a no-op, so bursts of wake-ups coalesce
// into a single wake.
type Latch struct {
	ch     chan struct{}
	logger *slog.Logger
}

// New creates an unset latch
func New(logger *slog.Logger) *Latch {
	return &Latch{
		ch:     make(chan struct{}, 1),
		logger: logger,
	}
}

// Set wakes the waiter, or the next call to Wait if nobody is waiting.
// It never blocks and is safe to call from any goroutine.
func (l *Latch) Set() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the latch is set, the timeout expires or ctx is done.
// A wake-up consumed by Wait resets the latch. The error is ctx.Err() when
// the context ended the wait, nil otherwise.
func (l *Latch) Wait(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ch:
		l.logger.Debug("latch woken", "timeout", timeout)
		return nil
	case <-timer.C:
		return nil
	}
}
