package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"
)

// DefaultPollInterval is how often the parent process is checked
const DefaultPollInterval = time.Second

// ErrParentExited is the cancellation cause when the supervisor goes away
var ErrParentExited = errors.New("supervisor: parent process exited")

// Watcher cancels a context when the process is reparented, which is how an
// orphaned worker notices that its supervisor died.
type Watcher struct {
	interval time.Duration
	logger   *slog.Logger
	getppid  func() int
}

// NewWatcher creates a watcher polling every interval
func NewWatcher(interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		interval: interval,
		logger:   logger,
		getppid:  os.Getppid,
	}
}

// Watch returns a context that is cancelled with ErrParentExited once the
// parent pid changes, or when parent is done. The returned cancel function
// releases the watcher.
func (w *Watcher) Watch(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	original := w.getppid()

	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ppid := w.getppid(); ppid != original {
					w.logger.Warn("supervisor exited, shutting down",
						"original_ppid", original,
						"ppid", ppid)
					cancel(ErrParentExited)
					return
				}
			}
		}
	}()

	return ctx, func() { cancel(context.Canceled) }
}
