package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/powa-collector/internal/policy"
)

// Worker is the snapshot run loop
type Worker struct {
	// Configuration
	sc     *SchedulerContext
	logger *slog.Logger

	// Collaborators
	reconf   *Reconfigurer
	trigger  Trigger
	waiter   Waiter
	clock    Clock
	observer Observer

	// Published view for other goroutines
	mu     sync.Mutex
	status Status
}

// NewWorker creates a run loop over sc
func NewWorker(sc *SchedulerContext, reconf *Reconfigurer, trigger Trigger, waiter Waiter, clock Clock, logger *slog.Logger) *Worker {
	return &Worker{
		sc:       sc,
		logger:   logger,
		reconf:   reconf,
		trigger:  trigger,
		waiter:   waiter,
		clock:    clock,
		observer: nopObserver{},
		status: Status{
			State:     WorkerInitializing,
			Frequency: sc.Policy.Interval,
		},
	}
}

// SetObserver installs the observer. Must be called before Run.
func (w *Worker) SetObserver(o Observer) {
	w.observer = o
}

// Status returns the last published worker status
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// State returns the current worker state
func (w *Worker) State() WorkerState {
	return w.Status().State
}

// Run executes the loop until ctx is done or a fatal error occurs.
// Cancellation is a clean exit and returns nil; a failed snapshot is fatal
// and is returned so the supervisor can restart the process.
func (w *Worker) Run(ctx context.Context) error {
	w.setState(WorkerInitializing)

	if !w.sc.Policy.Enabled() {
		w.logger.Info("snapshots are deactivated")
		w.setState(WorkerDisabled)

		for {
			w.reconf.DrainPending(w.sc)
			if w.sc.Policy.Enabled() {
				break
			}

			if err := w.waiter.Wait(ctx, policy.DisabledIdle); err != nil {
				return w.shutdown(err)
			}
		}
	}

	// Reference time of the schedule is the moment we become active
	w.sc.State.LastStart = w.clock.Now()

	if err := w.trigger.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return w.shutdown(ctx.Err())
		}
		return w.fail(fmt.Errorf("failed to prepare snapshot session: %w", err))
	}
	w.logger.Info("snapshot worker started", "frequency", w.sc.Policy.Interval)

	for {
		if err := ctx.Err(); err != nil {
			return w.shutdown(err)
		}

		w.reconf.DrainPending(w.sc)

		if w.sc.Policy.Enabled() {
			if err := w.sc.Policy.CheckUsable(); err != nil {
				return w.fail(err)
			}

			if err := w.runCycle(ctx); err != nil {
				if ctx.Err() != nil {
					return w.shutdown(ctx.Err())
				}
				return w.fail(err)
			}
		}

		if err := w.sleep(ctx); err != nil {
			return w.shutdown(err)
		}

		// Move to the ideal start of the next cycle, not to now, so that
		// lateness does not accumulate.
		w.sc.State.Advance(w.sc.Policy, w.clock.Now())
	}
}

// runCycle takes one snapshot
func (w *Worker) runCycle(ctx context.Context) error {
	cycleID := uuid.NewString()
	start := w.clock.Now()

	w.setState(WorkerSnapshotting)
	w.sc.State.fired(start)

	err := w.trigger.TakeSnapshot(ctx)
	duration := w.clock.Now().Sub(start)
	w.observer.SnapshotCompleted(cycleID, duration, err)

	w.mu.Lock()
	w.status.Cycles++
	w.status.LastCycleID = cycleID
	if err != nil {
		w.status.LastError = err.Error()
	} else {
		w.status.LastError = ""
	}
	w.mu.Unlock()

	if err != nil {
		return fmt.Errorf("snapshot %s failed: %w", cycleID, err)
	}

	w.logger.Debug("snapshot complete", "cycle_id", cycleID, "duration", duration)
	return nil
}

// sleep waits until the next cycle is due, applying reloads as they come in
func (w *Worker) sleep(ctx context.Context) error {
	for {
		w.reconf.DrainPending(w.sc)

		if w.sc.Policy.Enabled() {
			w.setState(WorkerSleeping)
		} else {
			w.setState(WorkerDisabled)
		}

		delay := ComputeDelay(&w.sc.State, w.sc.Policy, w.clock.Now())
		if delay <= 0 {
			return nil
		}

		w.logger.Debug("waiting for next snapshot", "delay", delay)
		if err := w.waiter.Wait(ctx, delay); err != nil {
			return err
		}
	}
}

func (w *Worker) setState(state WorkerState) {
	w.mu.Lock()
	changed := w.status.State != state
	w.status.State = state
	w.status.Frequency = w.sc.Policy.Interval
	w.status.LastStart = w.sc.State.LastStart
	w.mu.Unlock()

	if changed || state == WorkerInitializing {
		w.observer.StateChanged(state)
	}
}

// shutdown ends the loop cleanly
func (w *Worker) shutdown(reason error) error {
	w.setState(WorkerShuttingDown)
	w.logger.Info("snapshot worker shutting down", "reason", reason)
	return nil
}

// fail ends the loop on an unrecoverable error
func (w *Worker) fail(err error) error {
	w.setState(WorkerShuttingDown)
	w.logger.Error("snapshot worker terminating", "error", err)
	return err
}
