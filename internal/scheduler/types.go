package scheduler

import (
	"context"
	"time"

	"github.com/livinlefevreloca/powa-collector/internal/policy"
)

// Trigger runs the snapshot procedure. Both calls may be slow and may fail.
type Trigger interface {
	// Connect prepares the session used by later snapshots
	Connect(ctx context.Context) error
	// TakeSnapshot runs one snapshot, synchronously
	TakeSnapshot(ctx context.Context) error
}

// Waiter blocks for at most timeout. It returns early when woken, and
// returns ctx.Err() when the context ends the wait.
type Waiter interface {
	Wait(ctx context.Context, timeout time.Duration) error
}

// Observer is told about everything worth counting
type Observer interface {
	StateChanged(state WorkerState)
	SnapshotCompleted(cycleID string, duration time.Duration, err error)
	Reloaded(p policy.Policy)
}

type nopObserver struct{}

func (nopObserver) StateChanged(WorkerState)                       {}
func (nopObserver) SnapshotCompleted(string, time.Duration, error) {}
func (nopObserver) Reloaded(policy.Policy)                         {}

// WorkerState is the phase the run loop is in
type WorkerState int

const (
	WorkerInitializing WorkerState = iota // Startup, policy not yet evaluated
	WorkerDisabled                        // Snapshots off, waiting for a reload
	WorkerSnapshotting                    // Running the snapshot procedure
	WorkerSleeping                        // Waiting for the next cycle
	WorkerShuttingDown                    // Terminal
)

// AllWorkerStates lists every state, in declaration order
var AllWorkerStates = []WorkerState{
	WorkerInitializing,
	WorkerDisabled,
	WorkerSnapshotting,
	WorkerSleeping,
	WorkerShuttingDown,
}

// String returns a human-readable representation of the worker state
func (s WorkerState) String() string {
	switch s {
	case WorkerInitializing:
		return "init"
	case WorkerDisabled:
		return "disabled"
	case WorkerSnapshotting:
		return "snapshot"
	case WorkerSleeping:
		return "idle"
	case WorkerShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the worker, safe to read from other goroutines
type Status struct {
	State       WorkerState
	Frequency   policy.Frequency
	LastStart   time.Time
	Cycles      int64
	LastCycleID string
	LastError   string
}
