package scheduler

import (
	"time"

	"github.com/livinlefevreloca/powa-collector/internal/policy"
)

// Clock abstracts time so schedules can be tested without sleeping
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock (with its monotonic reading)
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// State is the reference point of the schedule
type State struct {
	// LastStart is the ideal start of the current cycle. It moves in whole
	// periods, never to the time a cycle actually ran.
	LastStart time.Time

	// ForceImmediate makes the next delay computation return zero. One-shot.
	ForceImmediate bool
}

// SchedulerContext carries everything the run loop mutates. It is owned by
// the worker goroutine and needs no locking.
type SchedulerContext struct {
	Policy policy.Policy
	State  State
}

// NewSchedulerContext builds a context from the startup settings
func NewSchedulerContext(settings Settings) *SchedulerContext {
	return &SchedulerContext{
		Policy: settings.Policy(),
	}
}

// ComputeDelay returns how long to wait before the next cycle is due
func ComputeDelay(s *State, p policy.Policy, now time.Time) time.Duration {
	step := p.Period()

	// Reactivated: fire now, and pretend the previous cycle started one
	// period ago so that the following delays are the usual ones.
	if s.ForceImmediate {
		s.ForceImmediate = false
		s.LastStart = now.Add(-step)
		return 0
	}

	delay := s.LastStart.Add(step).Sub(now)
	if delay < 0 {
		return 0
	}
	return delay
}

// Advance moves the reference to the next cycle once the wait is over
func (s *State) Advance(p policy.Policy, now time.Time) {
	step := p.Period()
	s.LastStart = s.LastStart.Add(step)

	if p.CatchUp == policy.CatchUpCollapse {
		if behind := now.Sub(s.LastStart); behind >= step {
			s.LastStart = s.LastStart.Add(behind / step * step)
		}
	}
}

// fired records that a cycle ran. A pending force is satisfied by it, so a
// reactivation never produces two immediate snapshots.
func (s *State) fired(now time.Time) {
	if s.ForceImmediate {
		s.ForceImmediate = false
		s.LastStart = now
	}
}
