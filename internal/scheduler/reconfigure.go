package scheduler

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/livinlefevreloca/powa-collector/internal/policy"
)

// Settings is what a configuration reload produces
type Settings struct {
	Frequency    policy.Frequency
	MinFrequency policy.Frequency
	Validation   policy.Validation
	CatchUp      policy.CatchUp
	Knobs        policy.Knobs
	Debug        bool
}

// Policy builds the frequency policy described by the settings, without validation
func (s Settings) Policy() policy.Policy {
	return policy.Policy{
		Interval:    s.Frequency,
		MinInterval: s.MinFrequency,
		Validation:  s.Validation,
		CatchUp:     s.CatchUp,
	}
}

// ConfigSource reloads the configuration on demand
type ConfigSource interface {
	Load() (Settings, error)
}

// Waker is woken when a reload is requested
type Waker interface {
	Set()
}

// Reconfigurer turns asynchronous reload requests into policy changes applied
// on the worker goroutine.
type Reconfigurer struct {
	pending atomic.Bool
	waker   Waker
	source  ConfigSource
	logger  *slog.Logger

	mu        sync.Mutex
	listeners []func(Settings)
	observer  Observer
}

// NewReconfigurer creates a controller reading from source and waking waker
func NewReconfigurer(source ConfigSource, waker Waker, logger *slog.Logger) *Reconfigurer {
	return &Reconfigurer{
		waker:    waker,
		source:   source,
		logger:   logger,
		observer: nopObserver{},
	}
}

// OnReload registers fn to receive the settings after each reload
func (r *Reconfigurer) OnReload(fn func(Settings)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// SetObserver installs the observer notified on each reload
func (r *Reconfigurer) SetObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

// Notify requests a reload. It only raises a flag and wakes the worker, so
// it is safe to call from a signal-handling goroutine. Repeated calls before
// the next drain collapse into a single reload.
func (r *Reconfigurer) Notify() {
	r.pending.Store(true)
	r.waker.Set()
}

// DrainPending applies a pending reload to sc. It is a no-op when nothing is
// pending, and reports whether a reload was processed.
func (r *Reconfigurer) DrainPending(sc *SchedulerContext) bool {
	if !r.pending.Swap(false) {
		return false
	}

	oldInterval := sc.Policy.Interval

	settings, err := r.source.Load()
	if err != nil {
		r.logger.Error("configuration reload failed, keeping previous settings", "error", err)
		return true
	}

	// The floor, mode and interval are judged together: in reject mode the
	// running policy must stay usable, so a rejected reload keeps all of it.
	next := settings.Policy()
	if next.Validation == policy.ValidationReject {
		if err := next.CheckUsable(); err != nil {
			r.logger.Warn("ignoring invalid frequency",
				"error", err,
				"frequency", settings.Frequency,
				"min_frequency", settings.MinFrequency,
				"kept", sc.Policy.Interval,
				"kept_min_frequency", sc.Policy.MinInterval)
			next = sc.Policy
		}
	}
	sc.Policy = next

	newInterval := sc.Policy.Interval
	switch {
	case oldInterval == policy.Disabled && newInterval != policy.Disabled:
		r.logger.Info("snapshots are activated", "frequency", newInterval)
		sc.State.ForceImmediate = true
	case oldInterval != policy.Disabled && newInterval == policy.Disabled:
		r.logger.Info("snapshots are deactivated")
	}

	r.logger.Debug("configuration reloaded",
		"frequency", newInterval,
		"min_frequency", next.MinInterval,
		"validation", next.Validation.String(),
		"catch_up", next.CatchUp.String())

	r.mu.Lock()
	listeners := append([]func(Settings){}, r.listeners...)
	observer := r.observer
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(settings)
	}
	observer.Reloaded(sc.Policy)

	return true
}
