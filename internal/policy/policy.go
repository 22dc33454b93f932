package policy

import (
	"errors"
	"fmt"
	"time"
)

// Frequency is a snapshot interval expressed in milliseconds
type Frequency int

const (
	// Disabled turns periodic snapshots off
	Disabled Frequency = -1

	// DefaultFrequency is five minutes between two snapshots
	DefaultFrequency Frequency = 300000

	// DefaultMinFrequency is the lowest accepted interval
	DefaultMinFrequency Frequency = 5000

	// DisabledIdle is how long the worker sleeps while snapshots are off.
	// Reactivation always arrives through a reload, which wakes the sleep.
	DisabledIdle = time.Hour
)

// ErrFrequencyTooLow is returned when an enabled interval is below the floor
var ErrFrequencyTooLow = errors.New("policy: frequency below minimum")

// Duration converts the frequency to a time.Duration
func (f Frequency) Duration() time.Duration {
	return time.Duration(f) * time.Millisecond
}

// String returns a human-readable representation of the frequency
func (f Frequency) String() string {
	if f == Disabled {
		return "disabled"
	}
	return f.Duration().String()
}

// Validation selects when an interval below the floor is caught
type Validation int

const (
	// ValidationReject refuses the value when it is set or reloaded
	ValidationReject Validation = iota
	// ValidationFatal accepts the value and stops the worker on first use
	ValidationFatal
)

// String returns the configuration spelling of the validation mode
func (v Validation) String() string {
	switch v {
	case ValidationReject:
		return "reject"
	case ValidationFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ParseValidation parses "reject" or "fatal"
func ParseValidation(s string) (Validation, error) {
	switch s {
	case "", "reject":
		return ValidationReject, nil
	case "fatal":
		return ValidationFatal, nil
	default:
		return 0, fmt.Errorf("invalid frequency validation mode: %s (must be reject or fatal)", s)
	}
}

// CatchUp selects how the schedule recovers after a snapshot overran several intervals
type CatchUp int

const (
	// CatchUpReplay advances one interval per cycle, so missed cycles run back to back
	CatchUpReplay CatchUp = iota
	// CatchUpCollapse skips whole missed intervals, leaving a single immediate cycle
	CatchUpCollapse
)

// String returns the configuration spelling of the catch-up mode
func (c CatchUp) String() string {
	switch c {
	case CatchUpReplay:
		return "replay"
	case CatchUpCollapse:
		return "collapse"
	default:
		return "unknown"
	}
}

// ParseCatchUp parses "replay" or "collapse"
func ParseCatchUp(s string) (CatchUp, error) {
	switch s {
	case "", "replay":
		return CatchUpReplay, nil
	case "collapse":
		return CatchUpCollapse, nil
	default:
		return 0, fmt.Errorf("invalid catch_up mode: %s (must be replay or collapse)", s)
	}
}

// Policy holds the configured snapshot interval and the rules applied to it
type Policy struct {
	Interval    Frequency
	MinInterval Frequency
	Validation  Validation
	CatchUp     CatchUp
}

// Default returns a policy with a five minute interval
func Default() Policy {
	return Policy{
		Interval:    DefaultFrequency,
		MinInterval: DefaultMinFrequency,
		Validation:  ValidationReject,
		CatchUp:     CatchUpReplay,
	}
}

// Validate reports whether candidate is an acceptable interval
func (p Policy) Validate(candidate Frequency) bool {
	return candidate == Disabled || candidate >= p.MinInterval
}

// Enabled reports whether periodic snapshots are on
func (p Policy) Enabled() bool {
	return p.Interval != Disabled
}

// Period returns the scheduling step. While disabled this is DisabledIdle.
func (p Policy) Period() time.Duration {
	if !p.Enabled() {
		return DisabledIdle
	}
	return p.Interval.Duration()
}

// CheckUsable returns ErrFrequencyTooLow if the current interval may not be used
func (p Policy) CheckUsable() error {
	if !p.Validate(p.Interval) {
		return fmt.Errorf("%w: %d ms (minimum %d ms)", ErrFrequencyTooLow, p.Interval, p.MinInterval)
	}
	return nil
}
