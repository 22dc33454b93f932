package scheduler

import (
	"testing"
	"time"

	"github.com/livinlefevreloca/powa-collector/internal/policy"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testPolicy(interval policy.Frequency) policy.Policy {
	p := policy.Default()
	p.Interval = interval
	return p
}

// =============================================================================
// ComputeDelay Tests
// =============================================================================

// TestComputeDelay_FullIntervalAtStart verifies that a fresh reference yields a full interval.
func TestComputeDelay_FullIntervalAtStart(t *testing.T) {
	for _, interval := range []policy.Frequency{policy.DefaultMinFrequency, 60000, policy.DefaultFrequency} {
		p := testPolicy(interval)
		s := &State{LastStart: t0}

		if got := ComputeDelay(s, p, t0); got != interval.Duration() {
			t.Errorf("interval %v: expected delay %v at t0, got %v", interval, interval.Duration(), got)
		}

		if got := ComputeDelay(s, p, t0.Add(interval.Duration())); got != 0 {
			t.Errorf("interval %v: expected zero delay at t0+I, got %v", interval, got)
		}
	}
}

// TestComputeDelay_NeverNegative verifies that an overdue cycle reports zero, not a negative delay.
func TestComputeDelay_NeverNegative(t *testing.T) {
	p := testPolicy(policy.DefaultMinFrequency)
	s := &State{LastStart: t0}

	if got := ComputeDelay(s, p, t0.Add(time.Hour)); got != 0 {
		t.Errorf("expected zero delay when overdue, got %v", got)
	}
}

// TestComputeDelay_Partial verifies the remaining time mid-interval.
func TestComputeDelay_Partial(t *testing.T) {
	p := testPolicy(60000)
	s := &State{LastStart: t0}

	if got := ComputeDelay(s, p, t0.Add(25*time.Second)); got != 35*time.Second {
		t.Errorf("expected 35s, got %v", got)
	}
}

// TestComputeDelay_Disabled verifies the long idle delay while snapshots are off.
func TestComputeDelay_Disabled(t *testing.T) {
	p := testPolicy(policy.Disabled)
	s := &State{LastStart: t0}

	if got := ComputeDelay(s, p, t0); got != policy.DisabledIdle {
		t.Errorf("expected %v while disabled, got %v", policy.DisabledIdle, got)
	}
}

// TestComputeDelay_ForceImmediate verifies the one-shot reactivation behaviour.
func TestComputeDelay_ForceImmediate(t *testing.T) {
	p := testPolicy(60000)
	s := &State{LastStart: t0, ForceImmediate: true}
	now := t0.Add(17 * time.Second)

	if got := ComputeDelay(s, p, now); got != 0 {
		t.Fatalf("expected immediate fire, got %v", got)
	}

	if s.ForceImmediate {
		t.Error("expected force flag to be consumed")
	}

	if want := now.Add(-time.Minute); !s.LastStart.Equal(want) {
		t.Errorf("expected LastStart %v, got %v", want, s.LastStart)
	}

	// Without advancing, the next call still sees the cycle as due, but
	// only because of the rewound reference, not the flag.
	s.Advance(p, now)
	if got := ComputeDelay(s, p, now); got != time.Minute {
		t.Errorf("expected a full interval after the forced cycle, got %v", got)
	}
}

// =============================================================================
// Advance Tests
// =============================================================================

// TestAdvance_NoDrift verifies that N on-time cycles land exactly on t0 + N*I.
func TestAdvance_NoDrift(t *testing.T) {
	p := testPolicy(policy.DefaultMinFrequency)
	s := &State{LastStart: t0}
	now := t0

	const cycles = 1000
	for i := 0; i < cycles; i++ {
		// Some execution jitter inside each cycle
		now = now.Add(time.Duration(i%7) * time.Millisecond)

		delay := ComputeDelay(s, p, now)
		now = now.Add(delay)
		s.Advance(p, now)
	}

	want := t0.Add(cycles * p.Period())
	if !s.LastStart.Equal(want) {
		t.Errorf("expected LastStart %v after %d cycles, got %v (drift %v)",
			want, cycles, s.LastStart, s.LastStart.Sub(want))
	}
}

// TestAdvance_Replay verifies that overruns are recovered one interval at a time.
func TestAdvance_Replay(t *testing.T) {
	p := testPolicy(60000)
	s := &State{LastStart: t0}
	now := t0.Add(210 * time.Second) // snapshot took 3.5 intervals

	s.Advance(p, now)
	if want := t0.Add(time.Minute); !s.LastStart.Equal(want) {
		t.Errorf("expected LastStart %v, got %v", want, s.LastStart)
	}

	if got := ComputeDelay(s, p, now); got != 0 {
		t.Errorf("expected next cycle to be due immediately, got %v", got)
	}
}

// TestAdvance_Collapse verifies that collapse mode leaves a single overdue cycle.
func TestAdvance_Collapse(t *testing.T) {
	p := testPolicy(60000)
	p.CatchUp = policy.CatchUpCollapse
	s := &State{LastStart: t0}
	now := t0.Add(210 * time.Second)

	s.Advance(p, now)
	if want := t0.Add(3 * time.Minute); !s.LastStart.Equal(want) {
		t.Fatalf("expected LastStart %v, got %v", want, s.LastStart)
	}

	// The cycle fired at 3m30s is followed by a normal, phase-aligned wait
	if got := ComputeDelay(s, p, now); got != 30*time.Second {
		t.Errorf("expected 30s until the next aligned cycle, got %v", got)
	}
}

// TestAdvance_CollapseOnTime verifies that collapse mode behaves like replay without overrun.
func TestAdvance_CollapseOnTime(t *testing.T) {
	p := testPolicy(60000)
	p.CatchUp = policy.CatchUpCollapse
	s := &State{LastStart: t0}

	s.Advance(p, t0.Add(time.Minute))
	if want := t0.Add(time.Minute); !s.LastStart.Equal(want) {
		t.Errorf("expected LastStart %v, got %v", want, s.LastStart)
	}
}

// TestFired_ConsumesForce verifies that a cycle satisfies a pending force.
func TestFired_ConsumesForce(t *testing.T) {
	s := &State{LastStart: t0, ForceImmediate: true}
	now := t0.Add(42 * time.Minute)

	s.fired(now)
	if s.ForceImmediate {
		t.Error("expected force flag to be consumed by the cycle")
	}
	if !s.LastStart.Equal(now) {
		t.Errorf("expected LastStart to move to the forced cycle, got %v", s.LastStart)
	}

	// Without a pending force, firing leaves the reference alone
	s.fired(now.Add(time.Hour))
	if !s.LastStart.Equal(now) {
		t.Errorf("expected LastStart unchanged, got %v", s.LastStart)
	}
}
