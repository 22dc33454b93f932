package testutil

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockClock provides controllable time for testing
type MockClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{
		current: start,
	}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

// FakeWaiter stands in for the latch: instead of sleeping it advances a
// MockClock by the requested timeout, so schedules run instantly. A wait
// that finds the fake set returns without advancing the clock, like a latch
// woken before its timeout. A hook can be installed to inject reloads or
// cancellations mid-sleep.
type FakeWaiter struct {
	mu     sync.Mutex
	clock  *MockClock
	set    bool
	waits  []time.Duration
	wakes  int
	onWait func(n int, timeout time.Duration)
}

func NewFakeWaiter(clock *MockClock) *FakeWaiter {
	return &FakeWaiter{clock: clock}
}

// OnWait installs a hook called at the start of each wait with the wait
// index (starting at 1) and the requested timeout.
func (w *FakeWaiter) OnWait(fn func(n int, timeout time.Duration)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onWait = fn
}

// Set wakes the next wait
func (w *FakeWaiter) Set() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.set = true
}

func (w *FakeWaiter) Wait(ctx context.Context, timeout time.Duration) error {
	w.mu.Lock()
	w.waits = append(w.waits, timeout)
	n := len(w.waits)
	hook := w.onWait
	w.mu.Unlock()

	if hook != nil {
		hook(n, timeout)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	woken := w.set
	w.set = false
	if woken {
		w.wakes++
	}
	w.mu.Unlock()

	if !woken {
		w.clock.Advance(timeout)
	}
	return nil
}

// Wakes returns how many waits ended early
func (w *FakeWaiter) Wakes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wakes
}

func (w *FakeWaiter) Waits() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	result := make([]time.Duration, len(w.waits))
	copy(result, w.waits)
	return result
}

// ErrSimulatedFailure is returned by mocks configured to fail
var ErrSimulatedFailure = errors.New("simulated failure")

// MockTrigger records snapshot invocations. Each snapshot can optionally
// take simulated time on a MockClock.
type MockTrigger struct {
	mu           sync.Mutex
	clock        *MockClock
	connects     int
	snapshots    []time.Time
	duration     time.Duration
	connectError error
	failAfter    int // fail the snapshot once this many have succeeded, 0 = never
	onSnapshot   func(n int)
}

func NewMockTrigger(clock *MockClock) *MockTrigger {
	return &MockTrigger{clock: clock}
}

// SetDuration makes every snapshot advance the clock by d
func (m *MockTrigger) SetDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duration = d
}

func (m *MockTrigger) SetConnectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectError = err
}

// FailAfter makes the snapshot following the n-th successful one fail
func (m *MockTrigger) FailAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
}

// OnSnapshot installs a hook called after each recorded snapshot
func (m *MockTrigger) OnSnapshot(fn func(n int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSnapshot = fn
}

func (m *MockTrigger) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	return m.connectError
}

func (m *MockTrigger) TakeSnapshot(ctx context.Context) error {
	m.mu.Lock()
	if m.failAfter > 0 && len(m.snapshots) >= m.failAfter {
		m.mu.Unlock()
		return ErrSimulatedFailure
	}
	m.snapshots = append(m.snapshots, m.clock.Now())
	n := len(m.snapshots)
	d := m.duration
	hook := m.onSnapshot
	m.mu.Unlock()

	if d > 0 {
		m.clock.Advance(d)
	}
	if hook != nil {
		hook(n)
	}
	return nil
}

func (m *MockTrigger) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Snapshots returns the clock reading at the start of each snapshot
func (m *MockTrigger) Snapshots() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]time.Time, len(m.snapshots))
	copy(result, m.snapshots)
	return result
}

func (m *MockTrigger) CountSnapshots() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

// WaitFor waits for a condition to be true with timeout
func WaitFor(t TestingT, condition func() bool, timeout time.Duration, msgAndArgs ...interface{}) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}

		<-ticker.C
		if time.Now().After(deadline) {
			t.Errorf("timeout waiting for condition: %v", msgAndArgs)
			return false
		}
	}
}

// TestingT is a minimal interface for testing
type TestingT interface {
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}
