package stats

import (
	"context"
	"fmt"
)

// CounterCache memoizes the counters of the current namespace. The current
// namespace is ambient state: readers fetch whatever namespace the cache is
// pointed at, and WithNamespace repoints it for the duration of a call.
//
// CounterCache is not safe for concurrent use. Exporter serializes access.
type CounterCache struct {
	source  CounterSource
	current Namespace

	snapshot *NamespaceCounters
	valid    bool
}

// NewCounterCache creates a cache over source, initially pointed at home
func NewCounterCache(source CounterSource, home Namespace) *CounterCache {
	return &CounterCache{
		source:  source,
		current: home,
	}
}

// Invalidate drops the memoized snapshot so the next Fetch reads the source
func (c *CounterCache) Invalidate() {
	c.snapshot = nil
	c.valid = false
}

// Fetch returns the counters of the current namespace, reading the source
// only when nothing valid is memoized. A nil result means the namespace has
// no recorded entries.
func (c *CounterCache) Fetch(ctx context.Context) (*NamespaceCounters, error) {
	if c.valid {
		return c.snapshot, nil
	}

	counters, err := c.source.FetchNamespace(ctx, c.current)
	if err != nil {
		return nil, fmt.Errorf("failed to read counters of namespace %d: %w", c.current, err)
	}

	c.snapshot = counters
	c.valid = true
	return counters, nil
}

// WithNamespace points the cache at ns while fn runs. The previous namespace
// is restored on every exit path, including a panic in fn.
func (c *CounterCache) WithNamespace(ns Namespace, fn func() error) error {
	prev := c.current
	c.current = ns
	defer func() {
		c.current = prev
	}()

	return fn()
}
