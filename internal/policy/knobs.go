package policy

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultRetention keeps one day of history
	DefaultRetention = 24 * time.Hour

	// DefaultCoalesce is the number of records grouped together by the aggregation
	DefaultCoalesce = 100

	// MinCoalesce is the lowest accepted coalesce batch size
	MinCoalesce = 5
)

// Knobs are the settings the snapshot procedure reads. The worker never
// interprets them, it only forwards them.
type Knobs struct {
	Retention    time.Duration
	Coalesce     int
	IgnoredUsers []string
}

// DefaultKnobs returns the knob defaults
func DefaultKnobs() Knobs {
	return Knobs{
		Retention: DefaultRetention,
		Coalesce:  DefaultCoalesce,
	}
}

// Validate checks the knob ranges
func (k Knobs) Validate() error {
	if k.Retention < 0 {
		return fmt.Errorf("retention must not be negative, got %v", k.Retention)
	}
	if k.Coalesce < MinCoalesce {
		return fmt.Errorf("coalesce must be at least %d, got %d", MinCoalesce, k.Coalesce)
	}
	return nil
}

// RetentionMinutes returns the retention truncated to whole minutes
func (k Knobs) RetentionMinutes() int {
	return int(k.Retention / time.Minute)
}

// IgnoredUsersList returns the ignored users as a comma-separated list
func (k Knobs) IgnoredUsersList() string {
	return strings.Join(k.IgnoredUsers, ",")
}
