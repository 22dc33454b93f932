package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/livinlefevreloca/powa-collector/internal/policy"
)

const (
	// DefaultSnapshotQuery runs the PoWA aggregation procedure
	DefaultSnapshotQuery = "SELECT public.powa_take_snapshot()"

	// DefaultApplicationName is how the collector session shows up in pg_stat_activity
	DefaultApplicationName = "PoWA - collector"
)

// SnapshotConfig holds snapshot session settings
type SnapshotConfig struct {
	Query           string `toml:"query"`
	ApplicationName string `toml:"application_name"`

	// ApplySettings pushes retention, coalesce and ignored users to the
	// snapshot procedure as transaction-local settings
	ApplySettings bool `toml:"apply_settings"`
}

// DefaultSnapshotConfig returns the default snapshot session settings
func DefaultSnapshotConfig() SnapshotConfig {
	return SnapshotConfig{
		Query:           DefaultSnapshotQuery,
		ApplicationName: DefaultApplicationName,
		ApplySettings:   true,
	}
}

// Snapshotter runs the snapshot procedure on a dedicated session
type Snapshotter struct {
	db     *DB
	config SnapshotConfig
	logger *slog.Logger

	mu    sync.Mutex
	conn  *sql.Conn
	knobs policy.Knobs
}

// NewSnapshotter creates a snapshotter over database
func NewSnapshotter(database *DB, config SnapshotConfig, logger *slog.Logger) *Snapshotter {
	if config.Query == "" {
		config.Query = DefaultSnapshotQuery
	}
	if config.ApplicationName == "" {
		config.ApplicationName = DefaultApplicationName
	}

	return &Snapshotter{
		db:     database,
		config: config,
		logger: logger,
		knobs:  policy.DefaultKnobs(),
	}
}

// SetKnobs replaces the settings pushed with the next snapshot
func (s *Snapshotter) SetKnobs(knobs policy.Knobs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knobs = knobs
}

// Knobs returns the settings pushed with each snapshot
func (s *Snapshotter) Knobs() policy.Knobs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.knobs
}

// Connect reserves the session used by every snapshot and tags it
func (s *Snapshotter) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to reserve connection: %w", err)
	}

	if s.db.IsPostgres() {
		if err := setApplicationName(ctx, conn, s.config.ApplicationName); err != nil {
			conn.Close()
			return fmt.Errorf("failed to set application name: %w", err)
		}
	}

	s.conn = conn
	s.logger.Debug("snapshot session ready", "driver", s.db.Driver())
	return nil
}

// TakeSnapshot runs the snapshot procedure in its own transaction
func (s *Snapshotter) TakeSnapshot(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	knobs := s.knobs
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	err := withTransaction(ctx, conn, s.db.driver, func(tx *Tx) error {
		if s.config.ApplySettings && s.db.IsPostgres() {
			if err := pushKnobs(ctx, tx, knobs); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, s.config.Query); err != nil {
			return fmt.Errorf("snapshot query failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// The procedure renames the session while it runs
	if s.db.IsPostgres() {
		if err := setApplicationName(ctx, conn, s.config.ApplicationName); err != nil {
			return fmt.Errorf("failed to restore application name: %w", err)
		}
	}

	return nil
}

// pushKnobs sets the snapshot settings for the current transaction only
func pushKnobs(ctx context.Context, tx *Tx, knobs policy.Knobs) error {
	settings := []struct {
		name  string
		value string
	}{
		{"powa.retention", strconv.Itoa(knobs.RetentionMinutes()) + "min"},
		{"powa.coalesce", strconv.Itoa(knobs.Coalesce)},
		{"powa.ignored_users", knobs.IgnoredUsersList()},
	}

	for _, setting := range settings {
		if _, err := tx.ExecContext(ctx, tx.Rebind("SELECT set_config(?, ?, true)"), setting.name, setting.value); err != nil {
			return fmt.Errorf("failed to apply %s: %w", setting.name, err)
		}
	}
	return nil
}

// Close releases the snapshot session
func (s *Snapshotter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
