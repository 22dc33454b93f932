package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/lib/pq"
)

// Statistics views are local to the database a session is connected to, so
// on PostgreSQL reading another database's counters means connecting to it.
// SQLite holds every namespace in one file, keyed by datid.
const (
	// Every function with a stats entry, catalog functions included
	pgFunctionsQuery = `
		SELECT p.oid,
			pg_stat_get_function_calls(p.oid),
			pg_stat_get_function_total_time(p.oid),
			pg_stat_get_function_self_time(p.oid)
		FROM pg_proc p
		WHERE pg_stat_get_function_calls(p.oid) IS NOT NULL`

	// Tables and indexes share the per-relation counters
	pgRelationsQuery = `
		SELECT relid,
			pg_stat_get_numscans(relid),
			pg_stat_get_tuples_returned(relid),
			pg_stat_get_tuples_fetched(relid),
			pg_stat_get_tuples_inserted(relid),
			pg_stat_get_tuples_updated(relid),
			pg_stat_get_tuples_deleted(relid),
			pg_stat_get_tuples_hot_updated(relid),
			pg_stat_get_live_tuples(relid),
			pg_stat_get_dead_tuples(relid),
			pg_stat_get_mod_since_analyze(relid),
			pg_stat_get_blocks_fetched(relid),
			pg_stat_get_blocks_hit(relid),
			pg_stat_get_last_vacuum_time(relid),
			pg_stat_get_vacuum_count(relid),
			pg_stat_get_last_autovacuum_time(relid),
			pg_stat_get_autovacuum_count(relid),
			pg_stat_get_last_analyze_time(relid),
			pg_stat_get_analyze_count(relid),
			pg_stat_get_last_autoanalyze_time(relid),
			pg_stat_get_autoanalyze_count(relid)
		FROM (
			SELECT relid FROM pg_stat_all_tables
			UNION ALL
			SELECT indexrelid FROM pg_stat_all_indexes
		) AS rel`

	localFunctionsQuery = `
		SELECT funcid, calls, total_time, self_time
		FROM stat_user_functions
		WHERE datid = ?`

	localRelationsQuery = `
		SELECT relid, numscan, tup_returned, tup_fetched,
			n_tup_ins, n_tup_upd, n_tup_del, n_tup_hot_upd,
			n_live_tup, n_dead_tup, n_mod_since_analyze,
			blks_fetched, blks_hit,
			last_vacuum, vacuum_count, last_autovacuum, autovacuum_count,
			last_analyze, analyze_count, last_autoanalyze, autoanalyze_count
		FROM stat_all_tables
		WHERE datid = ?
		UNION ALL
		SELECT indexrelid, idx_scan, idx_tup_read, idx_tup_fetch,
			0, 0, 0, 0,
			0, 0, 0,
			blks_fetched, blks_hit,
			NULL, 0, NULL, 0,
			NULL, 0, NULL, 0
		FROM stat_all_indexes
		WHERE datid = ?`
)

// CounterReader reads per-database statistics
type CounterReader struct {
	db     *DB
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*sql.DB
}

// NewCounterReader creates a reader over database
func NewCounterReader(database *DB, logger *slog.Logger) *CounterReader {
	return &CounterReader{
		db:     database,
		logger: logger,
		conns:  make(map[string]*sql.DB),
	}
}

// CurrentDatabase returns the oid of the database the main connection is
// attached to. It is 0 on SQLite.
func (r *CounterReader) CurrentDatabase(ctx context.Context) (uint32, error) {
	if !r.db.IsPostgres() {
		return 0, nil
	}

	var oid int64
	err := r.db.QueryRowContext(ctx,
		"SELECT oid FROM pg_database WHERE datname = current_database()").Scan(&oid)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve current database: %w", err)
	}
	return uint32(oid), nil
}

// DatabaseName resolves a database oid. Returns ErrNotFound when no such
// database exists.
func (r *CounterReader) DatabaseName(ctx context.Context, oid uint32) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx,
		r.db.Rebind("SELECT datname FROM pg_database WHERE oid = ?"), int64(oid)).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up database %d: %w", oid, err)
	}
	return name, nil
}

// ReadNamespace reads all counters recorded for the database oid. A
// database that does not exist yields nil and no error.
func (r *CounterReader) ReadNamespace(ctx context.Context, oid uint32) (*NamespaceStats, error) {
	name, err := r.DatabaseName(ctx, oid)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	conn, err := r.connFor(name)
	if err != nil {
		return nil, err
	}

	var functionsQuery, relationsQuery string
	var functionArgs, relationArgs []any
	if r.db.IsPostgres() {
		functionsQuery, relationsQuery = pgFunctionsQuery, pgRelationsQuery

		// Drop the backend's statistics snapshot so we see current values
		if _, err := conn.ExecContext(ctx, "SELECT pg_stat_clear_snapshot()"); err != nil {
			return nil, fmt.Errorf("failed to clear statistics snapshot: %w", err)
		}
	} else {
		functionsQuery, relationsQuery = localFunctionsQuery, localRelationsQuery
		functionArgs = []any{int64(oid)}
		relationArgs = []any{int64(oid), int64(oid)}
	}

	stats := &NamespaceStats{
		OID:      oid,
		Database: name,
	}

	stats.Functions, err = readFunctions(ctx, conn, functionsQuery, functionArgs)
	if err != nil {
		return nil, fmt.Errorf("failed to read function statistics of %s: %w", name, err)
	}

	stats.Relations, err = readRelations(ctx, conn, relationsQuery, relationArgs)
	if err != nil {
		return nil, fmt.Errorf("failed to read relation statistics of %s: %w", name, err)
	}

	return stats, nil
}

func readFunctions(ctx context.Context, conn *sql.DB, query string, args []any) ([]FunctionStatRow, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []FunctionStatRow
	for rows.Next() {
		var f FunctionStatRow
		if err := rows.Scan(&f.FuncID, &f.Calls, &f.TotalTime, &f.SelfTime); err != nil {
			return nil, err
		}
		result = append(result, f)
	}

	return result, rows.Err()
}

func readRelations(ctx context.Context, conn *sql.DB, query string, args []any) ([]RelationStatRow, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []RelationStatRow
	for rows.Next() {
		var t RelationStatRow
		err := rows.Scan(
			&t.RelID,
			&t.NumScans,
			&t.TuplesReturned,
			&t.TuplesFetched,
			&t.TuplesInserted,
			&t.TuplesUpdated,
			&t.TuplesDeleted,
			&t.TuplesHotUpdated,
			&t.LiveTuples,
			&t.DeadTuples,
			&t.ModSinceAnalyze,
			&t.BlocksFetched,
			&t.BlocksHit,
			&t.LastVacuum,
			&t.VacuumCount,
			&t.LastAutovacuum,
			&t.AutovacuumCount,
			&t.LastAnalyze,
			&t.AnalyzeCount,
			&t.LastAutoanalyze,
			&t.AutoanalyzeCount,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}

	return result, rows.Err()
}

// connFor returns a pool attached to the named database, opening it on
// first use
func (r *CounterReader) connFor(name string) (*sql.DB, error) {
	if !r.db.IsPostgres() {
		return r.db.DB, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[name]; ok {
		return conn, nil
	}

	dsn, err := RewriteDSN(r.db.dsn, name)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(r.db.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to %s: %w", name, err)
	}
	conn.SetMaxOpenConns(2)
	conn.SetMaxIdleConns(1)

	r.conns[name] = conn
	r.logger.Debug("opened statistics connection", "database", name)
	return conn, nil
}

// Close closes the per-database pools
func (r *CounterReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, conn := range r.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		delete(r.conns, name)
	}
	return errors.Join(errs...)
}

// RewriteDSN points a PostgreSQL connection string at another database.
// Both URL and key=value forms are accepted.
func RewriteDSN(dsn, database string) (string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid connection URL: %w", err)
		}
		u.Path = "/" + database
		u.RawPath = ""
		return u.String(), nil
	}

	// Later keys win in key=value strings
	return strings.TrimSpace(dsn+" dbname="+quoteConnValue(database)), nil
}

// quoteConnValue quotes a key=value connection parameter
func quoteConnValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// setApplicationName tags the session the way PoWA tools recognize
func setApplicationName(ctx context.Context, conn execer, name string) error {
	_, err := conn.ExecContext(ctx, "SET application_name = "+pq.QuoteLiteral(name))
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
