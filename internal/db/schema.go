package db

import "database/sql"

// FunctionStatRow is one row of per-function statistics. Times are in
// milliseconds, as PostgreSQL reports them.
type FunctionStatRow struct {
	FuncID    int64
	Calls     int64
	TotalTime float64
	SelfTime  float64
}

// RelationStatRow is one row of per-table statistics
type RelationStatRow struct {
	RelID            int64
	NumScans         int64
	TuplesReturned   int64
	TuplesFetched    int64
	TuplesInserted   int64
	TuplesUpdated    int64
	TuplesDeleted    int64
	TuplesHotUpdated int64
	LiveTuples       int64
	DeadTuples       int64
	ModSinceAnalyze  int64
	BlocksFetched    int64
	BlocksHit        int64
	LastVacuum       sql.NullTime
	VacuumCount      int64
	LastAutovacuum   sql.NullTime
	AutovacuumCount  int64
	LastAnalyze      sql.NullTime
	AnalyzeCount     int64
	LastAutoanalyze  sql.NullTime
	AutoanalyzeCount int64
}

// NamespaceStats is everything recorded for one database
type NamespaceStats struct {
	OID       uint32
	Database  string
	Functions []FunctionStatRow
	Relations []RelationStatRow
}

// dryRunSchema stands in for the PostgreSQL catalog and statistics views on
// SQLite, so the collector can run against a local file.
var dryRunSchema = []string{
	`CREATE TABLE IF NOT EXISTS pg_database (
		oid     INTEGER PRIMARY KEY,
		datname TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS stat_user_functions (
		datid      INTEGER NOT NULL,
		funcid     INTEGER NOT NULL,
		calls      INTEGER NOT NULL DEFAULT 0,
		total_time REAL NOT NULL DEFAULT 0,
		self_time  REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (datid, funcid)
	)`,
	`CREATE TABLE IF NOT EXISTS stat_all_tables (
		datid               INTEGER NOT NULL,
		relid               INTEGER NOT NULL,
		numscan             INTEGER NOT NULL DEFAULT 0,
		tup_returned        INTEGER NOT NULL DEFAULT 0,
		tup_fetched         INTEGER NOT NULL DEFAULT 0,
		n_tup_ins           INTEGER NOT NULL DEFAULT 0,
		n_tup_upd           INTEGER NOT NULL DEFAULT 0,
		n_tup_del           INTEGER NOT NULL DEFAULT 0,
		n_tup_hot_upd       INTEGER NOT NULL DEFAULT 0,
		n_live_tup          INTEGER NOT NULL DEFAULT 0,
		n_dead_tup          INTEGER NOT NULL DEFAULT 0,
		n_mod_since_analyze INTEGER NOT NULL DEFAULT 0,
		blks_fetched        INTEGER NOT NULL DEFAULT 0,
		blks_hit            INTEGER NOT NULL DEFAULT 0,
		last_vacuum         TIMESTAMP,
		vacuum_count        INTEGER NOT NULL DEFAULT 0,
		last_autovacuum     TIMESTAMP,
		autovacuum_count    INTEGER NOT NULL DEFAULT 0,
		last_analyze        TIMESTAMP,
		analyze_count       INTEGER NOT NULL DEFAULT 0,
		last_autoanalyze    TIMESTAMP,
		autoanalyze_count   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (datid, relid)
	)`,
	`CREATE TABLE IF NOT EXISTS stat_all_indexes (
		datid         INTEGER NOT NULL,
		indexrelid    INTEGER NOT NULL,
		relid         INTEGER NOT NULL,
		idx_scan      INTEGER NOT NULL DEFAULT 0,
		idx_tup_read  INTEGER NOT NULL DEFAULT 0,
		idx_tup_fetch INTEGER NOT NULL DEFAULT 0,
		blks_fetched  INTEGER NOT NULL DEFAULT 0,
		blks_hit      INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (datid, indexrelid)
	)`,
	`CREATE TABLE IF NOT EXISTS powa_snapshots (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

// DryRunSnapshotQuery records a snapshot in the local dry-run schema
const DryRunSnapshotQuery = "INSERT INTO powa_snapshots DEFAULT VALUES"

// EnsureDryRunSchema creates the local stand-in tables on SQLite. It is a
// no-op on PostgreSQL.
func (db *DB) EnsureDryRunSchema() error {
	if db.IsPostgres() {
		return nil
	}

	for _, stmt := range dryRunSchema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
