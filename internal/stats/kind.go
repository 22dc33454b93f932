package stats

import (
	"sort"
	"time"
)

// ColumnType is the SQL type of an exported column
type ColumnType string

const (
	TypeOID         ColumnType = "oid"
	TypeInt8        ColumnType = "int8"
	TypeFloat8      ColumnType = "float8"
	TypeTimestampTZ ColumnType = "timestamptz"
)

// Column describes one column of an exported row
type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable"`
}

// Kind selects which counters an export produces
type Kind int

const (
	KindFunction Kind = iota
	KindRelation
)

func (k Kind) String() string {
	switch k {
	case KindFunction:
		return "functions"
	case KindRelation:
		return "relations"
	default:
		return "unknown"
	}
}

var functionColumns = []Column{
	{Name: "funcid", Type: TypeOID},
	{Name: "calls", Type: TypeInt8},
	{Name: "total_time", Type: TypeFloat8},
	{Name: "self_time", Type: TypeFloat8},
}

var relationColumns = []Column{
	{Name: "relid", Type: TypeOID},
	{Name: "numscan", Type: TypeInt8},
	{Name: "tup_returned", Type: TypeInt8},
	{Name: "tup_fetched", Type: TypeInt8},
	{Name: "n_tup_ins", Type: TypeInt8},
	{Name: "n_tup_upd", Type: TypeInt8},
	{Name: "n_tup_del", Type: TypeInt8},
	{Name: "n_tup_hot_upd", Type: TypeInt8},
	{Name: "n_liv_tup", Type: TypeInt8},
	{Name: "n_dead_tup", Type: TypeInt8},
	{Name: "n_mod_since_analyze", Type: TypeInt8},
	{Name: "blks_read", Type: TypeInt8},
	{Name: "blks_hit", Type: TypeInt8},
	{Name: "last_vacuum", Type: TypeTimestampTZ, Nullable: true},
	{Name: "vacuum_count", Type: TypeInt8},
	{Name: "last_autovacuum", Type: TypeTimestampTZ, Nullable: true},
	{Name: "autovacuum_count", Type: TypeInt8},
	{Name: "last_analyze", Type: TypeTimestampTZ, Nullable: true},
	{Name: "analyze_count", Type: TypeInt8},
	{Name: "last_autoanalyze", Type: TypeTimestampTZ, Nullable: true},
	{Name: "autoanalyze_count", Type: TypeInt8},
}

// Columns returns the row layout of the kind. The returned slice is a copy.
func (k Kind) Columns() []Column {
	var cols []Column
	switch k {
	case KindFunction:
		cols = functionColumns
	case KindRelation:
		cols = relationColumns
	}
	return append([]Column(nil), cols...)
}

// buildRows turns a namespace's counters into rows ordered by identifier
func (k Kind) buildRows(counters *NamespaceCounters) [][]any {
	if counters == nil {
		return [][]any{}
	}

	switch k {
	case KindFunction:
		return functionRows(counters.Functions)
	case KindRelation:
		return relationRows(counters.Relations)
	default:
		return [][]any{}
	}
}

func functionRows(functions map[uint32]FunctionCounters) [][]any {
	ids := sortedKeys(functions)
	rows := make([][]any, 0, len(ids))

	for _, id := range ids {
		f := functions[id]
		rows = append(rows, []any{
			f.ID,
			f.NumCalls,
			microsToMillis(f.TotalTime),
			microsToMillis(f.SelfTime),
		})
	}

	return rows
}

func relationRows(relations map[uint32]RelationCounters) [][]any {
	ids := sortedKeys(relations)
	rows := make([][]any, 0, len(ids))

	for _, id := range ids {
		r := relations[id]
		rows = append(rows, []any{
			r.ID,
			r.NumScans,
			r.TuplesReturned,
			r.TuplesFetched,
			r.TuplesInserted,
			r.TuplesUpdated,
			r.TuplesDeleted,
			r.TuplesHotUpdated,
			r.LiveTuples,
			r.DeadTuples,
			r.ModSinceAnalyze,
			r.BlocksRead(),
			r.BlocksHit,
			nullableTime(r.LastVacuum),
			r.VacuumCount,
			nullableTime(r.LastAutovacuum),
			r.AutovacuumCount,
			nullableTime(r.LastAnalyze),
			r.AnalyzeCount,
			nullableTime(r.LastAutoanalyze),
			r.AutoanalyzeCount,
		})
	}

	return rows
}

func microsToMillis(us int64) float64 {
	return float64(us) / 1000.0
}

// nullableTime maps the never-recorded zero time to SQL NULL
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
