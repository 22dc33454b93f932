package stats

import (
	"context"
	"math"

	"github.com/livinlefevreloca/powa-collector/internal/db"
)

// NamespaceReader is the part of db.CounterReader the adapter needs
type NamespaceReader interface {
	ReadNamespace(ctx context.Context, oid uint32) (*db.NamespaceStats, error)
}

// DBAdapter adapts the database counter reader to the CounterSource interface
type DBAdapter struct {
	reader NamespaceReader
}

// NewDBAdapter creates a new database adapter
func NewDBAdapter(reader NamespaceReader) *DBAdapter {
	return &DBAdapter{reader: reader}
}

// FetchNamespace reads the counters of ns from the database
func (a *DBAdapter) FetchNamespace(ctx context.Context, ns Namespace) (*NamespaceCounters, error) {
	rows, err := a.reader.ReadNamespace(ctx, uint32(ns))
	if err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, nil
	}

	counters := &NamespaceCounters{
		Namespace: ns,
		Functions: make(map[uint32]FunctionCounters, len(rows.Functions)),
		Relations: make(map[uint32]RelationCounters, len(rows.Relations)),
	}

	for _, f := range rows.Functions {
		id := uint32(f.FuncID)
		counters.Functions[id] = FunctionCounters{
			ID:        id,
			NumCalls:  f.Calls,
			TotalTime: millisToMicros(f.TotalTime),
			SelfTime:  millisToMicros(f.SelfTime),
		}
	}

	for _, r := range rows.Relations {
		id := uint32(r.RelID)
		counters.Relations[id] = RelationCounters{
			ID:               id,
			NumScans:         r.NumScans,
			TuplesReturned:   r.TuplesReturned,
			TuplesFetched:    r.TuplesFetched,
			TuplesInserted:   r.TuplesInserted,
			TuplesUpdated:    r.TuplesUpdated,
			TuplesDeleted:    r.TuplesDeleted,
			TuplesHotUpdated: r.TuplesHotUpdated,
			LiveTuples:       r.LiveTuples,
			DeadTuples:       r.DeadTuples,
			ModSinceAnalyze:  r.ModSinceAnalyze,
			BlocksFetched:    r.BlocksFetched,
			BlocksHit:        r.BlocksHit,
			LastVacuum:       r.LastVacuum.Time,
			VacuumCount:      r.VacuumCount,
			LastAutovacuum:   r.LastAutovacuum.Time,
			AutovacuumCount:  r.AutovacuumCount,
			LastAnalyze:      r.LastAnalyze.Time,
			AnalyzeCount:     r.AnalyzeCount,
			LastAutoanalyze:  r.LastAutoanalyze.Time,
			AutoanalyzeCount: r.AutoanalyzeCount,
		}
	}

	return counters, nil
}

// millisToMicros converts PostgreSQL's fractional milliseconds to the
// collector's microsecond unit
func millisToMicros(ms float64) int64 {
	return int64(math.Round(ms * 1000))
}
