package stats

import (
	"context"
	"time"
)

// Namespace identifies one database whose counters are tracked separately
type Namespace uint32

// FunctionCounters holds the accumulated counters of one function.
// Times are in microseconds.
type FunctionCounters struct {
	ID        uint32
	NumCalls  int64
	TotalTime int64
	SelfTime  int64
}

// RelationCounters holds the accumulated counters of one table. A zero
// maintenance timestamp means the operation was never recorded.
type RelationCounters struct {
	ID uint32

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

	LastVacuum       time.Time
	VacuumCount      int64
	LastAutovacuum   time.Time
	AutovacuumCount  int64
	LastAnalyze      time.Time
	AnalyzeCount     int64
	LastAutoanalyze  time.Time
	AutoanalyzeCount int64
}

// BlocksRead is the number of block requests not served from shared buffers
func (r RelationCounters) BlocksRead() int64 {
	return r.BlocksFetched - r.BlocksHit
}

// NamespaceCounters is the full counter set of one namespace
type NamespaceCounters struct {
	Namespace Namespace
	Functions map[uint32]FunctionCounters
	Relations map[uint32]RelationCounters
}

// CounterSource reads the counters of a namespace. A nil result with a nil
// error means the namespace has nothing recorded.
type CounterSource interface {
	FetchNamespace(ctx context.Context, ns Namespace) (*NamespaceCounters, error)
}
