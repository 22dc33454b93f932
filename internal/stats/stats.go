package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ReturnMode is a set of result consumption modes a caller supports
type ReturnMode int

const (
	ModeValuePerCall ReturnMode = 1 << iota
	ModeMaterialize
)

// Errors
var (
	ErrFeatureNotSupported = errors.New("stats: feature not supported")

	ErrSetNotAccepted        = fmt.Errorf("%w: set-valued function called in context that cannot accept a set", ErrFeatureNotSupported)
	ErrMaterializeNotAllowed = fmt.Errorf("%w: materialize mode required, but it is not allowed in this context", ErrFeatureNotSupported)

	ErrRowTypeMismatch = errors.New("stats: declared row type does not match the exported columns")
)

// IsFeatureNotSupported reports whether err is a capability error
func IsFeatureNotSupported(err error) bool {
	return errors.Is(err, ErrFeatureNotSupported)
}

// ResultSet is a materialized export
type ResultSet struct {
	Columns []Column `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// ResultInfo is the caller's result consumption context. The caller declares
// which modes it accepts and the row type it expects; Export fills Result.
type ResultInfo struct {
	AllowedModes ReturnMode
	RowType      []Column
	Result       *ResultSet
}

// NewResultInfo returns a materializing context declaring the kind's own row type
func NewResultInfo(kind Kind) *ResultInfo {
	return &ResultInfo{
		AllowedModes: ModeValuePerCall | ModeMaterialize,
		RowType:      kind.Columns(),
	}
}

// ExportObserver is notified after each export
type ExportObserver interface {
	ExportCompleted(kind Kind, err error)
}

type nopExportObserver struct{}

func (nopExportObserver) ExportCompleted(Kind, error) {}

// Exporter serves the counters of any namespace, whatever namespace the
// shared cache is currently pointed at.
type Exporter struct {
	mu       sync.Mutex
	cache    *CounterCache
	config   Config
	logger   *slog.Logger
	observer ExportObserver
}

// NewExporter creates an exporter reading through cache
func NewExporter(cache *CounterCache, config Config, logger *slog.Logger) *Exporter {
	return &Exporter{
		cache:    cache,
		config:   config,
		logger:   logger,
		observer: nopExportObserver{},
	}
}

// SetObserver installs the export observer
func (e *Exporter) SetObserver(o ExportObserver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = o
}

// FunctionStats exports the function counters of dbid into info
func (e *Exporter) FunctionStats(ctx context.Context, dbid Namespace, info *ResultInfo) error {
	return e.Export(ctx, KindFunction, dbid, info)
}

// RelationStats exports the relation counters of dbid into info
func (e *Exporter) RelationStats(ctx context.Context, dbid Namespace, info *ResultInfo) error {
	return e.Export(ctx, KindRelation, dbid, info)
}

// Export materializes the counters of the given kind for dbid into
// info.Result. Nothing is written to info on error.
func (e *Exporter) Export(ctx context.Context, kind Kind, dbid Namespace, info *ResultInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.export(ctx, kind, dbid, info)
	e.observer.ExportCompleted(kind, err)
	if err != nil {
		e.logger.Debug("export failed", "kind", kind.String(), "dbid", dbid, "error", err)
	}
	return err
}

func (e *Exporter) export(ctx context.Context, kind Kind, dbid Namespace, info *ResultInfo) error {
	if info == nil {
		return ErrSetNotAccepted
	}
	if info.AllowedModes&ModeMaterialize == 0 {
		return ErrMaterializeNotAllowed
	}

	columns, err := declaredSchema(kind, info.RowType)
	if err != nil {
		return err
	}

	if e.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.FetchTimeout)
		defer cancel()
	}

	// The cache may hold the caller's own namespace; it must not serve this
	// read, and what we fetch must not leak into the caller's later reads.
	e.cache.Invalidate()
	defer e.cache.Invalidate()

	var counters *NamespaceCounters
	err = e.cache.WithNamespace(dbid, func() error {
		var err error
		counters, err = e.cache.Fetch(ctx)
		return err
	})
	if err != nil {
		return err
	}

	rows := kind.buildRows(counters)
	if e.config.MaxRows > 0 && len(rows) > e.config.MaxRows {
		e.logger.Warn("export truncated",
			"kind", kind.String(),
			"dbid", dbid,
			"rows", len(rows),
			"max_rows", e.config.MaxRows)
		rows = rows[:e.config.MaxRows]
	}

	info.Result = &ResultSet{
		Columns: columns,
		Rows:    rows,
	}

	e.logger.Debug("export complete", "kind", kind.String(), "dbid", dbid, "rows", len(rows))
	return nil
}

// declaredSchema builds the output schema from the caller's row type, which
// must have the kind's arity. Missing names and types are filled in.
func declaredSchema(kind Kind, rowType []Column) ([]Column, error) {
	expected := kind.Columns()
	if rowType == nil {
		return expected, nil
	}

	if len(rowType) != len(expected) {
		return nil, fmt.Errorf("%w: %s export has %d columns, caller declared %d",
			ErrRowTypeMismatch, kind, len(expected), len(rowType))
	}

	columns := make([]Column, len(rowType))
	for i, col := range rowType {
		if col.Name == "" {
			col.Name = expected[i].Name
		}
		if col.Type == "" {
			col.Type = expected[i].Type
		}
		col.Nullable = col.Nullable || expected[i].Nullable
		columns[i] = col
	}

	return columns, nil
}
