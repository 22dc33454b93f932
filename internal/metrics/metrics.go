package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/livinlefevreloca/powa-collector/internal/policy"
	"github.com/livinlefevreloca/powa-collector/internal/scheduler"
	"github.com/livinlefevreloca/powa-collector/internal/stats"
)

// Metrics instruments the snapshot worker and the statistics exporter. It
// implements scheduler.Observer and stats.ExportObserver.
type Metrics struct {
	registry *prometheus.Registry

	snapshots        *prometheus.CounterVec
	snapshotDuration prometheus.Histogram
	workerState      *prometheus.GaugeVec
	frequency        prometheus.Gauge
	reloads          prometheus.Counter
	exports          *prometheus.CounterVec
}

// New creates the collector metrics on a private registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		snapshots: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "powa_snapshots_total",
				Help: "Total number of snapshots",
			},
			[]string{"status"},
		),

		snapshotDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "powa_snapshot_duration_seconds",
				Help:    "Duration of snapshots in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
		),

		workerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "powa_worker_state",
				Help: "Current state of the snapshot worker (1 for the active state)",
			},
			[]string{"state"},
		),

		frequency: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "powa_frequency_seconds",
				Help: "Configured snapshot interval in seconds, -1 when disabled",
			},
		),

		reloads: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "powa_reloads_total",
				Help: "Total number of configuration reloads applied",
			},
		),

		exports: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "powa_export_requests_total",
				Help: "Total number of statistics exports",
			},
			[]string{"kind", "status"},
		),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StateChanged implements scheduler.Observer
func (m *Metrics) StateChanged(state scheduler.WorkerState) {
	for _, s := range scheduler.AllWorkerStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.workerState.WithLabelValues(s.String()).Set(value)
	}
}

// SnapshotCompleted implements scheduler.Observer
func (m *Metrics) SnapshotCompleted(_ string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.snapshots.WithLabelValues(status).Inc()
	m.snapshotDuration.Observe(d.Seconds())
}

// Reloaded implements scheduler.Observer
func (m *Metrics) Reloaded(p policy.Policy) {
	m.reloads.Inc()
	m.SetFrequency(p.Interval)
}

// SetFrequency publishes the snapshot interval
func (m *Metrics) SetFrequency(f policy.Frequency) {
	if f == policy.Disabled {
		m.frequency.Set(-1)
		return
	}
	m.frequency.Set(f.Duration().Seconds())
}

// ExportCompleted implements stats.ExportObserver
func (m *Metrics) ExportCompleted(kind stats.Kind, err error) {
	m.exports.WithLabelValues(kind.String(), exportStatus(err)).Inc()
}

func exportStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case stats.IsFeatureNotSupported(err):
		return "unsupported"
	case errors.Is(err, stats.ErrRowTypeMismatch):
		return "bad_row_type"
	default:
		return "failure"
	}
}
