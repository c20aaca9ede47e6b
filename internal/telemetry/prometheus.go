// Package telemetry exposes the engine's Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run outcomes used as the "outcome" label.
const (
	OutcomeCommitted = "committed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Manager owns every collector. A nil *Manager is valid and records nothing.
type Manager struct {
	namespace string
	registry  prometheus.Registerer

	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	affectedEntities *prometheus.GaugeVec
	batchesTotal     *prometheus.CounterVec
	upsertedRows     *prometheus.CounterVec
	decayRows        *prometheus.CounterVec
	rankRefreshTotal *prometheus.CounterVec
	lagWait          prometheus.Histogram
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace overrides the metric namespace.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithRegistry registers collectors on r instead of the default registerer.
func WithRegistry(r prometheus.Registerer) Option {
	return func(m *Manager) {
		if r != nil {
			m.registry = r
		}
	}
}

// NewManager creates and registers the collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "tally",
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}

	auto := promauto.With(m.registry)

	m.runsTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "runs_total",
		Help:      "Processor runs by outcome",
	}, []string{"processor", "outcome"})

	m.runDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of processor runs",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"processor"})

	m.affectedEntities = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "affected_entities",
		Help:      "Size of the affected set of the last run",
	}, []string{"processor"})

	m.batchesTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "batches_total",
		Help:      "Aggregation batches executed",
	}, []string{"processor"})

	m.upsertedRows = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "upserted_rows_total",
		Help:      "Metric rows written by the aggregator",
	}, []string{"processor"})

	m.decayRows = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "decay_rows_total",
		Help:      "Metric rows reclassified by the day decay",
	}, []string{"processor"})

	m.rankRefreshTotal = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "rank_refresh_total",
		Help:      "Rank refreshes by outcome",
	}, []string{"processor", "outcome"})

	m.lagWait = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "lag_wait_seconds",
		Help:      "Time spent holding batches back for replica lag",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	return m
}

func (m *Manager) RecordRun(processor, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(processor, outcome).Inc()
	m.runDuration.WithLabelValues(processor).Observe(elapsed.Seconds())
}

func (m *Manager) SetAffected(processor string, n int) {
	if m == nil {
		return
	}
	m.affectedEntities.WithLabelValues(processor).Set(float64(n))
}

func (m *Manager) AddBatch(processor string, upserted int64) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(processor).Inc()
	m.upsertedRows.WithLabelValues(processor).Add(float64(upserted))
}

func (m *Manager) AddDecayRows(processor string, n int64) {
	if m == nil {
		return
	}
	m.decayRows.WithLabelValues(processor).Add(float64(n))
}

func (m *Manager) RecordRankRefresh(processor, outcome string) {
	if m == nil {
		return
	}
	m.rankRefreshTotal.WithLabelValues(processor, outcome).Inc()
}

func (m *Manager) ObserveLagWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lagWait.Observe(d.Seconds())
}
