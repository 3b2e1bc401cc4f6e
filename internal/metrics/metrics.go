// Package metrics exposes Prometheus collectors for history sync runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SyncMetrics groups the sync collectors. A nil *SyncMetrics is valid and
// records nothing.
type SyncMetrics struct {
	registry *prometheus.Registry

	symbols  *prometheus.CounterVec
	rows     prometheus.Counter
	timeouts prometheus.Counter
	batches  prometheus.Histogram
	running  prometheus.Gauge
}

// New creates a registry with Go and process collectors plus the sync
// collectors.
func New() *SyncMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &SyncMetrics{
		registry: reg,
		symbols: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "astock",
			Subsystem: "sync",
			Name:      "symbols_total",
			Help:      "Symbols processed by the history updater, by result status.",
		}, []string{"status"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "astock",
			Subsystem: "sync",
			Name:      "rows_total",
			Help:      "Daily bars fetched and merged into the history cache.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "astock",
			Subsystem: "sync",
			Name:      "timeouts_total",
			Help:      "Symbols abandoned after exceeding the per-symbol timeout.",
		}),
		batches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "astock",
			Subsystem: "sync",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one batch of symbol updates.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "astock",
			Subsystem: "sync",
			Name:      "running",
			Help:      "1 while a full-universe sync is running.",
		}),
	}
	reg.MustRegister(m.symbols, m.rows, m.timeouts, m.batches, m.running)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *SyncMetrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *SyncMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSymbol counts one updater result and the rows it wrote.
func (m *SyncMetrics) ObserveSymbol(status string, rows int) {
	if m == nil {
		return
	}
	m.symbols.WithLabelValues(status).Inc()
	if rows > 0 {
		m.rows.Add(float64(rows))
	}
}

// ObserveTimeout counts one abandoned symbol.
func (m *SyncMetrics) ObserveTimeout() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}

// ObserveBatch records how long one batch took.
func (m *SyncMetrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.batches.Observe(d.Seconds())
}

// SetRunning flips the running gauge.
func (m *SyncMetrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}
