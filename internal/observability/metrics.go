// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process metrics. A nil *Metrics is valid and
// records nothing, so components take it as an optional dependency.
type Metrics struct {
	// Data manager
	BarsFetched    prometheus.Counter
	BarsRepaired   prometheus.Counter
	FetchErrors    *prometheus.CounterVec
	FetchLatency   prometheus.Histogram
	FrameCacheHits prometheus.Counter
	FrameCacheMiss prometheus.Counter

	// Training
	EpochsCompleted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all metrics under the namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ktrdr"
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		BarsFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bars_fetched_total",
			Help:      "Bars fetched from the market data provider.",
		}),
		BarsRepaired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bars_repaired_total",
			Help:      "Zero-volume doji bars repaired during merges.",
		}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Provider fetch failures by error kind.",
		}, []string{"kind"}),
		FetchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Provider fetch latency per gap sub-range.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		FrameCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_cache_hits_total",
			Help:      "LoadData calls served from the frame cache.",
		}),
		FrameCacheMiss: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_cache_misses_total",
			Help:      "LoadData calls that bypassed the frame cache.",
		}),
		EpochsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_epochs_total",
			Help:      "Training epochs completed across all runs.",
		}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "training_sessions_total",
			Help:      "Training sessions reaching a terminal status.",
		}, []string{"status"}),
		registry: reg,
	}
}

// Handler serves the metrics in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFetch counts one provider call and its outcome.
func (m *Metrics) RecordFetch(bars int, d time.Duration, errKind string) {
	if m == nil {
		return
	}
	m.FetchLatency.Observe(d.Seconds())
	if errKind != "" {
		m.FetchErrors.WithLabelValues(errKind).Inc()
		return
	}
	m.BarsFetched.Add(float64(bars))
}

// RecordRepairs counts repaired bars.
func (m *Metrics) RecordRepairs(n int) {
	if m == nil || n == 0 {
		return
	}
	m.BarsRepaired.Add(float64(n))
}

// RecordCache counts one frame cache lookup.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.FrameCacheHits.Inc()
		return
	}
	m.FrameCacheMiss.Inc()
}

// RecordEpoch counts one completed training epoch.
func (m *Metrics) RecordEpoch() {
	if m == nil {
		return
	}
	m.EpochsCompleted.Inc()
}

// RecordSessionEnd counts one terminal session status.
func (m *Metrics) RecordSessionEnd(status string) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(status).Inc()
}
