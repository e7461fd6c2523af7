package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the dispatch gate.
//
// Metrics:
//   - chainguard_dispatch_total{operation,status} - dispatches by outcome
//   - chainguard_dispatch_duration_seconds{operation} - dispatch latency
//   - chainguard_context_refresh_total - responses carrying a context refresh
type Metrics struct {
	Dispatches       *prometheus.CounterVec
	Duration         *prometheus.HistogramVec
	ContextRefreshes prometheus.Counter
}

// NewMetrics registers gate metrics with reg. A nil reg yields
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Dispatches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainguard_dispatch_total",
				Help: "Total number of dispatched operations by status",
			},
			[]string{"operation", "status"},
		),
		Duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chainguard_dispatch_duration_seconds",
				Help:    "Duration of dispatched operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"operation"},
		),
		ContextRefreshes: f.NewCounter(prometheus.CounterOpts{
			Name: "chainguard_context_refresh_total",
			Help: "Total number of responses that carried a context refresh",
		}),
	}
}
