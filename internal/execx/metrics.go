package execx

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for external commands.
type Metrics struct {
	Commands *prometheus.CounterVec
	Duration prometheus.Histogram
}

// NewMetrics registers command metrics with reg. A nil reg yields
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chainguard_exec_commands_total",
			Help: "External commands by result (ok, failed, timeout, rejected, error)",
		}, []string{"result"}),
		Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chainguard_exec_duration_seconds",
			Help:    "Wall time of external commands",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
