package writer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the persistence writer.
//
// Metrics:
//   - chainguard_writer_flushes_total{result} - flushes by result (ok, retried, failed, clean)
//   - chainguard_writer_flush_duration_seconds - time spent saving one document
//   - chainguard_writer_pending - projects waiting for a flush
type Metrics struct {
	Flushes       *prometheus.CounterVec
	FlushDuration prometheus.Histogram
	Pending       prometheus.Gauge
}

// NewMetrics registers writer metrics with reg. A nil reg yields
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Flushes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chainguard_writer_flushes_total",
				Help: "Total number of state flushes by result",
			},
			[]string{"result"},
		),
		FlushDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chainguard_writer_flush_duration_seconds",
			Help:    "Duration of a single state save in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "chainguard_writer_pending",
			Help: "Number of projects with a pending flush",
		}),
	}
}
