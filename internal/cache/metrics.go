package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors shared by all caches.
//
// Metrics:
//   - chainguard_cache_hits_total{cache}
//   - chainguard_cache_misses_total{cache}
//   - chainguard_cache_evictions_total{cache}
//   - chainguard_cache_entries{cache}
type Metrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	evictions *prometheus.CounterVec
	entries   *prometheus.GaugeVec
}

// NewMetrics registers cache metrics with reg. A nil reg yields
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	labels := []string{"cache"}
	return &Metrics{
		hits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chainguard_cache_hits_total",
			Help: "Total number of cache hits",
		}, labels),
		misses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chainguard_cache_misses_total",
			Help: "Total number of cache misses, including expired entries",
		}, labels),
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chainguard_cache_evictions_total",
			Help: "Total number of entries evicted to make room",
		}, labels),
		entries: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chainguard_cache_entries",
			Help: "Current number of cached entries",
		}, labels),
	}
}

// Observer returns an Observer reporting under the given cache name.
func (m *Metrics) Observer(name string) Observer {
	return &promObserver{
		hits:      m.hits.WithLabelValues(name),
		misses:    m.misses.WithLabelValues(name),
		evictions: m.evictions.WithLabelValues(name),
		entries:   m.entries.WithLabelValues(name),
	}
}

type promObserver struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	entries   prometheus.Gauge
}

func (o *promObserver) Hit()       { o.hits.Inc() }
func (o *promObserver) Miss()      { o.misses.Inc() }
func (o *promObserver) Evict()     { o.evictions.Inc() }
func (o *promObserver) Size(n int) { o.entries.Set(float64(n)) }
