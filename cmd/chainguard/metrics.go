package main

import (
	"bytes"
	"io"

	"github.com/natefinch/atomic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// metricsFileName is the textfile-collector snapshot written by serve on
// shutdown.
const metricsFileName = "metrics.prom"

// writeMetrics writes everything g gathers in the Prometheus text format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// writeMetricsFile replaces path with a snapshot of g.
func writeMetricsFile(path string, g prometheus.Gatherer) error {
	var buf bytes.Buffer
	if err := writeMetrics(&buf, g); err != nil {
		return err
	}
	return atomic.WriteFile(path, &buf)
}
