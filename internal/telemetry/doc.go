// Package telemetry installs the OpenTelemetry providers used by
// chainguard.
//
// Nothing is exported over the network. Metric instruments are bridged
// into the Prometheus registry shared with the native collectors, and
// finished spans are written to the log at debug level.
package telemetry
