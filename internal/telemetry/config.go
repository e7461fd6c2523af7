package telemetry

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/chainguard/internal/config"
)

// Config holds telemetry configuration.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Metrics bridges otel instruments into a Prometheus registerer.
	Metrics bool

	// Traces logs finished spans at debug level.
	Traces bool

	ShutdownTimeout time.Duration
}

// NewDefaultConfig returns a configuration with both signals off.
func NewDefaultConfig() *Config {
	return &Config{
		ServiceName:     "chainguard",
		ServiceVersion:  "dev",
		ShutdownTimeout: 5 * time.Second,
	}
}

// FromAppConfig derives the telemetry configuration from the application
// config.
func FromAppConfig(cfg *config.Config, version string) *Config {
	c := NewDefaultConfig()
	c.ServiceVersion = version
	c.Metrics = cfg.Metrics.Enabled
	c.Traces = cfg.Logging.Trace
	return c
}

// Enabled reports whether any signal is on.
func (c *Config) Enabled() bool {
	return c.Metrics || c.Traces
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.ServiceName == "" {
		return errors.New("service_name is required when telemetry is enabled")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	return nil
}
