// Package config provides configuration loading for chainguard.
//
// Configuration is layered (highest precedence first):
//  1. Environment variables (CHAINGUARD_CACHE_MAX_PROJECTS, ...)
//  2. Runtime settings written by the config operation (<home>/settings.yaml)
//  3. The YAML config file (<home>/config.yaml)
//  4. Defaults
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Config holds the complete chainguard configuration.
type Config struct {
	Home        string            `koanf:"home"`
	Storage     StorageConfig     `koanf:"storage"`
	Cache       CacheConfig       `koanf:"cache"`
	Persistence PersistenceConfig `koanf:"persistence"`
	Tracking    TrackingConfig    `koanf:"tracking"`
	Exec        ExecConfig        `koanf:"exec"`
	Context     ContextConfig     `koanf:"context"`
	Responses   ResponsesConfig   `koanf:"responses"`
	Alerts      AlertsConfig      `koanf:"alerts"`
	Logging     LoggingConfig     `koanf:"logging"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Hook        HookConfig        `koanf:"hook"`
}

// StorageConfig selects the durable store.
type StorageConfig struct {
	Driver       string `koanf:"driver"` // file or sqlite
	Path         string `koanf:"path"`   // directory (file) or database file (sqlite)
	HistoryLimit int    `koanf:"history_limit"`
}

// CacheConfig bounds the in-memory caches.
type CacheConfig struct {
	MaxProjects int      `koanf:"max_projects"`
	RepoTTL     Duration `koanf:"repo_ttl"`
	RepoEntries int      `koanf:"repo_entries"`
}

// PersistenceConfig tunes the debounced writer.
type PersistenceConfig struct {
	Debounce    Duration `koanf:"debounce"`
	Retries     int      `koanf:"retries"`
	SaveTimeout Duration `koanf:"save_timeout"`
}

// TrackingConfig bounds per-project bookkeeping.
type TrackingConfig struct {
	MaxLogEntries       int `koanf:"max_log_entries"`
	MaxBatchFiles       int `koanf:"max_batch_files"`
	ValidationThreshold int `koanf:"validation_threshold"`
}

// ExecConfig governs external commands run by validators and checklists.
type ExecConfig struct {
	Timeout          Duration `koanf:"timeout"`
	ChecklistTimeout Duration `koanf:"checklist_timeout"`
	Parallelism      int      `koanf:"parallelism"`
	Rate             float64  `koanf:"rate"`
	Burst            int      `koanf:"burst"`
	AllowedCommands  []string `koanf:"allowed_commands"`
}

// ContextConfig configures the context canary.
type ContextConfig struct {
	Marker string `koanf:"marker"`
}

// ResponsesConfig selects how responses are rendered.
type ResponsesConfig struct {
	Format string `koanf:"format"` // text or json
}

// AlertsConfig overrides the severity per alert source.
type AlertsConfig struct {
	Severity map[string]string `koanf:"severity"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level           string `koanf:"level"`
	Format          string `koanf:"format"` // json or console
	File            string `koanf:"file"`   // empty disables file output
	MaxSizeMB       int    `koanf:"max_size_mb"`
	MaxBackups      int    `koanf:"max_backups"`
	Stderr          bool   `koanf:"stderr"`
	DisableSampling bool   `koanf:"disable_sampling"`
	Trace           bool   `koanf:"trace"`
}

// MetricsConfig toggles collector registration and the metrics snapshot.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// HookConfig configures the prompt-submit scope reminder.
type HookConfig struct {
	Cooldown        Duration `koanf:"cooldown"`
	MinPromptLength int      `koanf:"min_prompt_length"`
}

// DefaultAllowedCommands is the command allow-list used when none is configured.
var DefaultAllowedCommands = []string{
	"test", "grep", "ls", "cat", "php", "node", "python", "python3",
	"npm", "npx", "composer", "go", "make", "tsc",
}

// Default returns the configuration used when nothing is overridden.
func Default(home string) *Config {
	cfg := &Config{Home: home}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "file"
	}
	if cfg.Storage.Path == "" {
		if cfg.Storage.Driver == "sqlite" {
			cfg.Storage.Path = filepath.Join(cfg.Home, "chainguard.db")
		} else {
			cfg.Storage.Path = cfg.Home
		}
	}
	if cfg.Storage.HistoryLimit == 0 {
		cfg.Storage.HistoryLimit = 500
	}

	if cfg.Cache.MaxProjects == 0 {
		cfg.Cache.MaxProjects = 20
	}
	if cfg.Cache.RepoTTL == 0 {
		cfg.Cache.RepoTTL = Duration(5 * time.Minute)
	}
	if cfg.Cache.RepoEntries == 0 {
		cfg.Cache.RepoEntries = 256
	}

	if cfg.Persistence.Debounce == 0 {
		cfg.Persistence.Debounce = Duration(500 * time.Millisecond)
	}
	if cfg.Persistence.Retries == 0 {
		cfg.Persistence.Retries = 1
	}
	if cfg.Persistence.SaveTimeout == 0 {
		cfg.Persistence.SaveTimeout = Duration(10 * time.Second)
	}

	if cfg.Tracking.MaxLogEntries == 0 {
		cfg.Tracking.MaxLogEntries = 50
	}
	if cfg.Tracking.MaxBatchFiles == 0 {
		cfg.Tracking.MaxBatchFiles = 50
	}
	if cfg.Tracking.ValidationThreshold == 0 {
		cfg.Tracking.ValidationThreshold = 8
	}

	if cfg.Exec.Timeout == 0 {
		cfg.Exec.Timeout = Duration(10 * time.Second)
	}
	if cfg.Exec.ChecklistTimeout == 0 {
		cfg.Exec.ChecklistTimeout = Duration(60 * time.Second)
	}
	if cfg.Exec.Parallelism == 0 {
		cfg.Exec.Parallelism = 4
	}
	if cfg.Exec.Rate == 0 {
		cfg.Exec.Rate = 10
	}
	if cfg.Exec.Burst == 0 {
		cfg.Exec.Burst = 5
	}
	if len(cfg.Exec.AllowedCommands) == 0 {
		cfg.Exec.AllowedCommands = append([]string(nil), DefaultAllowedCommands...)
	}

	if cfg.Context.Marker == "" {
		cfg.Context.Marker = "🔗"
	}
	if cfg.Responses.Format == "" {
		cfg.Responses.Format = "text"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 1
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.File == "" && !cfg.Logging.Stderr && cfg.Home != "" {
		cfg.Logging.File = filepath.Join(cfg.Home, "chainguard.log")
	}

	if cfg.Hook.Cooldown == 0 {
		cfg.Hook.Cooldown = Duration(30 * time.Minute)
	}
	if cfg.Hook.MinPromptLength == 0 {
		cfg.Hook.MinPromptLength = 15
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Home == "" {
		return errors.New("home directory must be set")
	}
	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unknown storage driver %q (must be file or sqlite)", c.Storage.Driver)
	}
	if c.Cache.MaxProjects < 1 {
		return fmt.Errorf("cache.max_projects must be >= 1, got %d", c.Cache.MaxProjects)
	}
	if c.Cache.RepoTTL.Duration() <= 0 {
		return errors.New("cache.repo_ttl must be positive")
	}
	if c.Persistence.Retries < 0 {
		return fmt.Errorf("persistence.retries must be >= 0, got %d", c.Persistence.Retries)
	}
	if c.Tracking.MaxLogEntries < 1 {
		return fmt.Errorf("tracking.max_log_entries must be >= 1, got %d", c.Tracking.MaxLogEntries)
	}
	if c.Tracking.MaxBatchFiles < 1 {
		return fmt.Errorf("tracking.max_batch_files must be >= 1, got %d", c.Tracking.MaxBatchFiles)
	}
	if c.Tracking.ValidationThreshold < 1 {
		return fmt.Errorf("tracking.validation_threshold must be >= 1, got %d", c.Tracking.ValidationThreshold)
	}
	if c.Exec.Timeout.Duration() <= 0 || c.Exec.ChecklistTimeout.Duration() <= 0 {
		return errors.New("exec timeouts must be positive")
	}
	if c.Exec.Parallelism < 1 {
		return fmt.Errorf("exec.parallelism must be >= 1, got %d", c.Exec.Parallelism)
	}
	if c.Exec.Rate <= 0 || c.Exec.Burst < 1 {
		return errors.New("exec.rate must be > 0 and exec.burst >= 1")
	}
	if err := ValidateFormat(c.Responses.Format); err != nil {
		return err
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Logging.File == "" && !c.Logging.Stderr {
		return errors.New("at least one log output must be enabled (file or stderr)")
	}
	return nil
}

// ValidateFormat checks a response format name.
func ValidateFormat(format string) error {
	if format != "text" && format != "json" {
		return fmt.Errorf("responses.format must be 'text' or 'json', got %q", format)
	}
	return nil
}
