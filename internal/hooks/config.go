package hooks

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/chainguard/internal/config"
)

// CacheFileName is the reminder cache below the chainguard home.
const CacheFileName = "scope_reminder_cache.json"

// Config holds scope reminder configuration
type Config struct {
	// Cooldown is the minimum time between two reminders for one project.
	Cooldown time.Duration

	// MinPromptLength is the prompt length below which no reminder is sent.
	MinPromptLength int

	// CacheEntries bounds the reminder cache; the oldest entries go first.
	CacheEntries int
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Cooldown:        30 * time.Minute,
		MinPromptLength: 15,
		CacheEntries:    50,
	}
}

// ConfigFromApp builds the reminder configuration from the application
// config. Unset values keep their defaults.
func ConfigFromApp(c config.HookConfig) *Config {
	cfg := DefaultConfig()
	if c.Cooldown > 0 {
		cfg.Cooldown = time.Duration(c.Cooldown)
	}
	if c.MinPromptLength > 0 {
		cfg.MinPromptLength = c.MinPromptLength
	}
	return cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative, got %s", c.Cooldown)
	}
	if c.MinPromptLength < 0 {
		return fmt.Errorf("min_prompt_length must not be negative, got %d", c.MinPromptLength)
	}
	if c.CacheEntries < 1 {
		return fmt.Errorf("cache_entries must be at least 1, got %d", c.CacheEntries)
	}
	return nil
}
