package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// Settings are the options the config operation may change at runtime.
type Settings struct {
	ValidationThreshold int    `json:"validation_threshold"`
	ResponseFormat      string `json:"response_format"`
}

// Validate checks the settings.
func (s Settings) Validate() error {
	if s.ValidationThreshold < 1 {
		return fmt.Errorf("validation_threshold must be >= 1, got %d", s.ValidationThreshold)
	}
	return ValidateFormat(s.ResponseFormat)
}

// settingsFile mirrors the Config layout so the file can be merged by Load.
type settingsFile struct {
	Tracking struct {
		ValidationThreshold int `yaml:"validation_threshold,omitempty"`
	} `yaml:"tracking,omitempty"`
	Responses struct {
		Format string `yaml:"format,omitempty"`
	} `yaml:"responses,omitempty"`
}

// SaveSettings atomically writes s to <home>/settings.yaml.
func SaveSettings(home string, s Settings) error {
	var f settingsFile
	f.Tracking.ValidationThreshold = s.ValidationThreshold
	f.Responses.Format = s.ResponseFormat

	data, err := yaml.Marshal(&f)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := EnsureHome(home); err != nil {
		return err
	}
	if err := atomic.WriteFile(filepath.Join(home, SettingsFileName), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}

// LoadSettings reads <home>/settings.yaml. Zero fields mean "not set". A
// missing file yields zero settings and no error.
func LoadSettings(home string) (Settings, error) {
	data, err := os.ReadFile(filepath.Join(home, SettingsFileName))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("reading settings: %w", err)
	}
	var f settingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Settings{}, fmt.Errorf("decoding settings: %w", err)
	}
	return Settings{
		ValidationThreshold: f.Tracking.ValidationThreshold,
		ResponseFormat:      f.Responses.Format,
	}, nil
}

// Runtime holds the live settings shared by request handling and the
// settings watcher.
type Runtime struct {
	mu       sync.RWMutex
	settings Settings
	home     string
	persist  bool
}

// NewRuntime seeds runtime settings from cfg. When persist is set,
// updates are written back to the settings file.
func NewRuntime(cfg *Config, persist bool) *Runtime {
	return &Runtime{
		settings: Settings{
			ValidationThreshold: cfg.Tracking.ValidationThreshold,
			ResponseFormat:      cfg.Responses.Format,
		},
		home:    cfg.Home,
		persist: persist,
	}
}

// Get returns the current settings.
func (r *Runtime) Get() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// Update applies fn to a copy of the settings, validates, persists and
// publishes the result. On error nothing changes.
func (r *Runtime) Update(fn func(*Settings)) (Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.settings
	fn(&next)
	if err := next.Validate(); err != nil {
		return r.settings, err
	}
	if r.persist {
		if err := SaveSettings(r.home, next); err != nil {
			return r.settings, err
		}
	}
	r.settings = next
	return next, nil
}

// Reload merges the settings file into the live settings. Fields absent
// from the file keep their current value.
func (r *Runtime) Reload() (Settings, error) {
	fromFile, err := LoadSettings(r.home)
	if err != nil {
		return r.Get(), err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.settings
	if fromFile.ValidationThreshold != 0 {
		next.ValidationThreshold = fromFile.ValidationThreshold
	}
	if fromFile.ResponseFormat != "" {
		next.ResponseFormat = fromFile.ResponseFormat
	}
	if err := next.Validate(); err != nil {
		return r.settings, err
	}
	r.settings = next
	return next, nil
}
