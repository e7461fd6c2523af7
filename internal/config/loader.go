package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CHAINGUARD_"

	// ConfigFileName is the user-maintained config file inside home.
	ConfigFileName = "config.yaml"

	// SettingsFileName is the runtime settings file inside home.
	SettingsFileName = "settings.yaml"
)

// LoadOptions override the file locations used by Load.
type LoadOptions struct {
	// Home overrides CHAINGUARD_HOME and the default ~/.chainguard.
	Home string
	// ConfigPath overrides <home>/config.yaml.
	ConfigPath string
}

// ResolveHome returns the chainguard home directory: explicit, then
// $CHAINGUARD_HOME, then ~/.chainguard.
func ResolveHome(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Abs(explicit)
	}
	if h := os.Getenv(EnvPrefix + "HOME"); h != "" {
		return filepath.Abs(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".chainguard"), nil
}

// EnsureHome creates the home directory with 0700 permissions.
func EnsureHome(home string) error {
	if err := os.MkdirAll(home, 0o700); err != nil {
		return fmt.Errorf("failed to create home directory %s: %w", home, err)
	}
	return nil
}

// Load reads the config file, the runtime settings file and environment
// variables, applies defaults and validates the result.
//
// Environment variables drop the CHAINGUARD_ prefix, are lowercased and
// split on the first underscore:
//
//	CHAINGUARD_CACHE_MAX_PROJECTS  -> cache.max_projects
//	CHAINGUARD_STORAGE_DRIVER      -> storage.driver
//	CHAINGUARD_RESPONSES_FORMAT    -> responses.format
func Load(opts LoadOptions) (*Config, error) {
	home, err := ResolveHome(opts.Home)
	if err != nil {
		return nil, err
	}

	k := koanf.New(".")

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(home, ConfigFileName)
	}
	if err := loadYAMLFile(k, configPath); err != nil {
		return nil, err
	}
	if err := loadYAMLFile(k, filepath.Join(home, SettingsFileName)); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Home = home

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps CHAINGUARD_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// loadYAMLFile merges path into k. A missing file is not an error.
func loadYAMLFile(k *koanf.Koanf, path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate using the open descriptor to avoid a TOCTOU race.
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

// validateConfigFileProperties rejects oversized and group/world-writable files.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return errors.New("is a directory")
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o022 != 0 {
			return fmt.Errorf("insecure permissions %v (must not be group or world writable)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
