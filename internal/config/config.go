// Package config loads settings for the angr-restructure CLI. Configuration
// layers, highest priority first: project config (./.angr-restructure.yaml),
// environment variables, global config (~/.angr-restructure/config.yaml),
// and built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// OutputFormat selects how structured trees are rendered on stdout.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// Config holds all settings for angr-restructure.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"ANGR_LOG_LEVEL"`

	// JSONLogs emits log records as JSON lines instead of colored text.
	JSONLogs bool `yaml:"json_logs" env:"ANGR_JSON_LOGS"`

	// Format selects the stdout rendering of structured output.
	Format OutputFormat `yaml:"format" env:"ANGR_FORMAT"`

	// CacheEnabled memoizes structuring results keyed by input digest.
	CacheEnabled bool `yaml:"cache_enabled" env:"ANGR_CACHE_ENABLED"`

	// CacheDir is where cached results live. Empty means
	// ~/.angr-restructure/cache.
	CacheDir string `yaml:"cache_dir" env:"ANGR_CACHE_DIR"`

	// CacheMaxEntries bounds the in-memory LRU before eviction.
	CacheMaxEntries int `yaml:"cache_max_entries" env:"ANGR_CACHE_MAX_ENTRIES"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:        "info",
		JSONLogs:        false,
		Format:          FormatText,
		CacheEnabled:    true,
		CacheDir:        "",
		CacheMaxEntries: 256,
	}
}

// globalConfigFilePath returns ~/.angr-restructure/config.yaml.
func globalConfigFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".angr-restructure/config.yaml"
	}
	return filepath.Join(home, ".angr-restructure", "config.yaml")
}

// projectConfigFilePath returns the project-level config file path.
func projectConfigFilePath() string {
	return ".angr-restructure.yaml"
}

// DefaultCacheDir returns the cache directory for an empty CacheDir setting.
func (c *Config) DefaultCacheDir() string {
	if c.CacheDir != "" {
		return c.CacheDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".angr-restructure/cache"
	}
	return filepath.Join(home, ".angr-restructure", "cache")
}

// Load reads configuration with the following priority (highest to lowest):
// project config, environment variables, global config, defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	globalPath := globalConfigFilePath()
	if data, err := os.ReadFile(globalPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", globalPath, err)
		}
	}

	projectPath := projectConfigFilePath()
	if data, err := os.ReadFile(projectPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", projectPath, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads configuration from a specific YAML file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the given YAML file path, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ANGR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ANGR_JSON_LOGS"); v != "" {
		cfg.JSONLogs = parseBool(v)
	}
	if v := os.Getenv("ANGR_FORMAT"); v != "" {
		cfg.Format = OutputFormat(v)
	}
	if v := os.Getenv("ANGR_CACHE_ENABLED"); v != "" {
		cfg.CacheEnabled = parseBool(v)
	}
	if v := os.Getenv("ANGR_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("ANGR_CACHE_MAX_ENTRIES"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			cfg.CacheMaxEntries = i
		}
	}
}

// Validate checks that the configuration has valid required fields.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	switch c.Format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("invalid format: %s (must be 'text' or 'json')", c.Format)
	}

	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("cache_max_entries must be positive")
	}
	return nil
}

func parseBool(s string) bool {
	return s == "true" || s == "1" || s == "yes"
}
