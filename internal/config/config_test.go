package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"LogLevel", cfg.LogLevel, "info"},
		{"JSONLogs", cfg.JSONLogs, false},
		{"Format", cfg.Format, FormatText},
		{"CacheEnabled", cfg.CacheEnabled, true},
		{"CacheDir", cfg.CacheDir, ""},
		{"CacheMaxEntries", cfg.CacheMaxEntries, 256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("DefaultConfig().%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *Config
		wantErr     bool
		errContains string
	}{
		{
			name:    "valid defaults",
			cfg:     DefaultConfig(),
			wantErr: false,
		},
		{
			name: "valid json format",
			cfg: &Config{
				LogLevel:        "debug",
				Format:          FormatJSON,
				CacheMaxEntries: 10,
			},
			wantErr: false,
		},
		{
			name: "invalid log level",
			cfg: &Config{
				LogLevel:        "loud",
				Format:          FormatText,
				CacheMaxEntries: 10,
			},
			wantErr:     true,
			errContains: "invalid log_level",
		},
		{
			name: "invalid format",
			cfg: &Config{
				LogLevel:        "info",
				Format:          "xml",
				CacheMaxEntries: 10,
			},
			wantErr:     true,
			errContains: "invalid format",
		},
		{
			name: "non-positive cache size",
			cfg: &Config{
				LogLevel:        "info",
				Format:          FormatText,
				CacheMaxEntries: 0,
			},
			wantErr:     true,
			errContains: "cache_max_entries must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error containing %q, got nil", tt.errContains)
				} else if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("Error = %q, should contain %q", err.Error(), tt.errContains)
				}
			} else if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		envVars     map[string]string
		checkCfg    func(*testing.T, *Config)
		wantErr     bool
		errContains string
	}{
		{
			name: "load valid config from file",
			configYAML: `
log_level: debug
json_logs: true
format: json
cache_enabled: false
cache_dir: /tmp/angr-cache
cache_max_entries: 64
`,
			checkCfg: func(t *testing.T, cfg *Config) {
				if cfg.LogLevel != "debug" {
					t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
				}
				if !cfg.JSONLogs {
					t.Error("JSONLogs = false, want true")
				}
				if cfg.Format != FormatJSON {
					t.Errorf("Format = %v, want json", cfg.Format)
				}
				if cfg.CacheEnabled {
					t.Error("CacheEnabled = true, want false")
				}
				if cfg.CacheDir != "/tmp/angr-cache" {
					t.Errorf("CacheDir = %v, want /tmp/angr-cache", cfg.CacheDir)
				}
				if cfg.CacheMaxEntries != 64 {
					t.Errorf("CacheMaxEntries = %v, want 64", cfg.CacheMaxEntries)
				}
			},
		},
		{
			name: "env var overrides file values",
			configYAML: `
log_level: info
format: text
`,
			envVars: map[string]string{
				"ANGR_LOG_LEVEL": "warn",
				"ANGR_FORMAT":    "json",
			},
			checkCfg: func(t *testing.T, cfg *Config) {
				if cfg.LogLevel != "warn" {
					t.Errorf("LogLevel = %v, want warn (from env)", cfg.LogLevel)
				}
				if cfg.Format != FormatJSON {
					t.Errorf("Format = %v, want json (from env)", cfg.Format)
				}
			},
		},
		{
			name: "invalid yaml",
			configYAML: `
log_level: info
  invalid: indent
`,
			wantErr:     true,
			errContains: "failed to parse",
		},
		{
			name: "invalid value in file",
			configYAML: `
format: csv
`,
			wantErr:     true,
			errContains: "invalid format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to write config file: %v", err)
			}

			cfg, err := LoadFromFile(configPath)

			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error containing %q, got nil", tt.errContains)
				} else if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("Error = %q, should contain %q", err.Error(), tt.errContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.checkCfg != nil {
				tt.checkCfg(t, cfg)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(*testing.T, *Config)
	}{
		{
			name:    "override log level",
			envVars: map[string]string{"ANGR_LOG_LEVEL": "error"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.LogLevel != "error" {
					t.Errorf("LogLevel = %v, want error", cfg.LogLevel)
				}
			},
		},
		{
			name:    "override json logs with 1",
			envVars: map[string]string{"ANGR_JSON_LOGS": "1"},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.JSONLogs {
					t.Error("JSONLogs = false, want true (from '1')")
				}
			},
		},
		{
			name:    "override cache settings",
			envVars: map[string]string{
				"ANGR_CACHE_ENABLED":     "yes",
				"ANGR_CACHE_DIR":         "/var/cache/angr",
				"ANGR_CACHE_MAX_ENTRIES": "32",
			},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.CacheEnabled {
					t.Error("CacheEnabled = false, want true")
				}
				if cfg.CacheDir != "/var/cache/angr" {
					t.Errorf("CacheDir = %v, want /var/cache/angr", cfg.CacheDir)
				}
				if cfg.CacheMaxEntries != 32 {
					t.Errorf("CacheMaxEntries = %v, want 32", cfg.CacheMaxEntries)
				}
			},
		},
		{
			name:    "invalid int ignored",
			envVars: map[string]string{"ANGR_CACHE_MAX_ENTRIES": "not-an-int"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.CacheMaxEntries != 256 {
					t.Errorf("CacheMaxEntries = %v, want 256 (default)", cfg.CacheMaxEntries)
				}
			},
		},
		{
			name:    "negative int ignored",
			envVars: map[string]string{"ANGR_CACHE_MAX_ENTRIES": "-5"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.CacheMaxEntries != 256 {
					t.Errorf("CacheMaxEntries = %v, want 256 (default)", cfg.CacheMaxEntries)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := DefaultConfig()
			applyEnvOverrides(cfg)
			tt.check(t, cfg)
		})
	}
}

func TestConfigSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "dirs", "config.yaml")

	cfg := &Config{
		LogLevel:        "warn",
		JSONLogs:        true,
		Format:          FormatJSON,
		CacheEnabled:    false,
		CacheDir:        "/tmp/cache",
		CacheMaxEntries: 12,
	}

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatalf("Config file was not created at %s", configPath)
	}

	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("Round-trip mismatch: got %+v, want %+v", loaded, cfg)
	}
}
