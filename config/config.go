// Package config loads the ghmirror configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Init writes the config when no path is given.
const DefaultPath = "ghmirror.yaml"

// Config is the on-disk configuration.
type Config struct {
	// GitHubToken is the fallback credential for connecting the first
	// integration. The GHMIRROR_GITHUB_TOKEN environment variable overrides
	// it so the token can stay out of the file.
	GitHubToken string `yaml:"github_token"`

	// DatabasePath is the SQLite file, resolved relative to the config file
	// when not absolute.
	DatabasePath string `yaml:"database_path"`

	// SyncTimeoutSeconds caps the wall clock time of one sync run.
	SyncTimeoutSeconds int `yaml:"sync_timeout_seconds"`

	// Workers bounds concurrent record writes during a sync run.
	Workers int `yaml:"workers"`

	// MaxRetries bounds retries of retryable GitHub failures per request.
	MaxRetries int `yaml:"max_retries"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DatabasePath:       "ghmirror.db",
		SyncTimeoutSeconds: 600,
		Workers:            5,
		MaxRetries:         3,
	}
}

// Load reads the config file at path, fills in defaults for anything unset,
// and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if token := os.Getenv("GHMIRROR_GITHUB_TOKEN"); token != "" {
		cfg.GitHubToken = token
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = Default().DatabasePath
	}
	if !filepath.IsAbs(cfg.DatabasePath) {
		cfg.DatabasePath = filepath.Join(filepath.Dir(path), cfg.DatabasePath)
	}
	if cfg.SyncTimeoutSeconds <= 0 {
		cfg.SyncTimeoutSeconds = Default().SyncTimeoutSeconds
	}
	if cfg.Workers <= 0 {
		cfg.Workers = Default().Workers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = Default().MaxRetries
	}

	return cfg, nil
}

// SyncTimeout returns the sync run budget as a duration.
func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.SyncTimeoutSeconds) * time.Second
}

// Init writes a default config file at path, refusing to clobber an
// existing one.
func Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
