// Package config loads rssdeck settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	Path   string `yaml:"path"`   // sqlite file
	URL    string `yaml:"url"`    // postgres connection string
}

// FetchConfig tunes the ingestion pipeline.
type FetchConfig struct {
	TimeoutSeconds      int    `yaml:"timeout_seconds"`
	IntervalMinutes     int    `yaml:"interval_minutes"`
	StartupDelaySeconds int    `yaml:"startup_delay_seconds"`
	DomainDelayMs       int    `yaml:"domain_delay_ms"`
	UserAgent           string `yaml:"user_agent"`
}

// LogConfig configures internal/logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// Timeout returns the per-request fetch timeout.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StartupDelay returns the delay before the first polling pass.
func (c FetchConfig) StartupDelay() time.Duration {
	return time.Duration(c.StartupDelaySeconds) * time.Second
}

// DomainDelay returns the minimum gap between requests to one host.
func (c FetchConfig) DomainDelay() time.Duration {
	return time.Duration(c.DomainDelayMs) * time.Millisecond
}

// Load reads .env (if present) and the YAML file at path, expanding ${VAR}
// references. A missing file is not an error; defaults and the environment
// are used instead.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.Expand(string(data), os.Getenv)
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)
	setDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets the conventional variables override unset file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" && cfg.Database.URL == "" {
		cfg.Database.URL = v
		if cfg.Database.Driver == "" {
			cfg.Database.Driver = "postgres"
		}
	}
	if v := os.Getenv("PORT"); v != "" && cfg.Server.Addr == "" {
		cfg.Server.Addr = ":" + v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":5000"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/rssdeck.db"
	}
	if cfg.Fetch.TimeoutSeconds == 0 {
		cfg.Fetch.TimeoutSeconds = 10
	}
	if cfg.Fetch.IntervalMinutes == 0 {
		cfg.Fetch.IntervalMinutes = 30
	}
	if cfg.Fetch.StartupDelaySeconds == 0 {
		cfg.Fetch.StartupDelaySeconds = 2
	}
	if cfg.Fetch.DomainDelayMs == 0 {
		cfg.Fetch.DomainDelayMs = 500
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = "rssdeck/1.0 (+feed reader)"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Database.URL = strings.TrimSpace(cfg.Database.URL)
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Fetch.TimeoutSeconds < 0 || c.Fetch.IntervalMinutes < 0 {
		return errors.New("fetch timeouts and intervals must not be negative")
	}
	return nil
}
