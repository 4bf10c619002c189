// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package pase

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/boiko/hackweek-applied-pase/services/pase/archive"
	"github.com/boiko/hackweek-applied-pase/services/pase/srcpool"
	"github.com/boiko/hackweek-applied-pase/services/pase/telemetry"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port                   int  `yaml:"port" validate:"gte=1,lte=65535"`
	Debug                  bool `yaml:"debug"`
	ShutdownTimeoutSeconds int  `yaml:"shutdown_timeout_seconds" validate:"gte=1"`
}

// LoggingConfig holds the logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Dir enables the JSON file sink when set.
	Dir string `yaml:"dir"`
}

// CollectionConfig names one rpm-md source repository.
type CollectionConfig struct {
	Name    string `yaml:"name" validate:"required"`
	BaseURL string `yaml:"base_url" validate:"required,url"`
}

// PoolConfig holds the source pool settings.
type PoolConfig struct {
	// Root defaults to <data_dir>/pool.
	Root      string `yaml:"root"`
	Workers   int    `yaml:"workers" validate:"gte=1"`
	MinFreeGB int    `yaml:"min_free_gb" validate:"gte=0"`

	// Collections replaces the built-in openSUSE set when non-empty.
	Collections []CollectionConfig `yaml:"collections" validate:"dive"`
}

// BugzillaConfig holds the Bugzilla crawler settings. The API key is
// never read from the file; it comes from PASE_BUGZILLA_API_KEY.
type BugzillaConfig struct {
	Enabled       bool   `yaml:"enabled"`
	InstanceURL   string `yaml:"instance_url" validate:"omitempty,url"`
	TimeDeltaDays int    `yaml:"time_delta_days" validate:"gte=1"`

	apiKey string
}

// APIKey returns the key taken from the environment at load time.
func (c BugzillaConfig) APIKey() string { return c.apiKey }

// FeedConfig holds the crawl scheduler settings.
type FeedConfig struct {
	MinIntervalMinutes int `yaml:"min_interval_minutes" validate:"gte=1"`
	TickMinutes        int `yaml:"tick_minutes" validate:"gte=1"`

	// DropDir enables the drop-directory watcher when set.
	DropDir string `yaml:"drop_dir"`
}

// IndexConfig holds the indexer settings.
type IndexConfig struct {
	Workers int `yaml:"workers" validate:"gte=1"`
}

// MatchConfig holds the match engine settings.
type MatchConfig struct {
	Threshold     float64 `yaml:"threshold" validate:"gt=0,lte=1"`
	MaxCandidates int     `yaml:"max_candidates" validate:"gte=1"`
}

// ValidateConfig holds the dry-run validator settings.
type ValidateConfig struct {
	MaxOffset int `yaml:"max_offset" validate:"gte=0"`
}

// ReportConfig holds the report builder settings.
type ReportConfig struct {
	MaxValidations int `yaml:"max_validations" validate:"gte=1"`
	QueueSize      int `yaml:"queue_size" validate:"gte=1"`
}

// Config is the full daemon configuration. Zero values fall back to
// DefaultConfig() field by field during Load.
type Config struct {
	Server ServerConfig `yaml:"server"`

	// DataDir holds the badger store, the patch database, the pool
	// and the logs unless overridden per component.
	DataDir string `yaml:"data_dir" validate:"required"`

	// InMemory keeps all state in memory: ephemeral badger, SQLite
	// :memory:. Meant for tests and one-shot runs.
	InMemory bool `yaml:"in_memory"`

	Logging   LoggingConfig    `yaml:"logging"`
	Pool      PoolConfig       `yaml:"pool"`
	Bugzilla  BugzillaConfig   `yaml:"bugzilla"`
	Feed      FeedConfig       `yaml:"feed"`
	Index     IndexConfig      `yaml:"index"`
	Match     MatchConfig      `yaml:"match"`
	Validate  ValidateConfig   `yaml:"validate"`
	Report    ReportConfig     `yaml:"report"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Archive   archive.Config   `yaml:"archive"`
}

// DefaultConfig returns the production defaults, rooted under
// ~/.pase (or ./pase-data when the home directory is unknown).
func DefaultConfig() *Config {
	dataDir := "pase-data"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".pase")
	}

	return &Config{
		Server: ServerConfig{
			Port:                   8080,
			ShutdownTimeoutSeconds: 10,
		},
		DataDir: dataDir,
		Logging: LoggingConfig{Level: "info"},
		Pool: PoolConfig{
			Workers:   4,
			MinFreeGB: 5,
		},
		Bugzilla: BugzillaConfig{
			Enabled:       true,
			InstanceURL:   "https://bugzilla.opensuse.org",
			TimeDeltaDays: 1,
		},
		Feed: FeedConfig{
			MinIntervalMinutes: 60,
			TickMinutes:        5,
		},
		Index: IndexConfig{Workers: 4},
		Match: MatchConfig{
			Threshold:     0.5,
			MaxCandidates: 20,
		},
		Validate:  ValidateConfig{MaxOffset: 200},
		Report:    ReportConfig{MaxValidations: 5, QueueSize: 64},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadConfig reads a yaml configuration file, applies PASE_*
// environment overrides, and validates the result. An empty path
// returns the defaults (still env-overridden and validated).
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDerived()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("PASE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PASE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("PASE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PASE_DROP_DIR"); v != "" {
		c.Feed.DropDir = v
	}
	if v := os.Getenv("PASE_BUGZILLA_URL"); v != "" {
		c.Bugzilla.InstanceURL = v
	}
	c.Bugzilla.apiKey = os.Getenv("PASE_BUGZILLA_API_KEY")
}

// applyDerived fills paths that default relative to DataDir.
func (c *Config) applyDerived() {
	if c.Pool.Root == "" {
		c.Pool.Root = filepath.Join(c.DataDir, "pool")
	}
}

// BadgerDir returns the badger store location.
func (c *Config) BadgerDir() string {
	return filepath.Join(c.DataDir, "badger")
}

// PatchDBPath returns the SQLite patch store location.
func (c *Config) PatchDBPath() string {
	return filepath.Join(c.DataDir, "patches.db")
}

// Collections returns the configured pool collections, falling back
// to the built-in openSUSE set.
func (c *Config) Collections() []srcpool.Collection {
	if len(c.Pool.Collections) == 0 {
		return srcpool.BuiltinCollections()
	}
	cols := make([]srcpool.Collection, 0, len(c.Pool.Collections))
	for _, cc := range c.Pool.Collections {
		cols = append(cols, srcpool.Collection{Name: cc.Name, BaseURL: cc.BaseURL})
	}
	return cols
}

// Save writes the configuration as yaml, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
