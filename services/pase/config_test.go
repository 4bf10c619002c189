// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package pase

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Feed.MinIntervalMinutes != 60 {
		t.Errorf("MinIntervalMinutes = %d, want 60", cfg.Feed.MinIntervalMinutes)
	}
	if cfg.Pool.Root != filepath.Join(cfg.DataDir, "pool") {
		t.Errorf("Pool.Root = %q, want under DataDir", cfg.Pool.Root)
	}
	if got := len(cfg.Collections()); got != 3 {
		t.Errorf("built-in collections = %d, want 3", got)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9191
data_dir: /var/lib/pase
logging:
  level: debug
pool:
  workers: 8
  collections:
    - name: tumbleweed
      base_url: https://download.opensuse.org/source/tumbleweed/repo/oss/
match:
  threshold: 0.7
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Server.Port != 9191 {
		t.Errorf("Port = %d, want 9191", cfg.Server.Port)
	}
	if cfg.DataDir != "/var/lib/pase" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Pool.Workers != 8 {
		t.Errorf("Workers = %d, want 8", cfg.Pool.Workers)
	}
	if got := len(cfg.Collections()); got != 1 {
		t.Errorf("collections = %d, want 1", got)
	}
	if cfg.Match.Threshold != 0.7 {
		t.Errorf("Threshold = %v, want 0.7", cfg.Match.Threshold)
	}
	// Unset sections keep their defaults.
	if cfg.Report.MaxValidations != 5 {
		t.Errorf("MaxValidations = %d, want 5", cfg.Report.MaxValidations)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("PASE_DATA_DIR", "/tmp/pase-env")
	t.Setenv("PASE_PORT", "7777")
	t.Setenv("PASE_LOG_LEVEL", "warn")
	t.Setenv("PASE_BUGZILLA_API_KEY", "s3cret")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.DataDir != "/tmp/pase-env" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Port = %d, want 7777", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Bugzilla.APIKey() != "s3cret" {
		t.Errorf("APIKey not taken from environment")
	}
	if cfg.Pool.Root != filepath.Join("/tmp/pase-env", "pool") {
		t.Errorf("Pool.Root = %q, want derived from env data dir", cfg.Pool.Root)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad level", "data_dir: /tmp/x\nlogging:\n  level: loud\n"},
		{"bad port", "data_dir: /tmp/x\nserver:\n  port: 123456\n"},
		{"collection without url", "data_dir: /tmp/x\npool:\n  collections:\n    - name: foo\n"},
		{"not yaml", "{{{"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("LoadConfig accepted invalid configuration")
			}
		})
	}
}

func TestConfigSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.DataDir = "/srv/pase"
	cfg.Server.Port = 9000
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Server.Port != 9000 || loaded.DataDir != "/srv/pase" {
		t.Errorf("round trip lost values: port=%d data_dir=%q", loaded.Server.Port, loaded.DataDir)
	}
}
