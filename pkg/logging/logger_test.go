// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.level.String()
			if got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			if got := tt.level.toSlogLevel(); got != tt.want {
				t.Errorf("Level.toSlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNew_FileLogging(t *testing.T) {
	t.Run("writes JSON entries with service attribute", func(t *testing.T) {
		dir := t.TempDir()
		logger := New(Config{
			Level:   LevelInfo,
			LogDir:  dir,
			Service: "pased",
			Quiet:   true,
		})

		logger.Info("crawl finished", "crawler", "bugzilla", "added", 3)
		if err := logger.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		filename := "pased_" + time.Now().Format("2006-01-02") + ".log"
		data, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			t.Fatalf("reading log file: %v", err)
		}
		content := string(data)
		if !strings.Contains(content, `"msg":"crawl finished"`) {
			t.Errorf("log file missing message, got: %s", content)
		}
		if !strings.Contains(content, `"service":"pased"`) {
			t.Errorf("log file missing service attribute, got: %s", content)
		}
		if !strings.Contains(content, `"crawler":"bugzilla"`) {
			t.Errorf("log file missing crawler attribute, got: %s", content)
		}
	})

	t.Run("level filter discards lower entries", func(t *testing.T) {
		dir := t.TempDir()
		logger := New(Config{
			Level:   LevelWarn,
			LogDir:  dir,
			Service: "pased",
			Quiet:   true,
		})

		logger.Info("filtered out")
		logger.Warn("kept")
		if err := logger.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		filename := "pased_" + time.Now().Format("2006-01-02") + ".log"
		data, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			t.Fatalf("reading log file: %v", err)
		}
		if strings.Contains(string(data), "filtered out") {
			t.Error("Info entry should have been filtered at Warn level")
		}
		if !strings.Contains(string(data), "kept") {
			t.Error("Warn entry missing from log file")
		}
	})

	t.Run("With propagates attributes", func(t *testing.T) {
		dir := t.TempDir()
		logger := New(Config{
			Level:   LevelInfo,
			LogDir:  dir,
			Service: "pased",
			Quiet:   true,
		})

		child := logger.With("component", "indexer")
		child.Info("package indexed")
		if err := logger.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		filename := "pased_" + time.Now().Format("2006-01-02") + ".log"
		data, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			t.Fatalf("reading log file: %v", err)
		}
		if !strings.Contains(string(data), `"component":"indexer"`) {
			t.Errorf("child attribute missing, got: %s", string(data))
		}
	})
}

func TestClose_NoFile(t *testing.T) {
	logger := New(Config{Quiet: true})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() on file-less logger = %v, want nil", err)
	}
	// Second close is a no-op.
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~/.pase/logs", filepath.Join(home, ".pase/logs")},
		{"/var/log/pase", "/var/log/pase"},
		{"relative/path", "relative/path"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := expandPath(tt.in); got != tt.want {
				t.Errorf("expandPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
