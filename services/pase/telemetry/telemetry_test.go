// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestInit(t *testing.T) {
	t.Run("nil context", func(t *testing.T) {
		//nolint:staticcheck // deliberately passing nil
		_, err := Init(nil, DefaultConfig())
		if !errors.Is(err, ErrNilContext) {
			t.Fatalf("Init(nil) error = %v, want ErrNilContext", err)
		}
	})

	t.Run("disabled exporters", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = "none"
		cfg.MetricExporter = "none"

		shutdown, err := Init(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Init: %v", err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	})

	t.Run("stdout trace exporter", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = "stdout"
		cfg.MetricExporter = "none"

		shutdown, err := Init(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Init: %v", err)
		}
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	})

	t.Run("unknown trace exporter", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = "jaeger-thrift"
		cfg.MetricExporter = "none"

		_, err := Init(context.Background(), cfg)
		if !errors.Is(err, ErrUnknownExporter) {
			t.Fatalf("Init error = %v, want ErrUnknownExporter", err)
		}
	})

	t.Run("unknown metric exporter", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TraceExporter = "none"
		cfg.MetricExporter = "statsd"

		_, err := Init(context.Background(), cfg)
		if !errors.Is(err, ErrUnknownExporter) {
			t.Fatalf("Init error = %v, want ErrUnknownExporter", err)
		}
	})
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv("PASE_ENV", "production")
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")

	cfg := DefaultConfig()
	if cfg.Environment != "production" {
		t.Errorf("Environment = %q, want production", cfg.Environment)
	}
	if cfg.TraceExporter != "stdout" {
		t.Errorf("TraceExporter = %q, want stdout", cfg.TraceExporter)
	}
	if cfg.ServiceName != "pase" {
		t.Errorf("ServiceName = %q, want pase", cfg.ServiceName)
	}
	if cfg.PrometheusPort != 9090 {
		t.Errorf("PrometheusPort = %d, want 9090", cfg.PrometheusPort)
	}
}
