// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package report

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for report operations.
var (
	tracer = otel.Tracer("pase.report")
	meter  = otel.Meter("pase.report")
)

// Metrics for report operations.
var (
	buildLatency  metric.Float64Histogram
	buildTotal    metric.Int64Counter
	streamClients metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"report_build_duration_seconds",
			metric.WithDescription("Duration of report builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"report_builds_total",
			metric.WithDescription("Total number of report builds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		streamClients, err = meter.Int64UpDownCounter(
			"report_stream_clients",
			metric.WithDescription("Connected websocket stream clients"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startBuildSpan creates a span for one report build.
func startBuildSpan(ctx context.Context, patchID int64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Builder.BuildFor",
		trace.WithAttributes(
			attribute.Int64("report.patch_id", patchID),
		),
	)
}

// setBuildSpanResult sets the result attributes on a build span.
func setBuildSpanResult(span trace.Span, candidates, validations int, success bool) {
	span.SetAttributes(
		attribute.Int("report.candidates", candidates),
		attribute.Int("report.validations", validations),
		attribute.Bool("report.success", success),
	)
}

// recordBuildMetrics records metrics for one report build.
func recordBuildMetrics(ctx context.Context, duration time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Bool("success", success),
	)

	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
}

// recordStreamClients adjusts the connected-client gauge.
func recordStreamClients(delta int) {
	if err := initMetrics(); err != nil {
		return
	}
	streamClients.Add(context.Background(), int64(delta))
}
