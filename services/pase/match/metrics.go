// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package match

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for match operations.
var (
	tracer = otel.Tracer("pase.match")
	meter  = otel.Meter("pase.match")
)

// Metrics for match operations.
var (
	matchLatency    metric.Float64Histogram
	matchTotal      metric.Int64Counter
	candidatesFound metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		matchLatency, err = meter.Float64Histogram(
			"match_duration_seconds",
			metric.WithDescription("Duration of patch match operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		matchTotal, err = meter.Int64Counter(
			"match_total",
			metric.WithDescription("Total number of patch match operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		candidatesFound, err = meter.Int64Histogram(
			"match_candidates",
			metric.WithDescription("Number of candidates found per matched patch"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startMatchSpan creates a span for one patch match.
func startMatchSpan(ctx context.Context) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine.MatchPatch")
}

// setMatchSpanResult sets the result attributes on a match span.
func setMatchSpanResult(span trace.Span, candidates int, success bool) {
	span.SetAttributes(
		attribute.Int("match.candidates", candidates),
		attribute.Bool("match.success", success),
	)
}

// recordMatchMetrics records metrics for one patch match.
func recordMatchMetrics(ctx context.Context, duration time.Duration, candidates int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Bool("success", success),
	)

	matchLatency.Record(ctx, duration.Seconds(), attrs)
	matchTotal.Add(ctx, 1, attrs)
	candidatesFound.Record(ctx, int64(candidates))
}
