// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package index

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for indexing operations.
var (
	tracer = otel.Tracer("pase.index")
	meter  = otel.Meter("pase.index")
)

// Metrics for indexing operations.
var (
	indexLatency     metric.Float64Histogram
	indexTotal       metric.Int64Counter
	fragmentsPerPkg  metric.Int64Histogram
	indexedFragments metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		indexLatency, err = meter.Float64Histogram(
			"index_package_duration_seconds",
			metric.WithDescription("Duration of package indexing operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		indexTotal, err = meter.Int64Counter(
			"index_packages_total",
			metric.WithDescription("Total number of package indexing operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fragmentsPerPkg, err = meter.Int64Histogram(
			"index_fragments_per_package",
			metric.WithDescription("Number of fragments indexed per package"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		indexedFragments, err = meter.Int64UpDownCounter(
			"index_fragments",
			metric.WithDescription("Fragments currently held in the LSH index"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startPackageSpan creates a span for one package indexing run.
func startPackageSpan(ctx context.Context, collection, pkg string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Indexer.IndexPackage",
		trace.WithAttributes(
			attribute.String("index.collection", collection),
			attribute.String("index.package", pkg),
		),
	)
}

// setPackageSpanResult sets the result attributes on an indexing span.
func setPackageSpanResult(span trace.Span, fragments int, success bool) {
	span.SetAttributes(
		attribute.Int("index.fragments", fragments),
		attribute.Bool("index.success", success),
	)
}

// recordIndexMetrics records metrics for one package indexing run.
// delta is the change in indexed fragment count the run caused.
func recordIndexMetrics(ctx context.Context, duration time.Duration, fragments, delta int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Bool("success", success),
	)

	indexLatency.Record(ctx, duration.Seconds(), attrs)
	indexTotal.Add(ctx, 1, attrs)
	fragmentsPerPkg.Record(ctx, int64(fragments))
	indexedFragments.Add(ctx, int64(delta))
}

// recordFragmentDelta adjusts the indexed-fragment gauge outside of a
// package indexing run (startup load, package removal).
func recordFragmentDelta(ctx context.Context, delta int) {
	if err := initMetrics(); err != nil {
		return
	}
	indexedFragments.Add(ctx, int64(delta))
}
