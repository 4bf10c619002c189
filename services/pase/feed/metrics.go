// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package feed

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for feed operations.
var (
	tracer = otel.Tracer("pase.feed")
	meter  = otel.Meter("pase.feed")
)

// Metrics for feed operations.
var (
	crawlLatency metric.Float64Histogram
	crawlTotal   metric.Int64Counter
	patchesAdded metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		crawlLatency, err = meter.Float64Histogram(
			"feed_crawl_duration_seconds",
			metric.WithDescription("Duration of crawl runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		crawlTotal, err = meter.Int64Counter(
			"feed_crawls_total",
			metric.WithDescription("Total number of crawl runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		patchesAdded, err = meter.Int64Counter(
			"feed_patches_added_total",
			metric.WithDescription("Patches added to the store by feeds"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startCrawlSpan creates a span for one crawl run.
func startCrawlSpan(ctx context.Context, crawler string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Runner.Crawl",
		trace.WithAttributes(
			attribute.String("feed.crawler", crawler),
		),
	)
}

// setCrawlSpanResult sets the result attributes on a crawl span.
func setCrawlSpanResult(span trace.Span, added int, success bool) {
	span.SetAttributes(
		attribute.Int("feed.added", added),
		attribute.Bool("feed.success", success),
	)
}

// recordCrawlMetrics records metrics for one crawl run.
func recordCrawlMetrics(ctx context.Context, crawler string, duration time.Duration, added int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("crawler", crawler),
		attribute.Bool("success", success),
	)

	crawlLatency.Record(ctx, duration.Seconds(), attrs)
	crawlTotal.Add(ctx, 1, attrs)
	if added > 0 {
		patchesAdded.Add(ctx, int64(added), metric.WithAttributes(
			attribute.String("crawler", crawler),
		))
	}
}
