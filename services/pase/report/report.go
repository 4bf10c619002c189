// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

// Package report assembles the end product of the pipeline: for one
// patch, where it matches in the indexed sources and whether it still
// applies there. Reports are persisted, listable, and streamed to
// connected clients.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boiko/hackweek-applied-pase/services/pase/feed"
	"github.com/boiko/hackweek-applied-pase/services/pase/index"
	"github.com/boiko/hackweek-applied-pase/services/pase/match"
	"github.com/boiko/hackweek-applied-pase/services/pase/patchstore"
	"github.com/boiko/hackweek-applied-pase/services/pase/srcpool"
	"github.com/boiko/hackweek-applied-pase/services/pase/validate"
)

// Summary condenses a report to the numbers a dashboard shows first.
type Summary struct {
	// Candidates is the total number of match candidates across all
	// files of the patch.
	Candidates int `json:"candidates"`

	// CleanApplies counts validated targets where the patch applies,
	// cleanly or at an offset.
	CleanApplies int `json:"clean_applies"`

	// Conflicts counts validated targets where at least one hunk
	// conflicts.
	Conflicts int `json:"conflicts"`
}

// Report is the assembled result for one patch: the match candidates
// and the dry-run validations against the best candidate packages.
// Reports are immutable; rebuilding a patch produces a new ID.
type Report struct {
	ID        string    `json:"id"`
	PatchID   int64     `json:"patch_id"`
	Filename  string    `json:"filename"`
	Producer  string    `json:"producer"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`

	Match       *match.Result      `json:"match"`
	Validations []*validate.Report `json:"validations"`
	Summary     Summary            `json:"summary"`
}

// Config holds builder configuration.
type Config struct {
	// MaxValidations caps how many distinct (collection, package)
	// targets are dry-run validated per report.
	MaxValidations int

	// QueueSize bounds the pending build queue.
	QueueSize int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxValidations: 5,
		QueueSize:      64,
	}
}

// Builder runs the match -> validate -> assemble pipeline and persists
// the result. A single worker drains the build queue; at most one
// build per patch is queued or running at a time.
type Builder struct {
	reports   *Store
	patches   *patchstore.Store
	matcher   *match.Engine
	validator *validate.Validator
	pool      *srcpool.Pool
	hub       *Hub
	config    Config
	logger    *slog.Logger

	queue  chan int64
	doneCh chan struct{}

	mu       sync.Mutex
	inflight map[int64]bool
}

// Option configures a Builder.
type Option func(*Builder)

// WithHub sets the hub that broadcasts stored reports.
func WithHub(hub *Hub) Option {
	return func(b *Builder) { b.hub = hub }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder creates a builder over the given stores and engines.
// Zero config fields fall back to the defaults.
func NewBuilder(reports *Store, patches *patchstore.Store, matcher *match.Engine,
	validator *validate.Validator, pool *srcpool.Pool, config Config, opts ...Option) *Builder {

	defaults := DefaultConfig()
	if config.MaxValidations <= 0 {
		config.MaxValidations = defaults.MaxValidations
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}

	b := &Builder{
		reports:   reports,
		patches:   patches,
		matcher:   matcher,
		validator: validator,
		pool:      pool,
		config:    config,
		logger:    slog.Default(),
		queue:     make(chan int64, config.QueueSize),
		doneCh:    make(chan struct{}),
		inflight:  make(map[int64]bool),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildFor runs the full pipeline for one stored patch and persists
// the report. The report is broadcast only after the store write
// succeeded.
func (b *Builder) BuildFor(ctx context.Context, patchID int64) (*Report, error) {
	start := time.Now()
	ctx, span := startBuildSpan(ctx, patchID)
	defer span.End()

	patch, err := b.patches.Get(ctx, patchID)
	if err != nil {
		setBuildSpanResult(span, 0, 0, false)
		return nil, err
	}

	matchResult, err := b.matcher.MatchPatch(ctx, patch.Content)
	if err != nil {
		setBuildSpanResult(span, 0, 0, false)
		recordBuildMetrics(ctx, time.Since(start), false)
		return nil, fmt.Errorf("match patch %d: %w", patchID, err)
	}
	matchResult.PatchID = patch.ID

	validations := b.validateTargets(ctx, patch.Content, matchResult)

	report := &Report{
		ID:          uuid.NewString(),
		PatchID:     patch.ID,
		Filename:    patch.Filename,
		Producer:    patch.Producer,
		Origin:      patch.Origin,
		CreatedAt:   time.Now().UTC(),
		Match:       matchResult,
		Validations: validations,
		Summary:     summarize(matchResult, validations),
	}

	if err := b.reports.Put(ctx, report); err != nil {
		setBuildSpanResult(span, report.Summary.Candidates, len(validations), false)
		recordBuildMetrics(ctx, time.Since(start), false)
		return nil, err
	}

	if b.hub != nil {
		b.hub.BroadcastReport(report)
	}

	setBuildSpanResult(span, report.Summary.Candidates, len(validations), true)
	recordBuildMetrics(ctx, time.Since(start), true)

	b.logger.Info("report built",
		slog.String("report_id", report.ID),
		slog.Int64("patch_id", patch.ID),
		slog.Int("candidates", report.Summary.Candidates),
		slog.Int("validations", len(validations)))
	return report, nil
}

// buildTarget is one (collection, package) pair picked for dry-run
// validation, ranked by its best candidate similarity.
type buildTarget struct {
	collection string
	pkg        string
	similarity float64
}

func selectTargets(result *match.Result, max int) []buildTarget {
	best := make(map[string]buildTarget)
	for _, file := range result.Files {
		for _, c := range file.Candidates {
			key := c.Collection + "/" + c.Package
			if t, ok := best[key]; !ok || c.Similarity > t.similarity {
				best[key] = buildTarget{
					collection: c.Collection,
					pkg:        c.Package,
					similarity: c.Similarity,
				}
			}
		}
	}

	targets := make([]buildTarget, 0, len(best))
	for _, t := range best {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].similarity != targets[j].similarity {
			return targets[i].similarity > targets[j].similarity
		}
		if targets[i].collection != targets[j].collection {
			return targets[i].collection < targets[j].collection
		}
		return targets[i].pkg < targets[j].pkg
	})
	if len(targets) > max {
		targets = targets[:max]
	}
	return targets
}

func (b *Builder) validateTargets(ctx context.Context, content []byte, result *match.Result) []*validate.Report {
	validations := make([]*validate.Report, 0)
	for _, target := range selectTargets(result, b.config.MaxValidations) {
		root := b.pool.PackageDir(target.collection, target.pkg)
		if _, err := os.Stat(root); err != nil {
			b.logger.Debug("candidate package not in pool, skipping validation",
				slog.String("collection", target.collection),
				slog.String("package", target.pkg))
			continue
		}

		vr, err := b.validator.Validate(ctx, content, root)
		if err != nil {
			b.logger.Warn("validation failed",
				slog.String("collection", target.collection),
				slog.String("package", target.pkg),
				slog.String("error", err.Error()))
			continue
		}
		vr.Collection = target.collection
		vr.Package = target.pkg
		validations = append(validations, vr)
	}
	return validations
}

func summarize(result *match.Result, validations []*validate.Report) Summary {
	s := Summary{}
	for _, file := range result.Files {
		s.Candidates += len(file.Candidates)
	}
	for _, v := range validations {
		if v.Class.Applies() {
			s.CleanApplies++
		}
		if v.Class == validate.ClassConflict {
			s.Conflicts++
		}
	}
	return s
}

// OnEvent is the feed sink: every stored patch schedules a build.
// Package events carry no patch and are ignored here; they matter to
// the pool, not to a report.
func (b *Builder) OnEvent(e feed.Event) {
	if e.Type != feed.EventPatch || e.PatchID == 0 {
		return
	}
	b.Enqueue(e.PatchID)
}

// Enqueue schedules a build for the patch. Returns false when a build
// for it is already queued or running, or when the queue is full.
func (b *Builder) Enqueue(patchID int64) bool {
	if patchID <= 0 {
		return false
	}

	b.mu.Lock()
	if b.inflight[patchID] {
		b.mu.Unlock()
		return false
	}
	b.inflight[patchID] = true
	b.mu.Unlock()

	select {
	case b.queue <- patchID:
		return true
	default:
		b.clearInflight(patchID)
		b.logger.Warn("report build queue full, dropping build",
			slog.Int64("patch_id", patchID))
		return false
	}
}

// Start drains the build queue in a goroutine until ctx is cancelled.
func (b *Builder) Start(ctx context.Context) {
	go b.run(ctx)
}

// Wait blocks until the worker has exited.
func (b *Builder) Wait() {
	<-b.doneCh
}

func (b *Builder) run(ctx context.Context) {
	defer close(b.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case patchID := <-b.queue:
			b.buildQueued(ctx, patchID)
		}
	}
}

func (b *Builder) buildQueued(ctx context.Context, patchID int64) {
	defer b.clearInflight(patchID)

	_, err := b.BuildFor(ctx, patchID)
	if err == nil {
		return
	}

	if errors.Is(err, index.ErrIndexEmpty) {
		b.logger.Info("index empty, skipping report",
			slog.Int64("patch_id", patchID))
		return
	}
	b.logger.Warn("report build failed",
		slog.Int64("patch_id", patchID),
		slog.String("error", err.Error()))
}

func (b *Builder) clearInflight(patchID int64) {
	b.mu.Lock()
	delete(b.inflight, patchID)
	b.mu.Unlock()
}
