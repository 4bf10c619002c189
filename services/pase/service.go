// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

// Package pase wires the PaSe components into one service: the patch
// store, the source pool, the fragment index, the match engine, the
// dry-run validator, the feed crawlers and the report pipeline, all
// behind a gin HTTP API.
package pase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boiko/hackweek-applied-pase/services/pase/archive"
	"github.com/boiko/hackweek-applied-pase/services/pase/feed"
	"github.com/boiko/hackweek-applied-pase/services/pase/feed/bugzilla"
	"github.com/boiko/hackweek-applied-pase/services/pase/index"
	"github.com/boiko/hackweek-applied-pase/services/pase/match"
	"github.com/boiko/hackweek-applied-pase/services/pase/patchstore"
	"github.com/boiko/hackweek-applied-pase/services/pase/report"
	"github.com/boiko/hackweek-applied-pase/services/pase/srcpool"
	pasebadger "github.com/boiko/hackweek-applied-pase/services/pase/storage/badger"
	"github.com/boiko/hackweek-applied-pase/services/pase/validate"
)

// ServiceVersion is the PaSe service version.
const ServiceVersion = "0.1.0"

// Service owns every PaSe component and their shared stores.
type Service struct {
	cfg    *Config
	logger *slog.Logger

	db        *pasebadger.DB
	patches   *patchstore.Store
	pool      *srcpool.Pool
	indexer   *index.Indexer
	matcher   *match.Engine
	validator *validate.Validator
	reports   *report.Store
	builder   *report.Builder
	hub       *report.Hub
	emitter   *feed.Emitter
	runner    *feed.Runner
	drop      *feed.DropWatcher
	archive   *archive.Client

	startedAt time.Time

	mu      sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	jobs    map[string]*Job
	started bool
}

// Job tracks one asynchronous operation (pool sync, index build).
type Job struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Collection string    `json:"collection,omitempty"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Job states.
const (
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// NewService builds the full component graph from the configuration.
// Call Start to launch the background loops and Shutdown to release
// everything.
func NewService(ctx context.Context, cfg *Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		cfg:    cfg,
		logger: logger,
		jobs:   make(map[string]*Job),
	}

	var err error
	if cfg.InMemory {
		s.db, err = pasebadger.OpenInMemory()
	} else {
		bcfg := pasebadger.DefaultConfig()
		bcfg.Path = cfg.BadgerDir()
		bcfg.Logger = logger.With(slog.String("component", "badger"))
		s.db, err = pasebadger.OpenDB(bcfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	if cfg.InMemory {
		s.patches, err = patchstore.OpenInMemory(patchstore.WithLogger(logger))
	} else {
		s.patches, err = patchstore.Open(cfg.PatchDBPath(), patchstore.WithLogger(logger))
	}
	if err != nil {
		s.db.Close()
		return nil, fmt.Errorf("open patch store: %w", err)
	}

	s.pool, err = srcpool.New(cfg.Pool.Root,
		srcpool.WithCollections(cfg.Collections()),
		srcpool.WithWorkers(cfg.Pool.Workers),
		srcpool.WithMinFreeBytes(uint64(cfg.Pool.MinFreeGB)<<30),
		srcpool.WithLogger(logger.With(slog.String("component", "srcpool"))))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create source pool: %w", err)
	}

	ixCfg := index.DefaultConfig()
	if cfg.Index.Workers > 0 {
		ixCfg.Workers = cfg.Index.Workers
	}
	s.indexer = index.New(s.db, s.pool, ixCfg,
		index.WithLogger(logger.With(slog.String("component", "index"))))

	s.matcher = match.NewEngine(s.indexer, s.patches, match.Config{
		Threshold:     cfg.Match.Threshold,
		MaxCandidates: cfg.Match.MaxCandidates,
	}, match.WithLogger(logger.With(slog.String("component", "match"))))

	vCfg := validate.DefaultConfig()
	if cfg.Validate.MaxOffset > 0 {
		vCfg.MaxOffset = cfg.Validate.MaxOffset
	}
	s.validator = validate.NewValidator(vCfg,
		validate.WithLogger(logger.With(slog.String("component", "validate"))))

	s.reports = report.NewStore(s.db)
	s.hub = report.NewHub(logger.With(slog.String("component", "hub")))
	s.builder = report.NewBuilder(s.reports, s.patches, s.matcher, s.validator, s.pool,
		report.Config{
			MaxValidations: cfg.Report.MaxValidations,
			QueueSize:      cfg.Report.QueueSize,
		},
		report.WithHub(s.hub),
		report.WithLogger(logger.With(slog.String("component", "report"))))

	s.emitter = feed.NewEmitter()
	s.emitter.Subscribe(s.hub.BroadcastEvent)
	s.emitter.Subscribe(s.builder.OnEvent)

	s.runner = feed.NewRunner(feed.NewCursors(s.db),
		feed.WithMinInterval(time.Duration(cfg.Feed.MinIntervalMinutes)*time.Minute),
		feed.WithTick(time.Duration(cfg.Feed.TickMinutes)*time.Minute),
		feed.WithLogger(logger.With(slog.String("component", "feed"))))

	if cfg.Bugzilla.Enabled {
		s.runner.Register(bugzilla.New(bugzilla.Config{
			InstanceURL: cfg.Bugzilla.InstanceURL,
			APIKey:      cfg.Bugzilla.APIKey(),
			TimeDelta:   cfg.Bugzilla.TimeDeltaDays,
		}, s.patches,
			bugzilla.WithEmitter(s.emitter),
			bugzilla.WithLogger(logger.With(slog.String("component", "bugzilla")))))
	}
	s.runner.Register(feed.NewFactoryWatcher(s.pool, s.db, s.emitter,
		logger.With(slog.String("component", "factory"))))

	if cfg.Feed.DropDir != "" {
		s.drop, err = feed.NewDropWatcher(cfg.Feed.DropDir, s.patches, s.emitter,
			logger.With(slog.String("component", "dropdir")))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("create drop watcher: %w", err)
		}
	}

	if cfg.Archive.Enabled() {
		s.archive, err = archive.NewClient(ctx, cfg.Archive,
			logger.With(slog.String("component", "archive")))
		if err != nil {
			s.logger.Warn("archive exporter unavailable, continuing without it",
				slog.String("error", err.Error()))
		}
	}

	return s, nil
}

// Start launches the background loops: feed scheduler, drop watcher,
// report builder, and the index load from persisted fingerprints.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.startedAt = time.Now()
	runCtx := s.runCtx
	s.mu.Unlock()

	if err := s.indexer.Load(runCtx); err != nil {
		return fmt.Errorf("load fragment index: %w", err)
	}

	s.builder.Start(runCtx)
	s.runner.Start(runCtx)
	if s.drop != nil {
		if err := s.drop.Start(runCtx); err != nil {
			return fmt.Errorf("start drop watcher: %w", err)
		}
	}

	s.logger.Info("pase service started",
		slog.Int("index_fragments", s.indexer.Size()),
		slog.Int("collections", len(s.pool.Collections())))
	return nil
}

// Shutdown stops the background loops and waits for them, then closes
// the stores.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.started
	s.started = false
	s.mu.Unlock()

	if started && cancel != nil {
		cancel()

		done := make(chan struct{})
		go func() {
			s.runner.Wait()
			s.builder.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.logger.Warn("shutdown drain timed out")
		}

		if s.drop != nil {
			s.drop.Stop()
		}
	}

	s.hub.Close()
	return s.Close()
}

// Close releases the stores without touching the background loops.
// Shutdown calls it; NewService calls it on partial construction.
func (s *Service) Close() error {
	var firstErr error
	if s.archive != nil {
		if err := s.archive.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.patches != nil {
		if err := s.patches.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Component accessors, used by the CLI's direct (serve-less) mode.

// Patches returns the patch store.
func (s *Service) Patches() *patchstore.Store { return s.patches }

// Pool returns the source pool.
func (s *Service) Pool() *srcpool.Pool { return s.pool }

// Indexer returns the fragment indexer.
func (s *Service) Indexer() *index.Indexer { return s.indexer }

// Matcher returns the match engine.
func (s *Service) Matcher() *match.Engine { return s.matcher }

// Validator returns the dry-run validator.
func (s *Service) Validator() *validate.Validator { return s.validator }

// Reports returns the report store.
func (s *Service) Reports() *report.Store { return s.reports }

// Builder returns the report builder.
func (s *Service) Builder() *report.Builder { return s.builder }

// Runner returns the crawl scheduler.
func (s *Service) Runner() *feed.Runner { return s.runner }

// Archive returns the archive client, nil when disabled.
func (s *Service) Archive() *archive.Client { return s.archive }

// Hub returns the event stream hub.
func (s *Service) Hub() *report.Hub { return s.hub }

// startJob runs fn asynchronously under the service context and
// tracks its lifecycle. Returns the job ID.
func (s *Service) startJob(kind, collection string, fn func(ctx context.Context) error) string {
	job := &Job{
		ID:         uuid.NewString(),
		Kind:       kind,
		Collection: collection,
		State:      JobRunning,
		StartedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	s.jobs[job.ID] = job
	s.mu.Unlock()

	go func() {
		err := fn(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		job.FinishedAt = time.Now().UTC()
		if err != nil {
			job.State = JobFailed
			job.Error = err.Error()
			return
		}
		job.State = JobDone
	}()

	return job.ID
}

// JobStatus returns a copy of the tracked job.
func (s *Service) JobStatus(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrUnknownJob)
	}
	out := *job
	return &out, nil
}

// Jobs returns copies of all tracked jobs, newest first.
func (s *Service) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		c := *job
		out = append(out, &c)
	}
	return out
}

// ComponentHealth describes one component in the health response.
type ComponentHealth struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// HealthStatus is the health endpoint payload.
type HealthStatus struct {
	Status        string                     `json:"status"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Components    map[string]ComponentHealth `json:"components"`
	Crawlers      []feed.CrawlerStatus       `json:"crawlers"`
}

// Health reports liveness and per-component status.
func (s *Service) Health(ctx context.Context) *HealthStatus {
	h := &HealthStatus{
		Status:     "ok",
		Version:    ServiceVersion,
		Components: make(map[string]ComponentHealth),
		Crawlers:   s.runner.Status(),
	}

	s.mu.Lock()
	if s.started {
		h.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	}
	s.mu.Unlock()

	if count, err := s.patches.Count(ctx); err != nil {
		h.Status = "degraded"
		h.Components["patchstore"] = ComponentHealth{Status: "error", Detail: err.Error()}
	} else {
		h.Components["patchstore"] = ComponentHealth{
			Status: "ok",
			Detail: fmt.Sprintf("%d patches", count),
		}
	}

	h.Components["index"] = ComponentHealth{
		Status: "ok",
		Detail: fmt.Sprintf("%d fragments", s.indexer.Size()),
	}
	h.Components["pool"] = ComponentHealth{
		Status: "ok",
		Detail: fmt.Sprintf("%d collections", len(s.pool.Collections())),
	}
	h.Components["stream"] = ComponentHealth{
		Status: "ok",
		Detail: fmt.Sprintf("%d clients", s.hub.ClientCount()),
	}

	archiveStatus := "disabled"
	if s.archive != nil {
		archiveStatus = "ok"
	}
	h.Components["archive"] = ComponentHealth{Status: archiveStatus}

	return h
}
