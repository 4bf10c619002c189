// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package feed

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultMinInterval is the minimum gap between two runs of the
	// same crawler.
	DefaultMinInterval = time.Hour

	// DefaultTick is how often the runner checks whether a crawler is
	// due.
	DefaultTick = 5 * time.Minute
)

// CrawlerStatus is a point-in-time view of one crawler's schedule.
// LastRun and LastAdded cover runs since process start; the persisted
// cursor carries the schedule across restarts.
type CrawlerStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run"`
	LastAdded int       `json:"last_added"`
	LastError string    `json:"last_error,omitempty"`
}

// Runner schedules registered crawlers. Each crawler runs at most once
// per minimum interval, tracked by a cursor that survives restarts and
// only advances after a successful crawl.
type Runner struct {
	cursors     *Cursors
	minInterval time.Duration
	tick        time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	crawlers []Crawler
	running  map[string]bool
	status   map[string]*CrawlerStatus

	doneCh chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithMinInterval overrides the minimum gap between runs of the same
// crawler.
func WithMinInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.minInterval = d
		}
	}
}

// WithTick overrides how often the runner checks for due crawlers.
func WithTick(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithLogger sets the logger used by the runner.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a runner on the given cursor store.
func NewRunner(cursors *Cursors, opts ...Option) *Runner {
	r := &Runner{
		cursors:     cursors,
		minInterval: DefaultMinInterval,
		tick:        DefaultTick,
		logger:      slog.Default(),
		running:     make(map[string]bool),
		status:      make(map[string]*CrawlerStatus),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a crawler to the schedule.
func (r *Runner) Register(c Crawler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crawlers = append(r.crawlers, c)
	r.status[c.Name()] = &CrawlerStatus{Name: c.Name()}
}

// Start runs the schedule loop in a goroutine until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	go r.run(ctx)
}

// Wait blocks until the schedule loop has exited.
func (r *Runner) Wait() {
	<-r.doneCh
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.doneCh)

	r.RunDue(ctx)

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunDue(ctx)
		}
	}
}

// RunDue runs every registered crawler whose minimum interval has
// passed. Crawlers run sequentially; failures are logged and do not
// stop the remaining crawlers.
func (r *Runner) RunDue(ctx context.Context) {
	for _, c := range r.snapshot() {
		if ctx.Err() != nil {
			return
		}

		due, err := r.due(ctx, c.Name())
		if err != nil {
			r.logger.Warn("reading crawl cursor failed",
				slog.String("crawler", c.Name()),
				slog.String("error", err.Error()))
			continue
		}
		if !due {
			r.logger.Debug("not an hour has passed since last crawled, skipping",
				slog.String("crawler", c.Name()))
			continue
		}

		if _, err := r.runOne(ctx, c); err != nil {
			r.logger.Warn("crawl failed",
				slog.String("crawler", c.Name()),
				slog.String("error", err.Error()))
		}
	}
}

// RunNow runs the named crawler immediately, ignoring the minimum
// interval. Returns ErrUnknownCrawler when no crawler carries the
// name and ErrCrawlInProgress when a run is already active.
func (r *Runner) RunNow(ctx context.Context, name string) (int, error) {
	var target Crawler
	for _, c := range r.snapshot() {
		if c.Name() == name {
			target = c
			break
		}
	}
	if target == nil {
		return 0, ErrUnknownCrawler
	}
	return r.runOne(ctx, target)
}

// Status returns the schedule state of every registered crawler,
// sorted by name.
func (r *Runner) Status() []CrawlerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]CrawlerStatus, 0, len(r.status))
	for _, s := range r.status {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Runner) snapshot() []Crawler {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Crawler, len(r.crawlers))
	copy(out, r.crawlers)
	return out
}

func (r *Runner) due(ctx context.Context, name string) (bool, error) {
	last, found, err := r.cursors.Get(ctx, name)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return time.Since(last) >= r.minInterval, nil
}

func (r *Runner) runOne(ctx context.Context, c Crawler) (int, error) {
	name := c.Name()

	r.mu.Lock()
	if r.running[name] {
		r.mu.Unlock()
		return 0, ErrCrawlInProgress
	}
	r.running[name] = true
	r.status[name].Running = true
	r.mu.Unlock()

	// The cursor records when the crawl started, not when it finished,
	// so items arriving mid-crawl fall into the next window.
	start := time.Now()

	ctx, span := startCrawlSpan(ctx, name)
	defer span.End()

	added, err := c.Crawl(ctx)

	setCrawlSpanResult(span, added, err == nil)
	recordCrawlMetrics(ctx, name, time.Since(start), added, err == nil)

	r.mu.Lock()
	r.running[name] = false
	s := r.status[name]
	s.Running = false
	s.LastRun = start
	s.LastAdded = added
	s.LastError = ""
	if err != nil {
		s.LastError = err.Error()
	}
	r.mu.Unlock()

	if err != nil {
		return added, err
	}

	if err := r.cursors.Set(ctx, name, start); err != nil {
		// The crawl itself succeeded; a stale cursor only means the
		// next run re-covers the window, and Add upserts.
		r.logger.Warn("advancing crawl cursor failed",
			slog.String("crawler", name),
			slog.String("error", err.Error()))
	}

	return added, nil
}
