// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

// Package srcpool maintains a local pool of unpacked source packages.
//
// The pool is a directory tree of <root>/<collection>/<package>/ with
// the contents of each source RPM unpacked flat inside the package
// directory. A .version_id marker records which version is unpacked;
// syncing skips packages whose marker already matches and re-fetches
// the rest. The marker is written only after a complete unpack, so an
// interrupted sync re-fetches the package next time.
package srcpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/boiko/hackweek-applied-pase/pkg/fetch"
)

var tracer = otel.Tracer("pase.srcpool")

// VersionFilename is the per-package marker holding the identifier of
// the currently unpacked version.
const VersionFilename = ".version_id"

// DefaultWorkers is how many packages sync concurrently.
const DefaultWorkers = 4

// DefaultMinFreeBytes is the free-space floor on the pool filesystem
// below which syncs refuse to start.
const DefaultMinFreeBytes = 2 << 30 // 2 GiB

// ErrUnknownCollection is returned for collection names the pool does
// not know about.
var ErrUnknownCollection = errors.New("unknown collection")

// ErrSyncInProgress is returned when a sync is requested for a
// collection that already has one in flight.
var ErrSyncInProgress = errors.New("sync already in progress")

// Collection is a named rpm-md repository holding source packages.
type Collection struct {
	Name    string
	BaseURL string
}

// BuiltinCollections returns the openSUSE source repositories the pool
// knows out of the box.
func BuiltinCollections() []Collection {
	return []Collection{
		{Name: "tumbleweed", BaseURL: "https://download.opensuse.org/source/tumbleweed/repo/oss/"},
		{Name: "leap-15.6", BaseURL: "https://download.opensuse.org/source/distribution/leap/15.6/repo/oss/"},
		{Name: "leap-15.5", BaseURL: "https://download.opensuse.org/source/distribution/leap/15.5/repo/oss/"},
	}
}

// Pool manages the local source pool directory.
type Pool struct {
	root        string
	client      *fetch.Client
	logger      *slog.Logger
	workers     int
	minFree     uint64
	collections map[string]Collection

	mu      sync.Mutex
	syncing map[string]bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithClient sets the HTTP client used for metadata and RPM downloads.
func WithClient(c *fetch.Client) Option {
	return func(p *Pool) { p.client = c }
}

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithWorkers sets how many packages sync concurrently.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithMinFreeBytes sets the free-space floor for syncs. 0 disables the
// check.
func WithMinFreeBytes(n uint64) Option {
	return func(p *Pool) { p.minFree = n }
}

// WithCollections replaces the built-in collection set.
func WithCollections(cols []Collection) Option {
	return func(p *Pool) {
		p.collections = make(map[string]Collection, len(cols))
		for _, c := range cols {
			p.collections[c.Name] = c
		}
	}
}

// New creates a pool rooted at the given directory, creating it when
// missing.
func New(root string, opts ...Option) (*Pool, error) {
	if root == "" {
		return nil, errors.New("source pool requires a root directory")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create pool root %s: %w", root, err)
	}

	p := &Pool{
		root:    root,
		logger:  slog.Default(),
		workers: DefaultWorkers,
		minFree: DefaultMinFreeBytes,
		syncing: make(map[string]bool),
	}
	WithCollections(BuiltinCollections())(p)
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = fetch.New(fetch.WithLogger(p.logger))
	}
	return p, nil
}

// Root returns the pool root directory.
func (p *Pool) Root() string {
	return p.root
}

// Collections returns the known collections sorted by name.
func (p *Pool) Collections() []Collection {
	cols := make([]Collection, 0, len(p.collections))
	for _, c := range p.collections {
		cols = append(cols, c)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	return cols
}

// Collection returns the named collection.
func (p *Pool) Collection(name string) (Collection, error) {
	c, ok := p.collections[name]
	if !ok {
		return Collection{}, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return c, nil
}

// PackageDir returns the directory a package unpacks into.
func (p *Pool) PackageDir(collection, pkg string) string {
	return filepath.Join(p.root, collection, pkg)
}

// ensurePackageDir creates the package directory, optionally wiping any
// previous contents first.
func (p *Pool) ensurePackageDir(collection, pkg string, removeContents bool) (string, error) {
	dir := p.PackageDir(collection, pkg)
	if removeContents {
		if err := os.RemoveAll(dir); err != nil {
			return "", fmt.Errorf("clean package dir %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create package dir %s: %w", dir, err)
	}
	return dir, nil
}

// writePackageVersion records the unpacked version identifier for a
// package.
func (p *Pool) writePackageVersion(collection, pkg, versionID string) error {
	dir, err := p.ensurePackageDir(collection, pkg, false)
	if err != nil {
		return err
	}
	marker := filepath.Join(dir, VersionFilename)
	if err := os.WriteFile(marker, []byte(versionID), 0640); err != nil {
		return fmt.Errorf("write version marker %s: %w", marker, err)
	}
	return nil
}

// CheckPackage reports whether the unpacked package already matches the
// given version identifier. A missing package or marker counts as out
// of date.
func (p *Pool) CheckPackage(collection, pkg, versionID string) bool {
	marker := filepath.Join(p.PackageDir(collection, pkg), VersionFilename)
	current, err := os.ReadFile(marker)
	if err != nil {
		return false
	}
	return string(current) == versionID
}

// EnsurePackage brings one package up to the given version: a no-op
// when the marker already matches, otherwise the directory is wiped,
// the source RPM at url is downloaded and unpacked, and the marker is
// written last. Returns whether anything was fetched.
func (p *Pool) EnsurePackage(ctx context.Context, collection, pkg, versionID, url string) (bool, error) {
	if p.CheckPackage(collection, pkg, versionID) {
		return false, nil
	}

	p.logger.Info("package is outdated, fetching",
		slog.String("collection", collection),
		slog.String("package", pkg),
		slog.String("version", versionID))

	dir, err := p.ensurePackageDir(collection, pkg, true)
	if err != nil {
		return false, err
	}

	tmp, err := os.CreateTemp("", "pase-srpm-*.rpm")
	if err != nil {
		return false, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if _, err := p.client.Download(ctx, url, tmpPath); err != nil {
		return false, fmt.Errorf("download %s: %w", url, err)
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if err := UnpackRPM(f, dir); err != nil {
		return false, fmt.Errorf("unpack %s/%s: %w", collection, pkg, err)
	}

	if err := p.writePackageVersion(collection, pkg, versionID); err != nil {
		return false, err
	}
	return true, nil
}

// SyncResult summarizes one collection sync.
type SyncResult struct {
	Collection string
	Packages   int
	Fetched    int
	Errors     []error
}

// Sync brings every source package of a collection up to date. Per
// package failures are collected in the result instead of aborting the
// sync; the returned error covers failures that prevent the sync from
// running at all.
func (p *Pool) Sync(ctx context.Context, collection string) (*SyncResult, error) {
	col, err := p.Collection(collection)
	if err != nil {
		return nil, err
	}

	if !p.beginSync(collection) {
		return nil, fmt.Errorf("collection %s: %w", collection, ErrSyncInProgress)
	}
	defer p.endSync(collection)

	ctx, span := tracer.Start(ctx, "srcpool.sync")
	span.SetAttributes(attribute.String("collection", collection))
	defer span.End()

	if err := p.checkFreeSpace(); err != nil {
		return nil, err
	}

	packages, err := p.SourcePackages(ctx, col.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("list source packages of %s: %w", collection, err)
	}
	packages = NewestOnly(packages)

	result := &SyncResult{Collection: collection, Packages: len(packages)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, sp := range packages {
		sp := sp
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			url, err := resolveURL(col.BaseURL, sp.Location)
			if err == nil {
				var fetched bool
				fetched, err = p.EnsurePackage(gctx, collection, sp.Name, sp.VersionID(), url)
				if fetched {
					mu.Lock()
					result.Fetched++
					mu.Unlock()
				}
			}
			if err != nil {
				p.logger.Warn("package sync failed",
					slog.String("collection", collection),
					slog.String("package", sp.Name),
					slog.String("error", err.Error()))
				mu.Lock()
				result.Errors = append(result.Errors, fmt.Errorf("%s: %w", sp.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	p.logger.Info("collection sync finished",
		slog.String("collection", collection),
		slog.Int("packages", result.Packages),
		slog.Int("fetched", result.Fetched),
		slog.Int("errors", len(result.Errors)))
	return result, nil
}

// Syncing reports whether the named collection has a sync in flight.
func (p *Pool) Syncing(collection string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncing[collection]
}

func (p *Pool) beginSync(collection string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.syncing[collection] {
		return false
	}
	p.syncing[collection] = true
	return true
}

func (p *Pool) endSync(collection string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.syncing, collection)
}

func (p *Pool) checkFreeSpace() error {
	if p.minFree == 0 {
		return nil
	}
	free, err := freeBytes(p.root)
	if err != nil {
		return fmt.Errorf("check free space on %s: %w", p.root, err)
	}
	if free < p.minFree {
		return fmt.Errorf("not enough free space on %s: %d bytes available, %d required",
			p.root, free, p.minFree)
	}
	return nil
}
