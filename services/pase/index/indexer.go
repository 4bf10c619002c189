// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

// Package index builds and serves the searchable fragment index of
// the source pool.
//
// Every source file in the pool is sliced into fragments (function
// bodies for C-family sources, sliding line windows for everything
// else), each fragment is reduced to a MinHash fingerprint, and the
// fingerprints are held in a banded LSH index that answers "which
// indexed code looks like this" without comparing against every
// fragment. Fingerprints are persisted in Badger so the in-memory
// index can be rebuilt at startup instead of re-reading the pool.
//
// Keys:
//
//	fp:<fragment id>              fingerprint (JSON)
//	pkgmeta:<collection>:<pkg>    per-package index metadata (JSON)
//
// Fragment IDs start with "<collection>/<package>/", which makes the
// fp: keyspace prefix-scannable per collection and per package.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/boiko/hackweek-applied-pase/services/pase/srcpool"
	pasebadger "github.com/boiko/hackweek-applied-pase/services/pase/storage/badger"
)

// Badger key prefixes.
const (
	fpPrefix      = "fp:"
	pkgMetaPrefix = "pkgmeta:"
)

// DefaultWorkers is how many packages index concurrently during a
// collection build.
const DefaultWorkers = 4

// defaultExcludePatterns are base-name globs never worth reading:
// hidden files and formats that are binary by construction. The
// binary sniff catches the rest.
func defaultExcludePatterns() []string {
	return []string{
		".*",
		"*.o", "*.so", "*.so.*", "*.a",
		"*.gz", "*.tgz", "*.bz2", "*.xz", "*.zst", "*.lz",
		"*.zip", "*.jar", "*.rpm", "*.tar",
		"*.png", "*.jpg", "*.jpeg", "*.gif", "*.ico", "*.svgz",
		"*.pdf", "*.woff", "*.woff2", "*.ttf",
	}
}

// Config holds indexer configuration.
type Config struct {
	Fingerprint FingerprintConfig
	Fragmenter  FragmenterConfig

	// NumBands and RowsPerBand shape the LSH index. Their product
	// must not exceed Fingerprint.NumHashes.
	NumBands    int
	RowsPerBand int

	// Workers is the collection-build concurrency.
	Workers int

	// ExcludePatterns are base-name globs skipped during the pool
	// walk. Empty means the defaults.
	ExcludePatterns []string
}

// DefaultConfig returns the indexer defaults.
func DefaultConfig() Config {
	return Config{
		Fingerprint: DefaultFingerprintConfig(),
		Fragmenter:  DefaultFragmenterConfig(),
		NumBands:    DefaultNumBands,
		RowsPerBand: DefaultRowsPerBand,
		Workers:     DefaultWorkers,
	}
}

// PackageMeta records what the index holds for one package.
type PackageMeta struct {
	Collection string    `json:"collection"`
	Package    string    `json:"package"`
	Version    string    `json:"version"`
	Files      int       `json:"files"`
	Fragments  int       `json:"fragments"`
	Skipped    int       `json:"skipped"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// BuildResult summarizes one collection build.
type BuildResult struct {
	Collection string
	Packages   int
	Indexed    int
	Skipped    int
	Fragments  int
	Errors     []error
}

// Stats describes the index as a whole.
type Stats struct {
	Fragments    int            `json:"fragments"`
	Packages     int            `json:"packages"`
	EmptySkipped int            `json:"empty_skipped"`
	Collections  map[string]int `json:"collections,omitempty"`
	LSH          LSHStats       `json:"lsh"`
}

// Indexer walks the pool, fragments and fingerprints its files, and
// keeps the LSH index and the persisted fingerprints in step. One
// writer per package at a time; the busy map enforces it.
type Indexer struct {
	db            *pasebadger.DB
	pool          *srcpool.Pool
	fingerprinter *Fingerprinter
	fragmenter    *Fragmenter
	lsh           *LSHIndex
	logger        *slog.Logger
	workers       int
	excludes      []string

	mu   sync.Mutex
	busy map[string]bool
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) { ix.logger = l }
}

// New creates an Indexer over the given store and pool. Call Load to
// rebuild the in-memory index from persisted fingerprints.
func New(db *pasebadger.DB, pool *srcpool.Pool, config Config, opts ...Option) *Indexer {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	excludes := config.ExcludePatterns
	if len(excludes) == 0 {
		excludes = defaultExcludePatterns()
	}

	ix := &Indexer{
		db:            db,
		pool:          pool,
		fingerprinter: NewFingerprinter(config.Fingerprint),
		fragmenter:    NewFragmenter(config.Fragmenter),
		lsh:           NewLSHIndex(config.NumBands, config.RowsPerBand),
		logger:        slog.Default(),
		workers:       config.Workers,
		excludes:      excludes,
		busy:          make(map[string]bool),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Load rebuilds the in-memory LSH index from the fingerprints
// persisted in Badger. Called once at startup, before the index
// serves queries.
func (ix *Indexer) Load(ctx context.Context) error {
	start := time.Now()
	loaded := 0

	err := ix.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(fpPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			err := it.Item().Value(func(val []byte) error {
				var fp Fingerprint
				if err := json.Unmarshal(val, &fp); err != nil {
					return fmt.Errorf("decode fingerprint %s: %w", it.Item().Key(), err)
				}
				ix.lsh.Add(&fp)
				loaded++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load fragment index: %w", err)
	}

	recordFragmentDelta(ctx, loaded)
	ix.logger.Info("fragment index loaded",
		slog.Int("fragments", loaded),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// IndexPackage scans one package directory, fingerprints its
// fragments, and replaces the package's entries in Badger and the LSH
// index. The old fingerprint range is deleted in the same transaction
// that writes the new one.
func (ix *Indexer) IndexPackage(ctx context.Context, collection, pkg string) (*PackageMeta, error) {
	key := collection + "/" + pkg
	if !ix.begin(key) {
		return nil, fmt.Errorf("package %s: %w", key, ErrBuildInProgress)
	}
	defer ix.end(key)

	ctx, span := startPackageSpan(ctx, collection, pkg)
	defer span.End()
	start := time.Now()

	dir := ix.pool.PackageDir(collection, pkg)
	if _, err := os.Stat(dir); err != nil {
		setPackageSpanResult(span, 0, false)
		return nil, fmt.Errorf("package dir: %w", err)
	}

	fragments, files, err := ix.scanPackage(ctx, collection, pkg, dir)
	if err != nil {
		setPackageSpanResult(span, 0, false)
		return nil, err
	}

	fps := make([]*Fingerprint, 0, len(fragments))
	skipped := 0
	for i := range fragments {
		fp := ix.fingerprinter.Fingerprint(fragments[i])
		if fp == nil || fp.TokenCount == 0 {
			// All stop tokens or empty text; nothing to match on.
			skipped++
			continue
		}
		fragments[i].TokenCount = fp.TokenCount
		fps = append(fps, fp)
	}

	meta := &PackageMeta{
		Collection: collection,
		Package:    pkg,
		Version:    readVersionMarker(dir),
		Files:      files,
		Fragments:  len(fps),
		Skipped:    skipped,
		IndexedAt:  time.Now().UTC(),
	}

	var oldIDs []string
	err = ix.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var err error
		oldIDs, err = collectKeys(txn, fpPrefix+key+"/")
		if err != nil {
			return err
		}
		for _, id := range oldIDs {
			if err := txn.Delete([]byte(fpPrefix + id)); err != nil {
				return err
			}
		}
		for _, fp := range fps {
			data, err := json.Marshal(fp)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(fpPrefix+fp.FragmentID), data); err != nil {
				return err
			}
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return txn.Set([]byte(pkgMetaKey(collection, pkg)), data)
	})
	if err != nil {
		setPackageSpanResult(span, 0, false)
		recordIndexMetrics(ctx, time.Since(start), 0, 0, false)
		return nil, fmt.Errorf("persist fragments of %s: %w", key, err)
	}

	// The durable write succeeded; now bring memory in line.
	for _, id := range oldIDs {
		ix.lsh.Remove(id)
	}
	for _, fp := range fps {
		ix.lsh.Add(fp)
	}

	setPackageSpanResult(span, len(fps), true)
	recordIndexMetrics(ctx, time.Since(start), len(fps), len(fps)-len(oldIDs), true)
	ix.logger.Info("package indexed",
		slog.String("collection", collection),
		slog.String("package", pkg),
		slog.Int("files", files),
		slog.Int("fragments", len(fps)),
		slog.Duration("elapsed", time.Since(start)))
	return meta, nil
}

// scanPackage walks the package dir and fragments every indexable
// file. WalkDir does not follow symlinks, so link cycles cannot trap
// the walk.
func (ix *Indexer) scanPackage(ctx context.Context, collection, pkg, dir string) ([]Fragment, int, error) {
	var fragments []Fragment
	files := 0

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		name := d.Name()
		if name == srcpool.VersionFilename || ix.excluded(name) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > ix.fragmenter.config.MaxFileSize {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			ix.logger.Warn("unreadable pool file skipped",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		frags, err := ix.fragmenter.Fragments(ctx, collection, pkg, rel, content)
		if err != nil {
			return err
		}
		if len(frags) > 0 {
			files++
			fragments = append(fragments, frags...)
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan package %s/%s: %w", collection, pkg, err)
	}
	return fragments, files, nil
}

// excluded matches a base name against the exclude globs.
func (ix *Indexer) excluded(name string) bool {
	for _, pattern := range ix.excludes {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// IndexCollection indexes every package directory of a collection,
// skipping packages whose indexed version already matches the pool
// unless force is set. Per-package failures are collected in the
// result rather than aborting the build.
func (ix *Indexer) IndexCollection(ctx context.Context, collection string, force bool) (*BuildResult, error) {
	if _, err := ix.pool.Collection(collection); err != nil {
		return nil, err
	}
	if !ix.begin("collection/" + collection) {
		return nil, fmt.Errorf("collection %s: %w", collection, ErrBuildInProgress)
	}
	defer ix.end("collection/" + collection)

	ctx, span := tracer.Start(ctx, "Indexer.IndexCollection",
		trace.WithAttributes(attribute.String("index.collection", collection)))
	defer span.End()
	start := time.Now()

	entries, err := os.ReadDir(filepath.Join(ix.pool.Root(), collection))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Nothing synced yet; an empty build, not an error.
			return &BuildResult{Collection: collection}, nil
		}
		return nil, fmt.Errorf("list collection %s: %w", collection, err)
	}

	result := &BuildResult{Collection: collection}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pkg := entry.Name()
		result.Packages++

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if !force && !ix.needsIndex(gctx, collection, pkg) {
				mu.Lock()
				result.Skipped++
				mu.Unlock()
				return nil
			}

			meta, err := ix.IndexPackage(gctx, collection, pkg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				ix.logger.Warn("package index failed",
					slog.String("collection", collection),
					slog.String("package", pkg),
					slog.String("error", err.Error()))
				result.Errors = append(result.Errors, fmt.Errorf("%s: %w", pkg, err))
				return nil
			}
			result.Indexed++
			result.Fragments += meta.Fragments
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	ix.logger.Info("collection index build finished",
		slog.String("collection", collection),
		slog.Int("packages", result.Packages),
		slog.Int("indexed", result.Indexed),
		slog.Int("skipped", result.Skipped),
		slog.Int("fragments", result.Fragments),
		slog.Int("errors", len(result.Errors)),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

// needsIndex reports whether the package's indexed version differs
// from what the pool holds.
func (ix *Indexer) needsIndex(ctx context.Context, collection, pkg string) bool {
	meta, err := ix.PackageMeta(ctx, collection, pkg)
	if err != nil || meta == nil {
		return true
	}
	current := readVersionMarker(ix.pool.PackageDir(collection, pkg))
	return current == "" || current != meta.Version
}

// PackageMeta returns the stored index metadata for a package, or nil
// when the package has never been indexed.
func (ix *Indexer) PackageMeta(ctx context.Context, collection, pkg string) (*PackageMeta, error) {
	var meta *PackageMeta
	err := ix.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(pkgMetaKey(collection, pkg)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			meta = &PackageMeta{}
			return json.Unmarshal(val, meta)
		})
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// Remove drops a package's fragments from Badger and the LSH index,
// for pool packages that were deleted or superseded. Removing a
// package that was never indexed is a no-op.
func (ix *Indexer) Remove(ctx context.Context, collection, pkg string) error {
	key := collection + "/" + pkg
	if !ix.begin(key) {
		return fmt.Errorf("package %s: %w", key, ErrBuildInProgress)
	}
	defer ix.end(key)

	var oldIDs []string
	err := ix.db.WithTxn(ctx, func(txn *badger.Txn) error {
		var err error
		oldIDs, err = collectKeys(txn, fpPrefix+key+"/")
		if err != nil {
			return err
		}
		for _, id := range oldIDs {
			if err := txn.Delete([]byte(fpPrefix + id)); err != nil {
				return err
			}
		}
		return txn.Delete([]byte(pkgMetaKey(collection, pkg)))
	})
	if err != nil {
		return fmt.Errorf("remove package %s: %w", key, err)
	}

	for _, id := range oldIDs {
		ix.lsh.Remove(id)
	}
	recordFragmentDelta(ctx, -len(oldIDs))

	ix.logger.Info("package removed from index",
		slog.String("collection", collection),
		slog.String("package", pkg),
		slog.Int("fragments", len(oldIDs)))
	return nil
}

// Stats summarizes indexed fragments and packages per collection.
func (ix *Indexer) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		Collections: make(map[string]int),
		LSH:         ix.lsh.Stats(),
	}
	stats.Fragments = stats.LSH.NumFingerprints

	err := ix.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true

		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(pkgMetaPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var meta PackageMeta
				if err := json.Unmarshal(val, &meta); err != nil {
					return err
				}
				stats.Packages++
				stats.EmptySkipped += meta.Skipped
				stats.Collections[meta.Collection]++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect index stats: %w", err)
	}
	return stats, nil
}

// Query-side delegates used by the match engine.

// FingerprintText fingerprints arbitrary text with the index's own
// fingerprinter, so query and index signatures are comparable.
func (ix *Indexer) FingerprintText(text string) *Fingerprint {
	return ix.fingerprinter.FingerprintText(text)
}

// QueryWithThreshold runs an LSH query against the in-memory index.
func (ix *Indexer) QueryWithThreshold(fp *Fingerprint, threshold float64) []Match {
	return ix.lsh.QueryWithThreshold(fp, threshold)
}

// Lookup returns the indexed fingerprint for a fragment ID.
func (ix *Indexer) Lookup(fragmentID string) (*Fingerprint, bool) {
	return ix.lsh.GetFingerprint(fragmentID)
}

// Size returns the number of indexed fragments.
func (ix *Indexer) Size() int {
	return ix.lsh.Size()
}

// KGramSize returns the fingerprinter's k-gram size.
func (ix *Indexer) KGramSize() int {
	return ix.fingerprinter.KGramSize()
}

// Duplicates lists near-identical fragment pairs across the whole
// index.
func (ix *Indexer) Duplicates(threshold float64) []DuplicatePair {
	return ix.lsh.FindAllDuplicates(threshold)
}

// begin marks a package or collection busy. Returns false when it
// already is.
func (ix *Indexer) begin(key string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.busy[key] {
		return false
	}
	ix.busy[key] = true
	return true
}

func (ix *Indexer) end(key string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.busy, key)
}

// Building reports whether a build is running for the collection.
func (ix *Indexer) Building(collection string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.busy["collection/"+collection]
}

// collectKeys returns every key under prefix, with the prefix
// stripped. The iterator is closed before the caller mutates the
// transaction.
func collectKeys(txn *badger.Txn, prefix string) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	var keys []string
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		keys = append(keys, strings.TrimPrefix(string(it.Item().KeyCopy(nil)), fpPrefix))
	}
	return keys, nil
}

// pkgMetaKey builds the pkgmeta key for a package.
func pkgMetaKey(collection, pkg string) string {
	return pkgMetaPrefix + collection + ":" + pkg
}

// readVersionMarker reads the pool's per-package version marker.
// Missing markers read as empty.
func readVersionMarker(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, srcpool.VersionFilename))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
