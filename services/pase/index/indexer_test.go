// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boiko/hackweek-applied-pase/services/pase/srcpool"
	pasebadger "github.com/boiko/hackweek-applied-pase/services/pase/storage/badger"
)

// newTestIndexer builds an indexer over an in-memory Badger store and
// an empty pool rooted in a temp dir.
func newTestIndexer(t *testing.T) (*Indexer, *pasebadger.DB, *srcpool.Pool) {
	t.Helper()

	db, err := pasebadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	pool, err := srcpool.New(t.TempDir(),
		srcpool.WithCollections([]srcpool.Collection{{Name: "test", BaseURL: "http://unused/"}}))
	require.NoError(t, err)

	return New(db, pool, DefaultConfig()), db, pool
}

// writePackage lays out a fake pool package with a version marker.
func writePackage(t *testing.T, pool *srcpool.Pool, collection, pkg, version string, files map[string]string) {
	t.Helper()

	dir := pool.PackageDir(collection, pkg)
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, srcpool.VersionFilename), []byte(version), 0o644))
}

func TestIndexPackage_PersistsAndIndexes(t *testing.T) {
	ix, _, pool := newTestIndexer(t)
	writePackage(t, pool, "test", "demo", "0:1.0-1", map[string]string{
		"src/add.c": cSource,
		"README":    "demo package\nwith a readme\n",
	})

	meta, err := ix.IndexPackage(context.Background(), "test", "demo")
	require.NoError(t, err)

	assert.Equal(t, "test", meta.Collection)
	assert.Equal(t, "demo", meta.Package)
	assert.Equal(t, "0:1.0-1", meta.Version)
	assert.Equal(t, 2, meta.Files)
	assert.Equal(t, 3, meta.Fragments) // two C functions + one readme window
	assert.Equal(t, meta.Fragments, ix.Size())

	stored, err := ix.PackageMeta(context.Background(), "test", "demo")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, meta.Fragments, stored.Fragments)

	fp, ok := ix.Lookup("test/demo/src/add.c:3-7")
	require.True(t, ok)
	assert.Equal(t, "src/add.c", fp.Path)
}

func TestIndexPackage_ReindexIsStable(t *testing.T) {
	ix, _, pool := newTestIndexer(t)
	writePackage(t, pool, "test", "demo", "0:1.0-1", map[string]string{"src/add.c": cSource})

	first, err := ix.IndexPackage(context.Background(), "test", "demo")
	require.NoError(t, err)
	sizeAfterFirst := ix.Size()

	second, err := ix.IndexPackage(context.Background(), "test", "demo")
	require.NoError(t, err)

	assert.Equal(t, first.Fragments, second.Fragments)
	assert.Equal(t, sizeAfterFirst, ix.Size())
}

func TestIndexPackage_MissingDir(t *testing.T) {
	ix, _, _ := newTestIndexer(t)

	_, err := ix.IndexPackage(context.Background(), "test", "ghost")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestIndexPackage_SkipsBinariesAndMarkers(t *testing.T) {
	ix, _, pool := newTestIndexer(t)
	writePackage(t, pool, "test", "demo", "0:1.0-1", map[string]string{
		"blob.bin":   "data\x00data",
		"source.tar": "not read because of the suffix",
	})

	meta, err := ix.IndexPackage(context.Background(), "test", "demo")
	require.NoError(t, err)

	assert.Zero(t, meta.Fragments)
	assert.Zero(t, meta.Files)
	// A package with nothing indexable still records its metadata.
	stored, err := ix.PackageMeta(context.Background(), "test", "demo")
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestLoad_RebuildsFromPersistedFingerprints(t *testing.T) {
	ix, db, pool := newTestIndexer(t)
	writePackage(t, pool, "test", "demo", "0:1.0-1", map[string]string{"src/add.c": cSource})

	_, err := ix.IndexPackage(context.Background(), "test", "demo")
	require.NoError(t, err)
	want := ix.Size()

	fresh := New(db, pool, DefaultConfig())
	require.Zero(t, fresh.Size())
	require.NoError(t, fresh.Load(context.Background()))

	assert.Equal(t, want, fresh.Size())
	fp, ok := fresh.Lookup("test/demo/src/add.c:3-7")
	require.True(t, ok)
	assert.Equal(t, "demo", fp.Package)
}

func TestRemove_DropsPackage(t *testing.T) {
	ix, _, pool := newTestIndexer(t)
	writePackage(t, pool, "test", "demo", "0:1.0-1", map[string]string{"src/add.c": cSource})

	_, err := ix.IndexPackage(context.Background(), "test", "demo")
	require.NoError(t, err)
	require.Greater(t, ix.Size(), 0)

	require.NoError(t, ix.Remove(context.Background(), "test", "demo"))
	assert.Zero(t, ix.Size())

	meta, err := ix.PackageMeta(context.Background(), "test", "demo")
	require.NoError(t, err)
	assert.Nil(t, meta)

	// Removing an unindexed package is a no-op.
	require.NoError(t, ix.Remove(context.Background(), "test", "demo"))
}

func TestIndexCollection_SkipsUpToDatePackages(t *testing.T) {
	ix, _, pool := newTestIndexer(t)
	writePackage(t, pool, "test", "one", "0:1.0-1", map[string]string{"a.c": cSource})
	writePackage(t, pool, "test", "two", "0:2.0-1", map[string]string{"notes.txt": "some notes\nmore notes\n"})

	result, err := ix.IndexCollection(context.Background(), "test", false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Packages)
	assert.Equal(t, 2, result.Indexed)
	assert.Zero(t, result.Skipped)
	assert.Empty(t, result.Errors)

	// Unchanged versions are skipped on the next build.
	result, err = ix.IndexCollection(context.Background(), "test", false)
	require.NoError(t, err)
	assert.Zero(t, result.Indexed)
	assert.Equal(t, 2, result.Skipped)

	// A version bump re-indexes that package.
	writePackage(t, pool, "test", "one", "0:1.1-1", map[string]string{"a.c": cSource})
	result, err = ix.IndexCollection(context.Background(), "test", false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, 1, result.Skipped)

	// Force rebuilds everything.
	result, err = ix.IndexCollection(context.Background(), "test", true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Indexed)
}

func TestIndexCollection_UnknownCollection(t *testing.T) {
	ix, _, _ := newTestIndexer(t)

	_, err := ix.IndexCollection(context.Background(), "nope", false)
	assert.ErrorIs(t, err, srcpool.ErrUnknownCollection)
}

func TestIndexCollection_EmptyPool(t *testing.T) {
	ix, _, _ := newTestIndexer(t)

	result, err := ix.IndexCollection(context.Background(), "test", false)
	require.NoError(t, err)
	assert.Zero(t, result.Packages)
}

func TestStats(t *testing.T) {
	ix, _, pool := newTestIndexer(t)
	writePackage(t, pool, "test", "demo", "0:1.0-1", map[string]string{"src/add.c": cSource})

	_, err := ix.IndexPackage(context.Background(), "test", "demo")
	require.NoError(t, err)

	stats, err := ix.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ix.Size(), stats.Fragments)
	assert.Equal(t, 1, stats.Packages)
	assert.Equal(t, 1, stats.Collections["test"])
	assert.Equal(t, DefaultNumBands, stats.LSH.NumBands)
}

func TestQueryDelegates_FindIndexedContent(t *testing.T) {
	ix, _, pool := newTestIndexer(t)
	writePackage(t, pool, "test", "demo", "0:1.0-1", map[string]string{"src/add.c": cSource})

	_, err := ix.IndexPackage(context.Background(), "test", "demo")
	require.NoError(t, err)

	query := ix.FingerprintText("static int add_numbers(int a, int b)\n{\n\tint sum = a + b;\n\treturn sum;\n}")
	matches := ix.QueryWithThreshold(query, 0.5)

	require.NotEmpty(t, matches)
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.FragmentID
	}
	assert.Contains(t, ids, "test/demo/src/add.c:3-7")
}
