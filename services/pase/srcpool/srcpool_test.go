// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package srcpool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinCollections(t *testing.T) {
	cols := BuiltinCollections()
	require.Len(t, cols, 3)

	names := make(map[string]string, len(cols))
	for _, c := range cols {
		names[c.Name] = c.BaseURL
	}
	assert.Equal(t, "https://download.opensuse.org/source/tumbleweed/repo/oss/", names["tumbleweed"])
	assert.Equal(t, "https://download.opensuse.org/source/distribution/leap/15.6/repo/oss/", names["leap-15.6"])
	assert.Equal(t, "https://download.opensuse.org/source/distribution/leap/15.5/repo/oss/", names["leap-15.5"])
}

func TestCollection_Unknown(t *testing.T) {
	pool := newTestPool(t, "http://unused/")

	_, err := pool.Collection("sles-12")
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestCheckPackage(t *testing.T) {
	pool := newTestPool(t, "http://unused/")

	assert.False(t, pool.CheckPackage("test", "bash", "0:5.2.37-1.2"),
		"unknown package is out of date")

	require.NoError(t, pool.writePackageVersion("test", "bash", "0:5.2.37-1.2"))
	assert.True(t, pool.CheckPackage("test", "bash", "0:5.2.37-1.2"))
	assert.False(t, pool.CheckPackage("test", "bash", "0:5.2.38-1.1"),
		"marker mismatch is out of date")
}

func TestEnsurePackage_CurrentIsNoop(t *testing.T) {
	pool := newTestPool(t, "http://unused/")
	require.NoError(t, pool.writePackageVersion("test", "bash", "0:5.2.37-1.2"))

	sentinel := filepath.Join(pool.PackageDir("test", "bash"), "keepme")
	require.NoError(t, os.WriteFile(sentinel, []byte("x"), 0640))

	// URL is never fetched when the marker matches.
	fetched, err := pool.EnsurePackage(context.Background(), "test", "bash",
		"0:5.2.37-1.2", "http://unused/bash.src.rpm")
	require.NoError(t, err)
	assert.False(t, fetched)

	_, err = os.Stat(sentinel)
	assert.NoError(t, err, "current package dirs are left untouched")
}

func TestSync_AllCurrent(t *testing.T) {
	srv := newRepoServer(t)
	pool := newTestPool(t, srv.URL+"/")

	require.NoError(t, pool.writePackageVersion("test", "bash", "0:5.2.37-1.2"))
	require.NoError(t, pool.writePackageVersion("test", "coreutils", "0:9.5-2.1"))

	result, err := pool.Sync(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Packages)
	assert.Equal(t, 0, result.Fetched)
	assert.Empty(t, result.Errors)
}

func TestSync_UnknownCollection(t *testing.T) {
	pool := newTestPool(t, "http://unused/")

	_, err := pool.Sync(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestSync_RefusesConcurrentRuns(t *testing.T) {
	pool := newTestPool(t, "http://unused/")

	require.True(t, pool.beginSync("test"))
	assert.True(t, pool.Syncing("test"))

	_, err := pool.Sync(context.Background(), "test")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	pool.endSync("test")
	assert.False(t, pool.Syncing("test"))
}

func TestPackageDir(t *testing.T) {
	pool := newTestPool(t, "http://unused/")
	dir := pool.PackageDir("tumbleweed", "bash")
	assert.Equal(t, filepath.Join(pool.Root(), "tumbleweed", "bash"), dir)
}
