// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package feed

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boiko/hackweek-applied-pase/services/pase/srcpool"
	pasebadger "github.com/boiko/hackweek-applied-pase/services/pase/storage/badger"
)

// fakeRepo is an rpm-md repository whose contents tests can swap
// between polls.
type fakeRepo struct {
	mu      sync.Mutex
	repomd  string
	primary string
}

func (f *fakeRepo) set(repomd, primary string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repomd = repomd
	f.primary = primary
}

func (f *fakeRepo) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/repodata/repomd.xml", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		io.WriteString(w, f.repomd)
	})
	mux.HandleFunc("/repodata/primary.xml.gz", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		body := f.primary
		f.mu.Unlock()

		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte(body))
		gz.Close()
		w.Write(buf.Bytes())
	})
	return mux
}

func factoryRepomd(rev string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <revision>` + rev + `</revision>
  <data type="primary">
    <location href="repodata/primary.xml.gz"/>
  </data>
</repomd>`
}

func srcPackage(name, ver, rel string) string {
	return `<package type="rpm">
    <name>` + name + `</name>
    <arch>src</arch>
    <version epoch="0" ver="` + ver + `" rel="` + rel + `"/>
    <location href="` + name + `-` + ver + `-` + rel + `.src.rpm"/>
  </package>`
}

func factoryPrimary(pkgs ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<metadata xmlns="http://linux.duke.edu/metadata/common" xmlns:rpm="http://linux.duke.edu/metadata/rpm" packages="` +
		strconv.Itoa(len(pkgs)) + `">
  ` + strings.Join(pkgs, "\n  ") + `
</metadata>`
}

func newFactoryFixture(t *testing.T, repo *fakeRepo) (*FactoryWatcher, *pasebadger.DB, func() []Event) {
	t.Helper()

	srv := httptest.NewServer(repo.handler())
	t.Cleanup(srv.Close)

	pool, err := srcpool.New(t.TempDir(),
		srcpool.WithCollections([]srcpool.Collection{{Name: "test", BaseURL: srv.URL + "/"}}),
		srcpool.WithLogger(quietLogger()),
	)
	require.NoError(t, err)

	db, err := pasebadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var (
		mu     sync.Mutex
		events []Event
	)
	emitter := NewEmitter()
	emitter.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	})
	collect := func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), events...)
	}

	return NewFactoryWatcher(pool, db, emitter, quietLogger()), db, collect
}

func TestFactoryWatcher_BaselineThenDiff(t *testing.T) {
	ctx := context.Background()

	repo := &fakeRepo{}
	repo.set(factoryRepomd("100"), factoryPrimary(
		srcPackage("bash", "5.2", "1"),
		srcPackage("coreutils", "9.5", "1"),
	))
	watcher, _, collect := newFactoryFixture(t, repo)

	assert.Equal(t, FactoryWatcherName, watcher.Name())

	// First poll only captures the baseline.
	changed, err := watcher.Crawl(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Empty(t, collect())

	// Unchanged revision is a no-op.
	changed, err = watcher.Crawl(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)

	// New revision: bash bumped, zsh added, coreutils untouched.
	repo.set(factoryRepomd("101"), factoryPrimary(
		srcPackage("bash", "5.2", "2"),
		srcPackage("coreutils", "9.5", "1"),
		srcPackage("zsh", "5.9", "1"),
	))
	changed, err = watcher.Crawl(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	events := collect()
	require.Len(t, events, 2)
	versions := make(map[string]string)
	for _, e := range events {
		assert.Equal(t, EventPackage, e.Type)
		assert.Equal(t, "test", e.Collection)
		assert.Equal(t, FactoryWatcherName, e.Producer)
		versions[e.Package] = e.Version
	}
	assert.Equal(t, "0:5.2-2", versions["bash"])
	assert.Equal(t, "0:5.9-1", versions["zsh"])
	assert.NotContains(t, versions, "coreutils")

	// Same revision again stays quiet.
	changed, err = watcher.Crawl(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Len(t, collect(), 2)
}

func TestFactoryWatcher_UnreachableRepo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	pool, err := srcpool.New(t.TempDir(),
		srcpool.WithCollections([]srcpool.Collection{{Name: "test", BaseURL: srv.URL + "/"}}),
		srcpool.WithLogger(quietLogger()),
	)
	require.NoError(t, err)

	db, err := pasebadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	watcher := NewFactoryWatcher(pool, db, nil, quietLogger())
	_, err = watcher.Crawl(context.Background())
	assert.Error(t, err, "every collection failing must surface an error")
}

func TestFactoryWatcher_MalformedPrimaryKeepsCursor(t *testing.T) {
	ctx := context.Background()

	repo := &fakeRepo{}
	repo.set(factoryRepomd("100"), "this is not xml")
	watcher, _, collect := newFactoryFixture(t, repo)

	_, err := watcher.Crawl(ctx)
	require.Error(t, err)

	rev, readErr := watcher.readString(ctx, factoryRevPrefix+"test")
	require.NoError(t, readErr)
	assert.Empty(t, rev, "failed poll must not persist the revision")

	// Once the metadata is healthy the same revision gets through and
	// the baseline is captured.
	repo.set(factoryRepomd("100"), factoryPrimary(srcPackage("bash", "5.2", "1")))
	changed, err := watcher.Crawl(ctx)
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Empty(t, collect())

	rev, readErr = watcher.readString(ctx, factoryRevPrefix+"test")
	require.NoError(t, readErr)
	assert.Equal(t, "100", rev)
}
