// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package srcpool

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRepomd = `<?xml version="1.0" encoding="UTF-8"?>
<repomd xmlns="http://linux.duke.edu/metadata/repo">
  <revision>1724450000</revision>
  <data type="primary">
    <checksum type="sha256">aabbcc</checksum>
    <location href="repodata/aabbcc-primary.xml.gz"/>
  </data>
  <data type="filelists">
    <checksum type="sha256">ddeeff</checksum>
    <location href="repodata/ddeeff-filelists.xml.gz"/>
  </data>
</repomd>`

const testPrimary = `<?xml version="1.0" encoding="UTF-8"?>
<metadata xmlns="http://linux.duke.edu/metadata/common" xmlns:rpm="http://linux.duke.edu/metadata/rpm" packages="3">
  <package type="rpm">
    <name>bash</name>
    <arch>src</arch>
    <version epoch="0" ver="5.2.37" rel="1.2"/>
    <location href="bash-5.2.37-1.2.src.rpm"/>
  </package>
  <package type="rpm">
    <name>bash</name>
    <arch>x86_64</arch>
    <version epoch="0" ver="5.2.37" rel="1.2"/>
    <location href="x86_64/bash-5.2.37-1.2.x86_64.rpm"/>
  </package>
  <package type="rpm">
    <name>coreutils</name>
    <arch>src</arch>
    <version epoch="0" ver="9.5" rel="2.1"/>
    <location href="coreutils-9.5-2.1.src.rpm"/>
  </package>
</metadata>`

func gzipBytes(t *testing.T, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(data))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// newRepoServer serves a minimal rpm-md repository: plain repomd.xml,
// gzipped primary metadata.
func newRepoServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/repodata/repomd.xml", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, testRepomd)
	})
	mux.HandleFunc("/repodata/aabbcc-primary.xml.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(gzipBytes(t, testPrimary))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestPool(t *testing.T, baseURL string) *Pool {
	t.Helper()
	p, err := New(t.TempDir(),
		WithCollections([]Collection{{Name: "test", BaseURL: baseURL}}),
		WithMinFreeBytes(0),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return p
}

func TestParseRepoMetadata(t *testing.T) {
	srv := newRepoServer(t)
	pool := newTestPool(t, srv.URL+"/")

	md, err := pool.ParseRepoMetadata(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	assert.Equal(t, "1724450000", md.Revision)
	assert.Equal(t, srv.URL+"/repodata/aabbcc-primary.xml.gz", md.Files["primary"])
	assert.Equal(t, srv.URL+"/repodata/ddeeff-filelists.xml.gz", md.Files["filelists"])
}

func TestSourcePackages_FiltersNonSource(t *testing.T) {
	srv := newRepoServer(t)
	pool := newTestPool(t, srv.URL+"/")

	packages, err := pool.SourcePackages(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	require.Len(t, packages, 2, "x86_64 entry must be filtered out")
	assert.Equal(t, "bash", packages[0].Name)
	assert.Equal(t, "5.2.37", packages[0].Version)
	assert.Equal(t, "1.2", packages[0].Release)
	assert.Equal(t, "bash-5.2.37-1.2.src.rpm", packages[0].Location)
	assert.Equal(t, "coreutils", packages[1].Name)
}

func TestDownloadAndUnpack_PlainFallback(t *testing.T) {
	// Metadata served uncompressed must still parse; some mirrors hand
	// out plain XML where the href promises a .gz.
	mux := http.NewServeMux()
	mux.HandleFunc("/repodata/repomd.xml", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, testRepomd)
	})
	mux.HandleFunc("/repodata/aabbcc-primary.xml.gz", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, testPrimary)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pool := newTestPool(t, srv.URL+"/")
	packages, err := pool.SourcePackages(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.Len(t, packages, 2)
}

func TestSourcePackages_MissingPrimary(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repodata/repomd.xml", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<repomd><revision>1</revision></repomd>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pool := newTestPool(t, srv.URL+"/")
	_, err := pool.SourcePackages(context.Background(), srv.URL+"/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no primary metadata")
}

func TestResolveURL(t *testing.T) {
	abs, err := resolveURL("https://download.opensuse.org/source/tumbleweed/repo/oss/", "repodata/repomd.xml")
	require.NoError(t, err)
	assert.Equal(t, "https://download.opensuse.org/source/tumbleweed/repo/oss/repodata/repomd.xml", abs)

	abs, err = resolveURL("https://example.org/repo/", "https://mirror.example.org/file.rpm")
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example.org/file.rpm", abs, "absolute hrefs win over the base")
}
