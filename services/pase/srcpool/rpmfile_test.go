// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package srcpool

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cavaliergopher/cpio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cpioEntry struct {
	name string
	mode cpio.FileMode
	body string
}

func buildCpio(t *testing.T, entries []cpioEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := cpio.NewWriter(&buf)
	for _, e := range entries {
		hdr := &cpio.Header{
			Name: e.name,
			Mode: e.mode,
			Size: int64(len(e.body)),
		}
		require.NoError(t, w.WriteHeader(hdr))
		if e.body != "" {
			_, err := w.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestExtractCpio(t *testing.T) {
	archive := buildCpio(t, []cpioEntry{
		{name: "./hello.c", mode: cpio.TypeReg | 0644, body: "int main(void) { return 0; }\n"},
		{name: "./src", mode: cpio.TypeDir | 0755},
		{name: "./src/util.c", mode: cpio.TypeReg | 0644, body: "void noop(void) {}\n"},
	})

	dir := t.TempDir()
	require.NoError(t, extractCpio(bytes.NewReader(archive), dir))

	data, err := os.ReadFile(filepath.Join(dir, "hello.c"))
	require.NoError(t, err)
	assert.Equal(t, "int main(void) { return 0; }\n", string(data))

	data, err = os.ReadFile(filepath.Join(dir, "src", "util.c"))
	require.NoError(t, err)
	assert.Equal(t, "void noop(void) {}\n", string(data))
}

func TestExtractCpio_RejectsTraversal(t *testing.T) {
	archive := buildCpio(t, []cpioEntry{
		{name: "../evil.sh", mode: cpio.TypeReg | 0644, body: "#!/bin/sh\n"},
	})

	parent := t.TempDir()
	dir := filepath.Join(parent, "pkg")
	require.NoError(t, os.MkdirAll(dir, 0750))

	err := extractCpio(bytes.NewReader(archive), dir)
	require.ErrorIs(t, err, errUnsafePath)

	_, statErr := os.Stat(filepath.Join(parent, "evil.sh"))
	assert.True(t, os.IsNotExist(statErr), "nothing may land outside the package dir")
}

func TestExtractCpio_RejectsAbsolutePath(t *testing.T) {
	archive := buildCpio(t, []cpioEntry{
		{name: "/tmp/evil", mode: cpio.TypeReg | 0644, body: "x"},
	})

	err := extractCpio(bytes.NewReader(archive), t.TempDir())
	assert.ErrorIs(t, err, errUnsafePath)
}

func TestSafeMemberPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "./configure", want: "configure"},
		{in: "./a/./b", want: "a/b"},
		{in: "pkg.spec", want: "pkg.spec"},
		{in: ".", want: ""},
		{in: "./", want: ""},
		{in: "/etc/passwd", wantErr: true},
		{in: "../outside", wantErr: true},
		{in: "a/../../outside", wantErr: true},
		{in: "..", wantErr: true},
	}

	for _, tt := range tests {
		got, err := safeMemberPath(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, errUnsafePath, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestUnpackRPM_NotAnRPM(t *testing.T) {
	err := UnpackRPM(bytes.NewReader([]byte("definitely not an rpm")), t.TempDir())
	assert.Error(t, err)
}
