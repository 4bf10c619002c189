// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package patchstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSeededStore opens an in-memory store with nine patches, mirroring
// a small crawl from a single bug tracker.
func newSeededStore(t *testing.T) *Store {
	t.Helper()

	store, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for i := 1; i <= 9; i++ {
		p := &Patch{
			Filename: fmt.Sprintf("patch%d.patch", i),
			Content:  []byte(fmt.Sprintf("contents of patch #%d", i)),
			Producer: "Bugzilla patch crawler",
			Origin:   fmt.Sprintf("https://example.org/patches/patch%d", i),
		}
		require.NoError(t, store.Add(ctx, p))
	}
	return store
}

func TestAdd_Validation(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	tests := []struct {
		name    string
		patch   *Patch
		wantErr error
	}{
		{
			name:    "empty filename",
			patch:   &Patch{Content: []byte("contents"), Producer: "p", Origin: "o"},
			wantErr: ErrNoFilename,
		},
		{
			name:    "not a patch file",
			patch:   &Patch{Filename: "patch.txt", Content: []byte("contents"), Producer: "p", Origin: "o"},
			wantErr: ErrNotPatchFile,
		},
		{
			name:    "empty content",
			patch:   &Patch{Filename: "patch.patch", Producer: "p", Origin: "o"},
			wantErr: ErrEmptyContent,
		},
		{
			name:    "empty producer",
			patch:   &Patch{Filename: "patch.patch", Content: []byte("contents"), Origin: "o"},
			wantErr: ErrEmptyProducer,
		},
		{
			name:    "empty origin",
			patch:   &Patch{Filename: "patch.patch", Content: []byte("contents"), Producer: "p"},
			wantErr: ErrNoOrigin,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Add(ctx, tt.patch)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count, "rejected patches must not be stored")
}

func TestAdd_AcceptsDiffExtension(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for _, name := range []string{"fix.diff", "fix2.PATCH", "fix3.Diff"} {
		p := &Patch{Filename: name, Content: []byte("x"), Producer: "p", Origin: "o://" + name}
		assert.NoError(t, store.Add(ctx, p), name)
	}
}

func TestAdd_Upsert(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	before, err := store.FindByFilename(ctx, "patch3.patch")
	require.NoError(t, err)
	require.Len(t, before, 1)

	time.Sleep(10 * time.Millisecond)

	// Same identity triple with new content replaces the row.
	p := &Patch{
		Filename: "patch3.patch",
		Content:  []byte("revised contents of patch #3"),
		Producer: "Bugzilla patch crawler",
		Origin:   "https://example.org/patches/patch3",
	}
	require.NoError(t, store.Add(ctx, p))
	assert.Equal(t, before[0].ID, p.ID, "upsert keeps the row ID")

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, count, "upsert must not grow the table")

	after, err := store.FindByFilename(ctx, "patch3.patch")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, []byte("revised contents of patch #3"), after[0].Content)
	assert.NotEqual(t, before[0].Checksum, after[0].Checksum)
	assert.True(t, after[0].Timestamp.After(before[0].Timestamp),
		"upsert refreshes the timestamp")
}

func TestAdd_DistinctProducersKeepSeparateRows(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	p := &Patch{
		Filename: "patch1.patch",
		Content:  []byte("same file from a different feed"),
		Producer: "Patch drop directory",
		Origin:   "file:///var/lib/pase/drop/patch1.patch",
	}
	require.NoError(t, store.Add(ctx, p))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, count)

	matches, err := store.FindByFilename(ctx, "patch1.patch")
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestChecksum(t *testing.T) {
	// Fixed value computed from the base64 form of the content; stored
	// checksums from older databases must keep matching.
	sum := Checksum([]byte("contents of patch #4"))
	assert.Equal(t, "sha256:251ea44f70326f6bb8d4c80b0c670d14581925b80c622905acd1685abfecb117", sum)
}

func TestAdd_ComputesChecksum(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	patches, err := store.FindByFilename(ctx, "patch4.patch")
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.Equal(t, Checksum([]byte("contents of patch #4")), patches[0].Checksum)
}

func TestGet(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	patches, err := store.FindByFilename(ctx, "patch7.patch")
	require.NoError(t, err)
	require.Len(t, patches, 1)

	got, err := store.Get(ctx, patches[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "patch7.patch", got.Filename)
	assert.Equal(t, []byte("contents of patch #7"), got.Content)

	_, err = store.Get(ctx, 424242)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExists(t *testing.T) {
	store := newSeededStore(t)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "patch2.patch", "Bugzilla patch crawler", "https://example.org/patches/patch2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "patch2.patch", "someone else", "https://example.org/patches/patch2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdd_TimestampDefaultsToNow(t *testing.T) {
	store, err := OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	p := &Patch{Filename: "a.patch", Content: []byte("x"), Producer: "p", Origin: "o"}
	require.NoError(t, store.Add(ctx, p))
	assert.WithinDuration(t, time.Now(), p.Timestamp, 5*time.Second)
}

func TestParseTimestamp(t *testing.T) {
	valid := []string{
		"2023-11-06T11:42:41+01:00",
		"2023-11-06T11:42:41Z",
		"2023-11-06T11:42:41",
		"2023-11-06 11:42:41.123456",
		"2023-11-06 11:42:41",
		"2023-11-06",
	}
	for _, s := range valid {
		_, err := ParseTimestamp(s)
		assert.NoError(t, err, s)
	}

	invalid := []string{
		"today",
		"2023-11-06 11:42:41 UTC",
		"06/11/2023",
		"",
	}
	for _, s := range invalid {
		_, err := ParseTimestamp(s)
		require.Error(t, err, s)
		assert.Contains(t, err.Error(), "expects ISO 8601")
	}
}

func TestIsPatchFilename(t *testing.T) {
	assert.True(t, IsPatchFilename("fix.patch"))
	assert.True(t, IsPatchFilename("fix.diff"))
	assert.True(t, IsPatchFilename("FIX.DIFF"))
	assert.False(t, IsPatchFilename("fix.txt"))
	assert.False(t, IsPatchFilename("patch"))
	assert.False(t, IsPatchFilename(""))
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestOpen_Persistent(t *testing.T) {
	path := t.TempDir() + "/patches.db"

	store, err := Open(path)
	require.NoError(t, err)

	ctx := context.Background()
	p := &Patch{Filename: "keep.patch", Content: []byte("x"), Producer: "p", Origin: "o"}
	require.NoError(t, store.Add(ctx, p))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
