// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package feed

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boiko/hackweek-applied-pase/services/pase/patchstore"
)

const droppedDiff = `--- a/src/main.c
+++ b/src/main.c
@@ -1,3 +1,3 @@
 int main(void) {
-	return 1;
+	return 0;
 }
`

func newDropFixture(t *testing.T) (*DropWatcher, *patchstore.Store, func() []Event) {
	t.Helper()

	store, err := patchstore.OpenInMemory(patchstore.WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

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

	watcher, err := NewDropWatcher(t.TempDir(), store, emitter, quietLogger())
	require.NoError(t, err)
	watcher.debounce = 20 * time.Millisecond
	t.Cleanup(watcher.Stop)

	return watcher, store, collect
}

func waitForPatch(t *testing.T, store *patchstore.Store, filename string) *patchstore.Patch {
	t.Helper()
	var found *patchstore.Patch
	require.Eventually(t, func() bool {
		patches, err := store.FindByFilename(context.Background(), filename)
		if err != nil || len(patches) == 0 {
			return false
		}
		found = patches[0]
		return true
	}, 3*time.Second, 10*time.Millisecond, "dropped file %s never reached the store", filename)
	return found
}

func TestDropWatcher_StoresDroppedPatch(t *testing.T) {
	watcher, store, collect := newDropFixture(t)
	require.NoError(t, watcher.Start(context.Background()))

	path := filepath.Join(watcher.Dir(), "fix.patch")
	require.NoError(t, os.WriteFile(path, []byte(droppedDiff), 0644))

	p := waitForPatch(t, store, "fix.patch")
	assert.Equal(t, []byte(droppedDiff), p.Content)
	assert.Equal(t, DropProducer, p.Producer)
	assert.Equal(t, "file://"+watcher.Dir(), p.Origin)

	require.Eventually(t, func() bool {
		return len(collect()) == 1
	}, time.Second, 10*time.Millisecond)
	event := collect()[0]
	assert.Equal(t, EventPatch, event.Type)
	assert.Equal(t, p.ID, event.PatchID)
	assert.Equal(t, "fix.patch", event.Filename)
}

func TestDropWatcher_SweepsExistingFiles(t *testing.T) {
	watcher, store, _ := newDropFixture(t)

	// Dropped before the watcher starts, found by the sweep.
	path := filepath.Join(watcher.Dir(), "old.diff")
	require.NoError(t, os.WriteFile(path, []byte(droppedDiff), 0644))

	require.NoError(t, watcher.Start(context.Background()))
	waitForPatch(t, store, "old.diff")
}

func TestDropWatcher_IgnoresNoise(t *testing.T) {
	watcher, store, _ := newDropFixture(t)
	require.NoError(t, watcher.Start(context.Background()))

	for _, name := range []string{".hidden.patch", "notes.txt", "fix.patch.swp", "partial.tmp"} {
		path := filepath.Join(watcher.Dir(), name)
		require.NoError(t, os.WriteFile(path, []byte(droppedDiff), 0644))
	}
	// The eligible file lands last; once it is stored the noise had
	// every chance to be picked up.
	path := filepath.Join(watcher.Dir(), "real.diff")
	require.NoError(t, os.WriteFile(path, []byte(droppedDiff), 0644))

	waitForPatch(t, store, "real.diff")

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDropWatcher_RewriteUpdatesPatch(t *testing.T) {
	watcher, store, _ := newDropFixture(t)
	require.NoError(t, watcher.Start(context.Background()))

	path := filepath.Join(watcher.Dir(), "fix.patch")
	require.NoError(t, os.WriteFile(path, []byte(droppedDiff), 0644))
	waitForPatch(t, store, "fix.patch")

	updated := droppedDiff + "\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	require.Eventually(t, func() bool {
		patches, err := store.FindByFilename(context.Background(), "fix.patch")
		if err != nil || len(patches) != 1 {
			return false
		}
		return string(patches[0].Content) == updated
	}, 3*time.Second, 10*time.Millisecond, "rewrite must update the stored content")

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count, "same file must stay one patch row")
}

func TestEligibleDropFile(t *testing.T) {
	eligible := []string{"fix.patch", "fix.diff", "FIX.PATCH", "a b.patch"}
	for _, name := range eligible {
		assert.True(t, eligibleDropFile(name), name)
	}

	ignored := []string{".fix.patch", "fix.patch.swp", "fix.tmp", "notes.txt", "patch", ""}
	for _, name := range ignored {
		assert.False(t, eligibleDropFile(name), name)
	}
}
