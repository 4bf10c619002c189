// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pasebadger "github.com/boiko/hackweek-applied-pase/services/pase/storage/badger"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCursors(t *testing.T) *Cursors {
	t.Helper()
	db, err := pasebadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCursors(db)
}

// fakeCrawler counts its runs and can block until released.
type fakeCrawler struct {
	name    string
	added   int
	err     error
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (f *fakeCrawler) Name() string { return f.name }

func (f *fakeCrawler) Crawl(ctx context.Context) (int, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return f.added, f.err
}

func (f *fakeCrawler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestEmitter_FanOut(t *testing.T) {
	emitter := NewEmitter()

	var mu sync.Mutex
	var first, second []Event
	emitter.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		first = append(first, e)
	})
	emitter.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		second = append(second, e)
	})

	emitter.Emit(Event{Type: EventPatch, PatchID: 7, Filename: "fix.patch"})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, int64(7), first[0].PatchID)
	assert.False(t, first[0].At.IsZero(), "Emit must stamp the event")
}

func TestEmitter_NilSink(t *testing.T) {
	emitter := NewEmitter()
	emitter.Subscribe(nil)
	assert.NotPanics(t, func() {
		emitter.Emit(Event{Type: EventPatch})
	})
}

func TestCursors_RoundTrip(t *testing.T) {
	ctx := context.Background()
	cursors := newTestCursors(t)

	_, found, err := cursors.Get(ctx, "fake")
	require.NoError(t, err)
	assert.False(t, found, "no cursor before the first Set")

	now := time.Now()
	require.NoError(t, cursors.Set(ctx, "fake", now))

	got, found, err := cursors.Get(ctx, "fake")
	require.NoError(t, err)
	require.True(t, found)
	assert.WithinDuration(t, now, got, time.Millisecond)
}

func TestRunner_MinInterval(t *testing.T) {
	ctx := context.Background()
	crawler := &fakeCrawler{name: "fake", added: 2}
	runner := NewRunner(newTestCursors(t), WithLogger(quietLogger()))
	runner.Register(crawler)

	runner.RunDue(ctx)
	assert.Equal(t, 1, crawler.callCount())

	// Second pass inside the interval must skip.
	runner.RunDue(ctx)
	assert.Equal(t, 1, crawler.callCount())

	status := runner.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "fake", status[0].Name)
	assert.Equal(t, 2, status[0].LastAdded)
	assert.Empty(t, status[0].LastError)
	assert.False(t, status[0].Running)
}

func TestRunner_CursorOnlyAdvancesOnSuccess(t *testing.T) {
	ctx := context.Background()
	cursors := newTestCursors(t)
	crawler := &fakeCrawler{name: "bad", err: errors.New("boom")}
	runner := NewRunner(cursors, WithLogger(quietLogger()))
	runner.Register(crawler)

	runner.RunDue(ctx)
	assert.Equal(t, 1, crawler.callCount())

	_, found, err := cursors.Get(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, found, "failed crawl must not advance the cursor")

	// Still due, so the next pass retries.
	runner.RunDue(ctx)
	assert.Equal(t, 2, crawler.callCount())

	status := runner.Status()
	require.Len(t, status, 1)
	assert.Contains(t, status[0].LastError, "boom")
}

func TestRunner_RunNow(t *testing.T) {
	ctx := context.Background()
	crawler := &fakeCrawler{name: "fake", added: 3}
	runner := NewRunner(newTestCursors(t), WithLogger(quietLogger()))
	runner.Register(crawler)

	_, err := runner.RunNow(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownCrawler)

	added, err := runner.RunNow(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	// RunNow ignores the minimum interval.
	_, err = runner.RunNow(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, 2, crawler.callCount())
}

func TestRunner_RejectsOverlappingRuns(t *testing.T) {
	ctx := context.Background()
	crawler := &fakeCrawler{
		name:    "slow",
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	runner := NewRunner(newTestCursors(t), WithLogger(quietLogger()))
	runner.Register(crawler)

	done := make(chan error, 1)
	go func() {
		_, err := runner.RunNow(ctx, "slow")
		done <- err
	}()

	<-crawler.started
	_, err := runner.RunNow(ctx, "slow")
	assert.ErrorIs(t, err, ErrCrawlInProgress)

	close(crawler.release)
	require.NoError(t, <-done)
}

func TestRunner_StartAndWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	crawler := &fakeCrawler{name: "fake"}
	runner := NewRunner(newTestCursors(t),
		WithLogger(quietLogger()),
		WithTick(10*time.Millisecond),
		WithMinInterval(30*time.Millisecond),
	)
	runner.Register(crawler)
	runner.Start(ctx)

	require.Eventually(t, func() bool {
		return crawler.callCount() >= 2
	}, 2*time.Second, 5*time.Millisecond, "ticker must re-run the crawler once due again")

	cancel()
	runner.Wait()
}

func TestRunner_StatusSorted(t *testing.T) {
	runner := NewRunner(newTestCursors(t), WithLogger(quietLogger()))
	runner.Register(&fakeCrawler{name: "zeta"})
	runner.Register(&fakeCrawler{name: "alpha"})

	status := runner.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "alpha", status[0].Name)
	assert.Equal(t, "zeta", status[1].Name)
}
