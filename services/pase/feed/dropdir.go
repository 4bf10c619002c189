// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package feed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/boiko/hackweek-applied-pase/services/pase/patchstore"
)

// DropProducer identifies patches picked up from the drop directory.
const DropProducer = "patch drop directory"

// DefaultDebounce is how long the drop watcher waits after the last
// write event before reading a file. Editors and cp write in chunks;
// the window collects them into one store per file.
const DefaultDebounce = 100 * time.Millisecond

// DropWatcher stores patch files that appear in a local directory.
// Unlike the crawlers it runs continuously: Start begins watching,
// Stop ends it.
type DropWatcher struct {
	dir      string
	store    *patchstore.Store
	emitter  *Emitter
	logger   *slog.Logger
	debounce time.Duration

	watcher  *fsnotify.Watcher
	changes  chan string
	done     chan struct{}
	stopOnce sync.Once
}

// NewDropWatcher creates a watcher on dir, creating the directory when
// missing. The emitter may be nil.
func NewDropWatcher(dir string, store *patchstore.Store, emitter *Emitter, logger *slog.Logger) (*DropWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve drop directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("create drop directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	return &DropWatcher{
		dir:      abs,
		store:    store,
		emitter:  emitter,
		logger:   logger,
		debounce: DefaultDebounce,
		watcher:  watcher,
		changes:  make(chan string, 64),
		done:     make(chan struct{}),
	}, nil
}

// Dir returns the absolute path of the watched directory.
func (w *DropWatcher) Dir() string {
	return w.dir
}

// Start begins watching. Files already sitting in the directory are
// swept up first, so patches dropped while the service was down are
// not lost.
func (w *DropWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	go w.processEvents()
	go w.debounceLoop(ctx)
	go w.sweep(ctx)

	w.logger.Info("watching drop directory", slog.String("dir", w.dir))
	return nil
}

// Stop ends the watch. Safe to call more than once.
func (w *DropWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if err := w.watcher.Close(); err != nil {
			w.logger.Warn("closing drop watcher failed",
				slog.String("error", err.Error()))
		}
	})
}

// sweep ingests eligible files already present in the directory.
func (w *DropWatcher) sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("drop directory sweep failed",
			slog.String("dir", w.dir),
			slog.String("error", err.Error()))
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() || !eligibleDropFile(entry.Name()) {
			continue
		}
		w.ingest(ctx, filepath.Join(w.dir, entry.Name()))
	}
}

func (w *DropWatcher) processEvents() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !eligibleDropFile(filepath.Base(event.Name)) {
				continue
			}
			select {
			case w.changes <- event.Name:
			case <-w.done:
				return
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("drop directory watch error",
				slog.String("error", err.Error()))
		}
	}
}

// debounceLoop batches change events and ingests each file once per
// quiet period.
func (w *DropWatcher) debounceLoop(ctx context.Context) {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	pending := make(map[string]struct{})

	flush := func() {
		for path := range pending {
			delete(pending, path)
			w.ingest(ctx, path)
		}
		timerC = nil
	}

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case path := <-w.changes:
			pending[path] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			flush()
		}
	}
}

func (w *DropWatcher) ingest(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("reading dropped file failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}
	if len(data) == 0 {
		// Create fires before the first byte lands; the Write event
		// that follows re-queues the file.
		return
	}

	p := &patchstore.Patch{
		Filename: filepath.Base(path),
		Content:  data,
		Producer: DropProducer,
		Origin:   "file://" + w.dir,
	}
	if err := w.store.Add(ctx, p); err != nil {
		w.logger.Warn("storing dropped patch failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return
	}

	w.logger.Info("stored dropped patch",
		slog.String("filename", p.Filename),
		slog.Int64("patch_id", p.ID))

	if w.emitter != nil {
		w.emitter.Emit(Event{
			Type:     EventPatch,
			PatchID:  p.ID,
			Filename: p.Filename,
			Producer: DropProducer,
			Origin:   p.Origin,
		})
	}
}

// eligibleDropFile filters out editor droppings: hidden files, swap
// and temp files, anything without a patch extension.
func eligibleDropFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return patchstore.IsPatchFilename(name)
}
