// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/boiko/hackweek-applied-pase/services/pase/srcpool"
	pasebadger "github.com/boiko/hackweek-applied-pase/services/pase/storage/badger"
)

// FactoryWatcherName identifies the repository watcher as a patch
// producer and crawler.
const FactoryWatcherName = "Factory repository watcher"

const (
	factoryRevPrefix  = "factory:rev:"
	factoryPkgsPrefix = "factory:pkgs:"
)

// FactoryWatcher polls the rpm-md metadata of every configured
// collection and emits a package event for each source package that
// appeared or changed version since the previous poll. It never
// downloads sources itself; the pool notices the version drift on its
// next sync.
type FactoryWatcher struct {
	pool    *srcpool.Pool
	db      *pasebadger.DB
	emitter *Emitter
	logger  *slog.Logger
}

// NewFactoryWatcher creates a watcher over the pool's collections.
// The emitter may be nil when nobody consumes package events.
func NewFactoryWatcher(pool *srcpool.Pool, db *pasebadger.DB, emitter *Emitter, logger *slog.Logger) *FactoryWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FactoryWatcher{pool: pool, db: db, emitter: emitter, logger: logger}
}

// Name implements Crawler.
func (w *FactoryWatcher) Name() string { return FactoryWatcherName }

// Crawl polls every collection once. A failing collection is logged
// and skipped; an error is returned only when every collection fails,
// so one unreachable mirror does not block the rest. The returned
// count is the number of changed packages observed.
func (w *FactoryWatcher) Crawl(ctx context.Context) (int, error) {
	collections := w.pool.Collections()

	var (
		changed int
		errs    []error
	)
	for _, col := range collections {
		if err := ctx.Err(); err != nil {
			return changed, err
		}

		n, err := w.pollCollection(ctx, col)
		if err != nil {
			w.logger.Warn("collection poll failed",
				slog.String("collection", col.Name),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", col.Name, err))
			continue
		}
		changed += n
	}

	if len(errs) > 0 && len(errs) == len(collections) {
		return changed, errors.Join(errs...)
	}
	return changed, nil
}

func (w *FactoryWatcher) pollCollection(ctx context.Context, col srcpool.Collection) (int, error) {
	md, err := w.pool.ParseRepoMetadata(ctx, col.BaseURL)
	if err != nil {
		return 0, fmt.Errorf("fetch repomd: %w", err)
	}

	prevRev, err := w.readString(ctx, factoryRevPrefix+col.Name)
	if err != nil {
		return 0, err
	}
	if prevRev != "" && prevRev == md.Revision {
		w.logger.Debug("repository revision unchanged",
			slog.String("collection", col.Name),
			slog.String("revision", md.Revision))
		return 0, nil
	}

	packages, err := w.pool.SourcePackagesFrom(ctx, md)
	if err != nil {
		return 0, fmt.Errorf("fetch primary metadata: %w", err)
	}

	current := make(map[string]string, len(packages))
	for _, p := range srcpool.NewestOnly(packages) {
		current[p.Name] = p.VersionID()
	}

	previous, err := w.readSet(ctx, factoryPkgsPrefix+col.Name)
	if err != nil {
		return 0, err
	}

	// The very first poll of a collection has nothing to diff against;
	// announcing every package as new would flood the pipeline, so it
	// only captures the baseline.
	baseline := prevRev == "" && len(previous) == 0

	changed := 0
	if !baseline {
		for name, version := range current {
			if prev, ok := previous[name]; ok && prev == version {
				continue
			}
			changed++
			if w.emitter != nil {
				w.emitter.Emit(Event{
					Type:       EventPackage,
					Producer:   FactoryWatcherName,
					Origin:     col.BaseURL,
					Collection: col.Name,
					Package:    name,
					Version:    version,
				})
			}
		}
	}

	if err := w.persist(ctx, col.Name, md.Revision, current); err != nil {
		return changed, fmt.Errorf("persist package set: %w", err)
	}

	if baseline {
		w.logger.Info("captured repository baseline",
			slog.String("collection", col.Name),
			slog.String("revision", md.Revision),
			slog.Int("packages", len(current)))
	} else {
		w.logger.Info("repository changed",
			slog.String("collection", col.Name),
			slog.String("revision", md.Revision),
			slog.Int("changed_packages", changed))
	}
	return changed, nil
}

func (w *FactoryWatcher) readString(ctx context.Context, key string) (string, error) {
	var value string
	err := w.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return value, nil
}

func (w *FactoryWatcher) readSet(ctx context.Context, key string) (map[string]string, error) {
	set := make(map[string]string)
	err := w.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &set)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return set, nil
}

// persist writes the revision and package set in one transaction, so
// a crash cannot leave the revision ahead of the set it describes.
func (w *FactoryWatcher) persist(ctx context.Context, collection, revision string, set map[string]string) error {
	encoded, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return w.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set([]byte(factoryRevPrefix+collection), []byte(revision)); err != nil {
			return err
		}
		return txn.Set([]byte(factoryPkgsPrefix+collection), encoded)
	})
}
