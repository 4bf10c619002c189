// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	pasebadger "github.com/boiko/hackweek-applied-pase/services/pase/storage/badger"
)

// ErrNotFound is returned when no report matches the lookup.
var ErrNotFound = errors.New("report not found")

// DefaultListLimit caps List when the caller passes no limit.
const DefaultListLimit = 20

// Key layout:
//
//	report:<patchID>:<reportID>      full report JSON
//	reportid:<reportID>              -> main key, for Get by ID
//	reportidx:<created nanos>:<ID>   -> main key, newest-first listing
const (
	reportKeyPrefix = "report:"
	reportIDPrefix  = "reportid:"
	reportIdxPrefix = "reportidx:"
)

func reportKey(patchID int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s", reportKeyPrefix, patchID, id))
}

func reportIDKey(id string) []byte {
	return []byte(reportIDPrefix + id)
}

func reportIdxKey(createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", reportIdxPrefix, createdAt.UnixNano(), id))
}

// Store persists reports in Badger. Reports are immutable; Put always
// writes a new row.
type Store struct {
	db *pasebadger.DB
}

// NewStore creates a report store on the given database.
func NewStore(db *pasebadger.DB) *Store {
	return &Store{db: db}
}

// Put stores a report under its ID and ordering keys.
func (s *Store) Put(ctx context.Context, r *Report) error {
	if r.ID == "" {
		return errors.New("report has no ID")
	}
	if r.PatchID <= 0 {
		return errors.New("report has no patch ID")
	}

	encoded, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", r.ID, err)
	}

	mainKey := reportKey(r.PatchID, r.ID)
	err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		if err := txn.Set(mainKey, encoded); err != nil {
			return err
		}
		if err := txn.Set(reportIDKey(r.ID), mainKey); err != nil {
			return err
		}
		return txn.Set(reportIdxKey(r.CreatedAt, r.ID), mainKey)
	})
	if err != nil {
		return fmt.Errorf("store report %s: %w", r.ID, err)
	}
	return nil
}

// Get returns the report with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*Report, error) {
	var report *Report
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		mainKey, err := valueCopy(txn, reportIDKey(id))
		if err != nil {
			return err
		}
		report, err = loadReport(txn, mainKey)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load report %s: %w", id, err)
	}
	return report, nil
}

// List returns up to limit reports created strictly before the given
// time, newest first. A zero before lists from the most recent; a
// non-positive limit falls back to DefaultListLimit.
func (s *Store) List(ctx context.Context, limit int, before time.Time) ([]*Report, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	prefix := []byte(reportIdxPrefix)
	seek := append(append([]byte(nil), prefix...), 0xff)
	if !before.IsZero() {
		// Reverse Seek lands on the largest key <= the target; a bare
		// timestamp key sorts before every real entry at that
		// timestamp, which makes before exclusive.
		seek = []byte(fmt.Sprintf("%s%020d", reportIdxPrefix, before.UnixNano()))
	}

	var reports []*Report
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)

		var mainKeys [][]byte
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(mainKeys) < limit; it.Next() {
			key, err := it.Item().ValueCopy(nil)
			if err != nil {
				it.Close()
				return err
			}
			mainKeys = append(mainKeys, key)
		}
		it.Close()

		for _, key := range mainKeys {
			report, err := loadReport(txn, key)
			if err != nil {
				return err
			}
			reports = append(reports, report)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

// LatestFor returns the most recent report for a patch.
func (s *Store) LatestFor(ctx context.Context, patchID int64) (*Report, error) {
	prefix := []byte(fmt.Sprintf("%s%d:", reportKeyPrefix, patchID))

	var latest *Report
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var report *Report
			err := it.Item().Value(func(val []byte) error {
				report = &Report{}
				return json.Unmarshal(val, report)
			})
			if err != nil {
				return err
			}
			if latest == nil || report.CreatedAt.After(latest.CreatedAt) {
				latest = report
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load latest report for patch %d: %w", patchID, err)
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// Count returns how many reports are stored.
func (s *Store) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(reportIDPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return count, nil
}

func valueCopy(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func loadReport(txn *badger.Txn, mainKey []byte) (*Report, error) {
	raw, err := valueCopy(txn, mainKey)
	if err != nil {
		return nil, err
	}
	report := &Report{}
	if err := json.Unmarshal(raw, report); err != nil {
		return nil, fmt.Errorf("decode report at %s: %w", mainKey, err)
	}
	return report, nil
}
