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
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	pasebadger "github.com/boiko/hackweek-applied-pase/services/pase/storage/badger"
)

const cursorPrefix = "cursor:"

// Cursors persists per-crawler last-run timestamps so the schedule
// survives restarts.
type Cursors struct {
	db *pasebadger.DB
}

// NewCursors creates a cursor store on the given database.
func NewCursors(db *pasebadger.DB) *Cursors {
	return &Cursors{db: db}
}

// Get returns the stored cursor for the named crawler. The second
// return is false when no cursor has been set yet.
func (c *Cursors) Get(ctx context.Context, name string) (time.Time, bool, error) {
	var (
		at    time.Time
		found bool
	)
	err := c.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cursorPrefix + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, err := time.Parse(time.RFC3339Nano, string(val))
			if err != nil {
				return fmt.Errorf("parse cursor for %s: %w", name, err)
			}
			at = parsed
			found = true
			return nil
		})
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read cursor for %s: %w", name, err)
	}
	return at, found, nil
}

// Set stores the cursor for the named crawler.
func (c *Cursors) Set(ctx context.Context, name string, at time.Time) error {
	err := c.db.WithTxn(ctx, func(txn *badger.Txn) error {
		value := at.UTC().Format(time.RFC3339Nano)
		return txn.Set([]byte(cursorPrefix+name), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("store cursor for %s: %w", name, err)
	}
	return nil
}
