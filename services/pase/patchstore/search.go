// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package patchstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
)

// Get returns the patch with the given ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Patch, error) {
	var m patchModel
	err := s.db.NewSelect().Model(&m).Where("id = ?", id).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m.toPatch()
}

// Count returns the number of stored patches.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.db.NewSelect().Model((*patchModel)(nil)).Count(ctx)
}

// List returns stored patches newest first. A limit of 0 means no
// limit.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Patch, error) {
	return s.search(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		if limit > 0 {
			q = q.Limit(limit)
		}
		if offset > 0 {
			q = q.Offset(offset)
		}
		return q
	})
}

// FindByFilename returns all patches with an exactly matching filename,
// newest first.
func (s *Store) FindByFilename(ctx context.Context, filename string) ([]*Patch, error) {
	return s.search(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("filename = ?", filename)
	})
}

// FindByProducer returns all patches from an exactly matching producer,
// newest first.
func (s *Store) FindByProducer(ctx context.Context, producer string) ([]*Patch, error) {
	return s.search(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("producer = ?", producer)
	})
}

// FindByOrigin returns all patches whose origin starts with the given
// prefix, newest first. Searching with a bug tracker base URL returns
// every patch crawled from that tracker.
func (s *Store) FindByOrigin(ctx context.Context, prefix string) ([]*Patch, error) {
	return s.search(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("origin LIKE ?", prefix+"%")
	})
}

// FindByContent returns all patches whose content equals the given
// bytes. The comparison goes through the content checksum.
func (s *Store) FindByContent(ctx context.Context, content []byte) ([]*Patch, error) {
	return s.FindByChecksum(ctx, Checksum(content))
}

// FindByChecksum returns all patches with the given checksum, newest
// first.
func (s *Store) FindByChecksum(ctx context.Context, checksum string) ([]*Patch, error) {
	return s.search(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("checksum = ?", checksum)
	})
}

// search runs a select over the patches table with the given filters
// applied, newest first, and decodes the rows.
func (s *Store) search(ctx context.Context, apply func(*bun.SelectQuery) *bun.SelectQuery) ([]*Patch, error) {
	var models []patchModel
	q := s.db.NewSelect().Model(&models).
		Order("timestamp DESC").
		Order("id DESC")
	if err := apply(q).Scan(ctx); err != nil {
		return nil, err
	}

	patches := make([]*Patch, 0, len(models))
	for i := range models {
		p, err := models[i].toPatch()
		if err != nil {
			return nil, err
		}
		patches = append(patches, p)
	}
	return patches, nil
}
