// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

// Package patchstore persists patch files and their provenance.
//
// Every patch any feed discovers lands here: the file name, the raw
// unified diff, a content checksum, the producer that found it, and the
// origin it came from. Content is stored base64-encoded and the checksum
// is computed over the encoded form, so checksums written by earlier
// revisions of the store keep matching.
//
// The store is backed by SQLite through the pure-Go modernc.org driver,
// with bun as the query layer.
package patchstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Validation sentinels returned by Add.
var (
	// ErrNoFilename means the patch had no filename to identify it by.
	ErrNoFilename = errors.New("storing a patch requires a filename to identify the patch")

	// ErrNotPatchFile means the filename lacks a .patch or .diff extension.
	ErrNotPatchFile = errors.New("filename does not match that of a patch file")

	// ErrEmptyContent means the patch body was empty.
	ErrEmptyContent = errors.New("empty patch contents")

	// ErrEmptyProducer means no producer was recorded for the patch.
	ErrEmptyProducer = errors.New("empty producer")

	// ErrNoOrigin means the patch had no origin identifier.
	ErrNoOrigin = errors.New("storing a patch requires a valid origin")

	// ErrNotFound is returned by lookups that match no patch.
	ErrNotFound = errors.New("patch not found")
)

// timestampFormat is how timestamps are written to the database. The
// space separator and fixed microsecond width keep rows sortable as
// text.
const timestampFormat = "2006-01-02 15:04:05.000000"

// timestampLayouts are the ISO 8601 shapes accepted from callers.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses an ISO 8601 timestamp in any of the accepted
// layouts.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp format: %q (expects ISO 8601)", s)
}

// Checksum computes the content checksum stored alongside a patch:
// sha256 over the base64 encoding of the raw content, prefixed with the
// hash name.
func Checksum(content []byte) string {
	encoded := base64.StdEncoding.EncodeToString(content)
	sum := sha256.Sum256([]byte(encoded))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Patch is a stored patch file with its provenance.
type Patch struct {
	ID       int64
	Filename string

	// Content is the raw unified diff. Encoding to and from the stored
	// base64 form happens at the storage boundary.
	Content []byte

	Checksum  string
	Producer  string
	Origin    string
	Timestamp time.Time
}

// patchModel maps the patches table for bun queries.
type patchModel struct {
	bun.BaseModel `bun:"table:patches"`
	ID            int64  `bun:"id,pk,autoincrement"`
	Filename      string `bun:"filename,notnull"`
	Content       []byte `bun:"content,notnull"`
	Checksum      string `bun:"checksum,notnull"`
	Producer      string `bun:"producer,notnull"`
	Origin        string `bun:"origin,notnull"`
	Timestamp     string `bun:"timestamp,notnull"`
}

func (m *patchModel) toPatch() (*Patch, error) {
	raw, err := base64.StdEncoding.DecodeString(string(m.Content))
	if err != nil {
		return nil, fmt.Errorf("decode stored content of patch %d: %w", m.ID, err)
	}
	ts, err := ParseTimestamp(m.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("patch %d: %w", m.ID, err)
	}
	return &Patch{
		ID:        m.ID,
		Filename:  m.Filename,
		Content:   raw,
		Checksum:  m.Checksum,
		Producer:  m.Producer,
		Origin:    m.Origin,
		Timestamp: ts,
	}, nil
}

// Store is the SQLite-backed patch store. Safe for concurrent use.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for store events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (creating if needed) the patch store at the given SQLite
// DSN and ensures the schema exists.
func Open(dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("patch store requires a database path")
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open patch store %s: %w", dsn, err)
	}

	// In-memory SQLite keeps a separate database per connection, so a
	// shared schema needs a single connection.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	} else {
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{db: bun.NewDB(sqlDB, sqlitedialect.New())}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.createSchema(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens an in-memory patch store for tests.
func OpenInMemory(opts ...Option) (*Store, error) {
	return Open(":memory:", opts...)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS patches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL,
			content BLOB NOT NULL,
			checksum TEXT NOT NULL,
			producer TEXT NOT NULL,
			origin TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_patches_identity
			ON patches (filename, producer, origin)`,
		`CREATE INDEX IF NOT EXISTS idx_patches_checksum ON patches (checksum)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create patch store schema: %w", err)
		}
	}
	return nil
}

// validate checks the fields Add requires.
func validate(p *Patch) error {
	if p.Filename == "" {
		return ErrNoFilename
	}
	if !IsPatchFilename(p.Filename) {
		return ErrNotPatchFile
	}
	if len(p.Content) == 0 {
		return ErrEmptyContent
	}
	if p.Producer == "" {
		return ErrEmptyProducer
	}
	if p.Origin == "" {
		return ErrNoOrigin
	}
	return nil
}

// IsPatchFilename reports whether a filename looks like a patch file.
// The extension check is case-insensitive.
func IsPatchFilename(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".patch", ".diff":
		return true
	}
	return false
}

// Add inserts or updates a patch. The identity of a patch is the
// (filename, producer, origin) triple: a second Add with the same triple
// replaces the stored content, checksum and timestamp instead of adding
// a row. The checksum is computed here; any caller-supplied value is
// overwritten. On success p.ID and p.Checksum are filled in.
func (s *Store) Add(ctx context.Context, p *Patch) error {
	if err := validate(p); err != nil {
		return err
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}

	encoded := []byte(base64.StdEncoding.EncodeToString(p.Content))
	p.Checksum = Checksum(p.Content)
	ts := p.Timestamp.Format(timestampFormat)

	var updated bool
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var existing patchModel
		err := tx.NewSelect().Model(&existing).
			Where("filename = ?", p.Filename).
			Where("producer = ?", p.Producer).
			Where("origin = ?", p.Origin).
			Limit(1).
			Scan(ctx)
		switch {
		case err == nil:
			_, err := tx.NewUpdate().Model((*patchModel)(nil)).
				Set("content = ?", encoded).
				Set("checksum = ?", p.Checksum).
				Set("timestamp = ?", ts).
				Where("id = ?", existing.ID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("update patch %d: %w", existing.ID, err)
			}
			p.ID = existing.ID
			updated = true
			return nil
		case errors.Is(err, sql.ErrNoRows):
			m := &patchModel{
				Filename:  p.Filename,
				Content:   encoded,
				Checksum:  p.Checksum,
				Producer:  p.Producer,
				Origin:    p.Origin,
				Timestamp: ts,
			}
			if _, err := tx.NewInsert().Model(m).Returning("id").Exec(ctx); err != nil {
				return fmt.Errorf("insert patch %s: %w", p.Filename, err)
			}
			p.ID = m.ID
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return err
	}

	if s.logger != nil {
		if updated {
			s.logger.Info("updated existing patch",
				slog.String("filename", p.Filename),
				slog.String("producer", p.Producer),
				slog.String("origin", p.Origin))
		} else {
			s.logger.Info("stored new patch",
				slog.String("filename", p.Filename),
				slog.String("origin", p.Origin))
		}
	}
	return nil
}

// Exists reports whether a patch with the given identity triple is
// already stored.
func (s *Store) Exists(ctx context.Context, filename, producer, origin string) (bool, error) {
	n, err := s.db.NewSelect().Model((*patchModel)(nil)).
		Where("filename = ?", filename).
		Where("producer = ?", producer).
		Where("origin = ?", origin).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
