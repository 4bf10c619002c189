// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

// Package archive exports reports and their patches to a GCS bucket
// for retention. The exporter is optional; without credentials the
// daemon runs with archiving disabled.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/boiko/hackweek-applied-pase/services/pase/patchstore"
	"github.com/boiko/hackweek-applied-pase/services/pase/report"
)

var (
	// ErrNoCredentials is returned when the service account key file
	// does not exist.
	ErrNoCredentials = errors.New("service account key not found")

	// ErrDisabled is returned by operations on a nil client.
	ErrDisabled = errors.New("archive exporter is disabled")
)

// Config holds the exporter settings.
type Config struct {
	// Bucket is the GCS bucket name. Empty disables archiving.
	Bucket string `json:"bucket" yaml:"bucket"`

	// CredentialsFile is the path to a service account key.
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// Enabled reports whether the configuration names a bucket and a key.
func (c Config) Enabled() bool {
	return c.Bucket != "" && c.CredentialsFile != ""
}

// Client uploads reports and patches to a GCS bucket.
type Client struct {
	storageClient *storage.Client
	bucket        string
	logger        *slog.Logger
}

// NewClient creates an archive client from the given configuration.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if _, err := os.Stat(cfg.CredentialsFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w at path: %s", ErrNoCredentials, cfg.CredentialsFile)
	}

	storageClient, err := storage.NewClient(ctx, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		storageClient: storageClient,
		bucket:        cfg.Bucket,
		logger:        logger,
	}, nil
}

// Close releases the underlying storage client.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.storageClient.Close()
}

// ReportObjectName returns the bucket path for a report, grouped by
// creation date.
func ReportObjectName(r *report.Report) string {
	return fmt.Sprintf("reports/%s/%s.json", r.CreatedAt.UTC().Format("2006-01-02"), r.ID)
}

// PatchObjectName returns the bucket path for a patch, keyed on its
// checksum so re-archiving the same content overwrites in place.
func PatchObjectName(checksum string) string {
	sum := strings.TrimPrefix(checksum, "sha256:")
	return "patches/" + sum + ".patch"
}

// UploadReport writes one report as JSON to the bucket.
func (c *Client) UploadReport(ctx context.Context, r *report.Report) error {
	if c == nil {
		return ErrDisabled
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", r.ID, err)
	}
	return c.upload(ctx, ReportObjectName(r), "application/json", bytes.NewReader(data))
}

// UploadPatch writes the raw patch bytes to the bucket.
func (c *Client) UploadPatch(ctx context.Context, p *patchstore.Patch) error {
	if c == nil {
		return ErrDisabled
	}
	return c.upload(ctx, PatchObjectName(p.Checksum), "text/x-patch", bytes.NewReader(p.Content))
}

// UploadDir mirrors a local directory into the bucket under the given
// prefix, keeping the directory-relative paths.
func (c *Client) UploadDir(ctx context.Context, localDir, prefix string) error {
	if c == nil {
		return ErrDisabled
	}

	return filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open local file %s: %w", path, err)
		}
		defer f.Close()

		object := filepath.ToSlash(filepath.Join(prefix, rel))
		return c.upload(ctx, object, "application/octet-stream", f)
	})
}

// PushResult summarizes one Push run.
type PushResult struct {
	Reports int `json:"reports"`
	Patches int `json:"patches"`
}

// Push archives every report created at or after since, together with
// the patch each report was built from. Reports older than since stop
// the scan; the store lists newest first.
func (c *Client) Push(ctx context.Context, reports *report.Store, patches *patchstore.Store, since time.Time) (*PushResult, error) {
	if c == nil {
		return nil, ErrDisabled
	}

	result := &PushResult{}
	seen := make(map[string]bool)
	before := time.Time{}

	for {
		page, err := reports.List(ctx, 100, before)
		if err != nil {
			return result, fmt.Errorf("list reports: %w", err)
		}
		if len(page) == 0 {
			return result, nil
		}

		for _, r := range page {
			if r.CreatedAt.Before(since) {
				return result, nil
			}
			if err := c.UploadReport(ctx, r); err != nil {
				return result, err
			}
			result.Reports++

			patch, err := patches.Get(ctx, r.PatchID)
			if err != nil {
				if errors.Is(err, patchstore.ErrNotFound) {
					c.logger.Warn("archived report references a missing patch",
						slog.String("report_id", r.ID),
						slog.Int64("patch_id", r.PatchID))
					continue
				}
				return result, err
			}
			if seen[patch.Checksum] {
				continue
			}
			if err := c.UploadPatch(ctx, patch); err != nil {
				return result, err
			}
			seen[patch.Checksum] = true
			result.Patches++
		}

		before = page[len(page)-1].CreatedAt
	}
}

func (c *Client) upload(ctx context.Context, object, contentType string, r io.Reader) error {
	obj := c.storageClient.Bucket(c.bucket).Object(object)
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, r); err != nil {
		writer.Close()
		return fmt.Errorf("copy to GCS object %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close GCS writer for %s: %w", object, err)
	}

	c.logger.Debug("uploaded object",
		slog.String("bucket", c.bucket),
		slog.String("object", object))
	return nil
}
