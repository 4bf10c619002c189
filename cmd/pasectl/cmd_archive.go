// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/boiko/hackweek-applied-pase/pkg/ux"
	"github.com/boiko/hackweek-applied-pase/services/pase"
	"github.com/boiko/hackweek-applied-pase/services/pase/archive"
	"github.com/boiko/hackweek-applied-pase/services/pase/patchstore"
	"github.com/boiko/hackweek-applied-pase/services/pase/report"
	pasebadger "github.com/boiko/hackweek-applied-pase/services/pase/storage/badger"
)

var archiveSince string

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Export reports and patches to the archive bucket",
}

// archivePushCmd works on the local stores directly, not through the
// daemon; stop pased first so the stores are not locked.
var archivePushCmd = &cobra.Command{
	Use:   "push",
	Short: "Upload reports and their patches to the configured GCS bucket",
	Long: `Uploads applicability reports (newest first) and the patches they
cover to the configured Google Cloud Storage bucket. Reports land under
reports/<date>/<report-id>.json, patches under patches/<checksum>.patch.

This command opens the local stores directly; stop pased before running
it.`,
	Args: cobra.NoArgs,
	RunE: runArchivePush,
}

func init() {
	archivePushCmd.Flags().StringVar(&archiveSince, "since", "",
		"Only push reports created on or after this date (YYYY-MM-DD)")
}

func runArchivePush(cmd *cobra.Command, args []string) error {
	cfg, err := pase.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if !cfg.Archive.Enabled() {
		return fmt.Errorf("no archive bucket configured; set archive.bucket in the configuration")
	}

	since := time.Time{}
	if archiveSince != "" {
		since, err = time.Parse("2006-01-02", archiveSince)
		if err != nil {
			return fmt.Errorf("invalid --since date %q (expects YYYY-MM-DD)", archiveSince)
		}
	}

	ctx := cmd.Context()
	logger := slog.Default()

	bcfg := pasebadger.DefaultConfig()
	bcfg.Path = cfg.BadgerDir()
	db, err := pasebadger.OpenDB(bcfg)
	if err != nil {
		return fmt.Errorf("open report store (is pased still running?): %w", err)
	}
	defer db.Close()

	patches, err := patchstore.Open(cfg.PatchDBPath())
	if err != nil {
		return fmt.Errorf("open patch store: %w", err)
	}
	defer patches.Close()

	client, err := archive.NewClient(ctx, cfg.Archive, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	result, err := client.Push(ctx, report.NewStore(db), patches, since)
	if err != nil {
		return err
	}

	ux.Success(fmt.Sprintf("Pushed %d reports and %d patches to gs://%s",
		result.Reports, result.Patches, cfg.Archive.Bucket))
	return nil
}
