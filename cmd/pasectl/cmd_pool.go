// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/boiko/hackweek-applied-pase/pkg/ux"
	"github.com/boiko/hackweek-applied-pase/services/pase"
)

var (
	poolSyncCollection string
	poolSyncWait       bool
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage the local pool of unpacked source packages",
}

var poolSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync a source collection into the local pool",
	Long: `Fetches the collection's repository metadata, downloads new or
changed source packages and unpacks them into the pool. The sync runs
in the background on the daemon; --wait polls until it finishes.`,
	Args: cobra.NoArgs,
	RunE: runPoolSync,
}

var poolStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool collections and running jobs",
	Args:  cobra.NoArgs,
	RunE:  runPoolStatus,
}

func init() {
	poolSyncCmd.Flags().StringVar(&poolSyncCollection, "collection", "tumbleweed",
		"Collection to sync")
	poolSyncCmd.Flags().BoolVar(&poolSyncWait, "wait", false,
		"Poll the sync job until it finishes")
}

func runPoolSync(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)

	var resp struct {
		JobID string `json:"job_id"`
	}
	body := pase.SyncRequest{Collection: poolSyncCollection}
	if err := client.post(cmd.Context(), "/v1/pool/sync", body, &resp); err != nil {
		return err
	}

	if !poolSyncWait {
		ux.Success(fmt.Sprintf("Sync of %s started, job %s", poolSyncCollection, resp.JobID))
		ux.Muted("Check progress with: pasectl pool status")
		return nil
	}

	ux.Info(fmt.Sprintf("Syncing %s, waiting for job %s", poolSyncCollection, resp.JobID))
	job, err := waitForJob(cmd.Context(), client, resp.JobID)
	if err != nil {
		return err
	}
	if job.State == pase.JobFailed {
		return fmt.Errorf("sync failed: %s", job.Error)
	}
	ux.Success(fmt.Sprintf("Sync of %s finished", poolSyncCollection))
	return nil
}

func runPoolStatus(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)

	var resp struct {
		Root        string `json:"root"`
		Collections []struct {
			Name    string `json:"name"`
			BaseURL string `json:"base_url"`
			Syncing bool   `json:"syncing"`
		} `json:"collections"`
		Jobs []pase.Job `json:"jobs"`
	}
	if err := client.get(cmd.Context(), "/v1/pool/status", &resp); err != nil {
		return err
	}

	ux.Title("Pool: " + resp.Root)
	rows := make([][]string, 0, len(resp.Collections))
	for _, c := range resp.Collections {
		rows = append(rows, []string{c.Name, c.BaseURL, strconv.FormatBool(c.Syncing)})
	}
	fmt.Println(ux.Table([]string{"Collection", "Base URL", "Syncing"}, rows))

	if len(resp.Jobs) > 0 {
		jobRows := make([][]string, 0, len(resp.Jobs))
		for _, j := range resp.Jobs {
			jobRows = append(jobRows, []string{j.ID, j.Kind, j.Collection, j.State, j.Error})
		}
		fmt.Println(ux.Table([]string{"Job", "Kind", "Collection", "State", "Error"}, jobRows))
	}
	return nil
}
