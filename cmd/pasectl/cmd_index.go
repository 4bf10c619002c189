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
	"github.com/boiko/hackweek-applied-pase/services/pase/index"
)

var (
	indexBuildCollection string
	indexBuildForce      bool
	indexBuildWait       bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the source fragment index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the fragment index over the pool",
	Long: `Walks the pool and indexes source fragments for matching. Packages
whose version is already indexed are skipped unless --force is given.
The build runs in the background on the daemon; --wait polls until it
finishes.`,
	Args: cobra.NoArgs,
	RunE: runIndexBuild,
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show fragment index statistics",
	Args:  cobra.NoArgs,
	RunE:  runIndexStats,
}

func init() {
	indexBuildCmd.Flags().StringVar(&indexBuildCollection, "collection", "",
		"Limit the build to one collection (default: all)")
	indexBuildCmd.Flags().BoolVar(&indexBuildForce, "force", false,
		"Reindex packages whose version is already indexed")
	indexBuildCmd.Flags().BoolVar(&indexBuildWait, "wait", false,
		"Poll the build job until it finishes")
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)

	var resp struct {
		JobID string `json:"job_id"`
	}
	body := pase.BuildRequest{Collection: indexBuildCollection, Force: indexBuildForce}
	if err := client.post(cmd.Context(), "/v1/index/build", body, &resp); err != nil {
		return err
	}

	if !indexBuildWait {
		ux.Success("Index build started, job " + resp.JobID)
		return nil
	}

	ux.Info("Building index, waiting for job " + resp.JobID)
	job, err := waitForJob(cmd.Context(), client, resp.JobID)
	if err != nil {
		return err
	}
	if job.State == pase.JobFailed {
		return fmt.Errorf("index build failed: %s", job.Error)
	}
	ux.Success("Index build finished")
	return runIndexStats(cmd, nil)
}

func runIndexStats(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)

	var stats index.Stats
	if err := client.get(cmd.Context(), "/v1/index/stats", &stats); err != nil {
		return err
	}

	ux.Title("Fragment index")
	rows := [][]string{
		{"Packages", strconv.Itoa(stats.Packages)},
		{"Fragments", strconv.Itoa(stats.Fragments)},
		{"Empty skipped", strconv.Itoa(stats.EmptySkipped)},
	}
	for name, count := range stats.Collections {
		rows = append(rows, []string{"  " + name, strconv.Itoa(count)})
	}
	fmt.Println(ux.Table([]string{"Metric", "Value"}, rows))
	return nil
}
