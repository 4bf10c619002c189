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
	"github.com/boiko/hackweek-applied-pase/services/pase/report"
)

var reportListLimit int

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Inspect patch applicability reports",
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reports, newest first",
	Args:  cobra.NoArgs,
	RunE:  runReportList,
}

var reportShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one report",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportShow,
}

func init() {
	reportListCmd.Flags().IntVar(&reportListLimit, "limit", 20,
		"Maximum number of reports to list")
}

func runReportList(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)

	var resp struct {
		Reports []*report.Report `json:"reports"`
		Count   int              `json:"count"`
	}
	path := fmt.Sprintf("/v1/reports?limit=%d", reportListLimit)
	if err := client.get(cmd.Context(), path, &resp); err != nil {
		return err
	}

	if resp.Count == 0 {
		ux.Muted("No reports yet.")
		return nil
	}

	rows := make([][]string, 0, resp.Count)
	for _, r := range resp.Reports {
		rows = append(rows, []string{
			r.ID,
			strconv.FormatInt(r.PatchID, 10),
			r.Filename,
			strconv.Itoa(r.Summary.CleanApplies),
			strconv.Itoa(r.Summary.Conflicts),
			r.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	fmt.Println(ux.Table([]string{"Report", "Patch", "Filename", "Applies", "Conflicts", "Created"}, rows))
	return nil
}

func runReportShow(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)

	var r report.Report
	if err := client.get(cmd.Context(), "/v1/reports/"+args[0], &r); err != nil {
		return err
	}

	ux.Title(fmt.Sprintf("Report %s for patch %d (%s)", r.ID, r.PatchID, r.Filename))
	ux.Muted(fmt.Sprintf("Producer %s, origin %s, created %s",
		r.Producer, r.Origin, r.CreatedAt.Format("2006-01-02 15:04:05")))

	if r.Match != nil {
		for _, file := range r.Match.Files {
			if len(file.Candidates) == 0 {
				continue
			}
			best := file.Candidates[0]
			ux.Info(fmt.Sprintf("%s: best match %s/%s %s (%.2f)",
				file.File, best.Collection, best.Package, best.Path, best.Similarity))
		}
	}

	if len(r.Validations) == 0 {
		ux.Muted("No validations ran for this patch.")
		return nil
	}

	rows := make([][]string, 0, len(r.Validations))
	for _, v := range r.Validations {
		rows = append(rows, []string{v.Collection, v.Package, v.Class.String()})
	}
	fmt.Println(ux.Table([]string{"Collection", "Package", "Outcome"}, rows))
	return nil
}
