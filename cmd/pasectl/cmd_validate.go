// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/boiko/hackweek-applied-pase/pkg/ux"
	"github.com/boiko/hackweek-applied-pase/services/pase"
	"github.com/boiko/hackweek-applied-pase/services/pase/validate"
)

var (
	validateCollection string
	validatePackage    string
	validatePatchID    int64
)

var validateCmd = &cobra.Command{
	Use:   "validate [patch-file]",
	Short: "Dry-run a patch against a package in the pool",
	Long: `Checks whether the patch still applies to the package's unpacked
sources: clean, at an offset, already applied, or in conflict. Nothing
is written; the check is a dry run. Pass a patch file, or --id for an
already stored patch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateCollection, "collection", "tumbleweed",
		"Collection holding the package")
	validateCmd.Flags().StringVar(&validatePackage, "package", "",
		"Package to validate against (required)")
	validateCmd.Flags().Int64Var(&validatePatchID, "id", 0,
		"Validate a stored patch by ID instead of a file")
	validateCmd.MarkFlagRequired("package")
}

func runValidate(cmd *cobra.Command, args []string) error {
	if (len(args) == 0) == (validatePatchID == 0) {
		return fmt.Errorf("pass a patch file or --id, not both")
	}

	req := pase.ValidateRequest{
		PatchID:    validatePatchID,
		Collection: validateCollection,
		Package:    validatePackage,
	}
	if len(args) == 1 {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		req.Content = base64.StdEncoding.EncodeToString(content)
	}

	client := newAPIClient(serverURL)
	var report validate.Report
	if err := client.post(cmd.Context(), "/v1/validate", req, &report); err != nil {
		return err
	}

	headline := fmt.Sprintf("%s/%s: %s", report.Collection, report.Package, report.Class)
	if report.Class.Applies() {
		ux.Success(headline)
	} else {
		ux.Error(headline)
	}

	rows := make([][]string, 0, len(report.Files))
	for _, file := range report.Files {
		note := file.Note
		if note == "" && file.ResolvedPath != "" && file.ResolvedPath != file.Path {
			note = "resolved to " + file.ResolvedPath
		}
		rows = append(rows, []string{file.Path, file.Class.String(), note})
	}
	fmt.Println(ux.Table([]string{"File", "Outcome", "Note"}, rows))

	ux.Muted(fmt.Sprintf("%d files, +%d/-%d lines",
		report.Stats.Files, report.Stats.LinesAdded, report.Stats.LinesRemoved))
	return nil
}
