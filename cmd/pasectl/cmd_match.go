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
	"github.com/boiko/hackweek-applied-pase/services/pase/match"
)

var matchPatchID int64

var matchCmd = &cobra.Command{
	Use:   "match [patch-file]",
	Short: "Find where a patch's code lives in the indexed collections",
	Long: `Matches the patch's removed and context lines against the fragment
index and reports the most similar source locations per file, best
first. Pass a patch file, or --id for an already stored patch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMatch,
}

func init() {
	matchCmd.Flags().Int64Var(&matchPatchID, "id", 0,
		"Match a stored patch by ID instead of a file")
}

func runMatch(cmd *cobra.Command, args []string) error {
	if (len(args) == 0) == (matchPatchID == 0) {
		return fmt.Errorf("pass a patch file or --id, not both")
	}

	req := pase.MatchRequest{PatchID: matchPatchID}
	if len(args) == 1 {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		req.Content = base64.StdEncoding.EncodeToString(content)
	}

	client := newAPIClient(serverURL)
	var result match.Result
	if err := client.post(cmd.Context(), "/v1/match", req, &result); err != nil {
		return err
	}

	if len(result.Files) == 0 {
		ux.Warning("No file in the patch matched anything in the index.")
		return nil
	}

	for _, file := range result.Files {
		ux.Title(fmt.Sprintf("%s (%d hunks)", file.File, file.Hunks))
		if len(file.Candidates) == 0 {
			ux.Muted("  no candidates above the similarity threshold")
			continue
		}
		rows := make([][]string, 0, len(file.Candidates))
		for _, cand := range file.Candidates {
			rows = append(rows, []string{
				cand.Collection,
				cand.Package,
				fmt.Sprintf("%s:%d-%d", cand.Path, cand.StartLine, cand.EndLine),
				fmt.Sprintf("%.2f", cand.Similarity),
			})
		}
		fmt.Println(ux.Table([]string{"Collection", "Package", "Location", "Similarity"}, rows))
	}
	if result.Truncated {
		ux.Muted("Candidate lists were truncated; raise the candidate cap for more.")
	}
	return nil
}
