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
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/boiko/hackweek-applied-pase/pkg/ux"
	"github.com/boiko/hackweek-applied-pase/services/pase"
)

var (
	storeProducer  string
	storeOrigin    string
	storeTimestamp string

	searchFilename string
	searchProducer string
	searchOrigin   string
	searchChecksum string

	showContent bool
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the patch store",
}

var storeAddCmd = &cobra.Command{
	Use:   "add [patch-file]",
	Short: "Store a patch file in the patch store",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoreAdd,
}

var storeSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search stored patches by exactly one filter",
	Args:  cobra.NoArgs,
	RunE:  runStoreSearch,
}

var storeShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one stored patch",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoreShow,
}

func init() {
	storeAddCmd.Flags().StringVar(&storeProducer, "producer", "pasectl",
		"Name of the feed or person producing the patch")
	storeAddCmd.Flags().StringVar(&storeOrigin, "origin", "",
		"Where the patch came from (URL or file path); defaults to file://<path>")
	storeAddCmd.Flags().StringVar(&storeTimestamp, "timestamp", "",
		"When the patch was produced (ISO 8601); defaults to now")

	storeSearchCmd.Flags().StringVar(&searchFilename, "filename", "", "Exact filename match")
	storeSearchCmd.Flags().StringVar(&searchProducer, "producer", "", "Exact producer match")
	storeSearchCmd.Flags().StringVar(&searchOrigin, "origin", "", "Origin prefix match")
	storeSearchCmd.Flags().StringVar(&searchChecksum, "checksum", "", "Exact checksum match")

	storeShowCmd.Flags().BoolVar(&showContent, "content", false,
		"Print the raw patch text instead of the summary")
}

func runStoreAdd(cmd *cobra.Command, args []string) error {
	path := args[0]
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	origin := storeOrigin
	if origin == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		origin = "file://" + abs
	}

	client := newAPIClient(serverURL)
	var resp pase.AddPatchResponse
	err = client.post(cmd.Context(), "/v1/patches", pase.AddPatchRequest{
		Filename:  filepath.Base(path),
		Content:   base64.StdEncoding.EncodeToString(content),
		Producer:  storeProducer,
		Origin:    origin,
		Timestamp: storeTimestamp,
	}, &resp)
	if err != nil {
		return err
	}

	ux.Success(fmt.Sprintf("Stored patch %d (%s)", resp.ID, resp.Checksum))
	return nil
}

func runStoreSearch(cmd *cobra.Command, args []string) error {
	query := ""
	for flag, value := range map[string]string{
		"filename": searchFilename,
		"producer": searchProducer,
		"origin":   searchOrigin,
		"checksum": searchChecksum,
	} {
		if value == "" {
			continue
		}
		if query != "" {
			return fmt.Errorf("pass exactly one of --filename, --producer, --origin, --checksum")
		}
		query = "?" + flag + "=" + url.QueryEscape(value)
	}
	if query == "" {
		return fmt.Errorf("pass exactly one of --filename, --producer, --origin, --checksum")
	}

	client := newAPIClient(serverURL)
	var resp struct {
		Patches []pase.PatchView `json:"patches"`
		Count   int              `json:"count"`
	}
	if err := client.get(cmd.Context(), "/v1/patches"+query, &resp); err != nil {
		return err
	}

	if resp.Count == 0 {
		ux.Muted("No patches matched.")
		return nil
	}

	rows := make([][]string, 0, resp.Count)
	for _, p := range resp.Patches {
		rows = append(rows, []string{
			strconv.FormatInt(p.ID, 10),
			p.Filename,
			p.Producer,
			p.Timestamp.Format("2006-01-02 15:04"),
		})
	}
	fmt.Println(ux.Table([]string{"ID", "Filename", "Producer", "Timestamp"}, rows))
	return nil
}

func runStoreShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid patch id %q", args[0])
	}

	client := newAPIClient(serverURL)
	var view pase.PatchView
	if err := client.get(cmd.Context(), fmt.Sprintf("/v1/patches/%d", id), &view); err != nil {
		return err
	}

	if showContent {
		raw, err := base64.StdEncoding.DecodeString(view.Content)
		if err != nil {
			return fmt.Errorf("decode patch content: %w", err)
		}
		os.Stdout.Write(raw)
		return nil
	}

	ux.Title(view.Filename)
	fmt.Println(ux.Table([]string{"Field", "Value"}, [][]string{
		{"ID", strconv.FormatInt(view.ID, 10)},
		{"Checksum", view.Checksum},
		{"Producer", view.Producer},
		{"Origin", view.Origin},
		{"Timestamp", view.Timestamp.Format("2006-01-02 15:04:05")},
	}))
	return nil
}
