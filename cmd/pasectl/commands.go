// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package main

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/boiko/hackweek-applied-pase/pkg/ux"
)

// --- Global Command Variables ---
var (
	serverURL  string
	configPath string
	noColor    bool

	rootCmd = &cobra.Command{
		Use:   "pasectl",
		Short: "A cli to manage the PaSe patch search service",
		Long: `pasectl drives the PaSe (Patch Search) service: it stores patches,
syncs openSUSE source collections, builds the fragment index, and asks
where a patch came from and whether it still applies.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			plain := noColor || !isatty.IsTerminal(os.Stdout.Fd())
			ux.SetPlain(plain)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080",
		"Base URL of the pased instance")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the YAML configuration file (default ~/.pase/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"Disable styled output")

	rootCmd.AddCommand(initCmd)

	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeAddCmd)
	storeCmd.AddCommand(storeSearchCmd)
	storeCmd.AddCommand(storeShowCmd)

	rootCmd.AddCommand(crawlCmd)

	rootCmd.AddCommand(poolCmd)
	poolCmd.AddCommand(poolSyncCmd)
	poolCmd.AddCommand(poolStatusCmd)

	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexStatsCmd)

	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(validateCmd)

	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportListCmd)
	reportCmd.AddCommand(reportShowCmd)

	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archivePushCmd)

	rootCmd.AddCommand(serveCmd)
}
