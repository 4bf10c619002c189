// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/boiko/hackweek-applied-pase/pkg/ux"
	"github.com/boiko/hackweek-applied-pase/services/pase"
)

var initForce bool

// initCmd walks the operator through a first-time setup and writes
// config.yaml. The Bugzilla API key is never written to the file; the
// wizard only reminds the operator to export it.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive setup wizard, writes the PaSe configuration file",
	Long: `Creates the PaSe configuration file through an interactive wizard.

The wizard asks for the data directory, the daemon port and the Bugzilla
instance to crawl. Secrets are not stored: the Bugzilla API key is read
by pased from the PASE_BUGZILLA_API_KEY environment variable at startup.`,
	Args: cobra.NoArgs,
	RunE: runInitWizard,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false,
		"Overwrite an existing configuration file")
}

func defaultConfigPath() string {
	if configPath != "" {
		return configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "pase-config.yaml"
	}
	return filepath.Join(home, ".pase", "config.yaml")
}

func runInitWizard(cmd *cobra.Command, args []string) error {
	path := defaultConfigPath()
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg := pase.DefaultConfig()

	dataDir := cfg.DataDir
	port := strconv.Itoa(cfg.Server.Port)
	bugzillaEnabled := cfg.Bugzilla.Enabled
	bugzillaURL := cfg.Bugzilla.InstanceURL
	dropDir := ""

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Data directory").
				Description("Pool, index and patch database live here.").
				Value(&dataDir).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("the data directory cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Daemon port").
				Value(&port).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("enter a port between 1 and 65535")
					}
					return nil
				}),
			huh.NewInput().
				Title("Patch drop directory").
				Description("Optional: patches dropped here are picked up automatically. Leave empty to disable.").
				Value(&dropDir),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Crawl Bugzilla for patch attachments?").
				Value(&bugzillaEnabled),
			huh.NewInput().
				Title("Bugzilla instance URL").
				Value(&bugzillaURL).
				Validate(func(s string) error {
					u, err := url.Parse(s)
					if err != nil || u.Scheme == "" || u.Host == "" {
						return fmt.Errorf("enter a full URL, e.g. https://bugzilla.opensuse.org")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("wizard aborted: %w", err)
	}

	cfg.DataDir = dataDir
	cfg.Server.Port, _ = strconv.Atoi(port)
	cfg.Feed.DropDir = dropDir
	cfg.Bugzilla.Enabled = bugzillaEnabled
	cfg.Bugzilla.InstanceURL = bugzillaURL
	cfg.Pool.Root = filepath.Join(dataDir, "pool")

	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}

	ux.Success("Configuration written to " + path)
	if bugzillaEnabled {
		ux.Info("Export PASE_BUGZILLA_API_KEY before starting pased; the key is never stored on disk.")
	}
	ux.Muted("Start the daemon with: pased -config " + path)
	return nil
}
