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
	"time"

	"github.com/spf13/cobra"

	"github.com/boiko/hackweek-applied-pase/pkg/ux"
	"github.com/boiko/hackweek-applied-pase/services/pase"
)

var crawlerName string

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run the patch feed crawlers now",
	Long: `Asks the daemon to run its feed crawlers.

Without --crawler every due crawler runs; crawlers that ran within the
minimum interval are skipped. With --crawler the named crawler runs
immediately regardless of when it last ran.`,
	Args: cobra.NoArgs,
	RunE: runCrawl,
}

func init() {
	crawlCmd.Flags().StringVar(&crawlerName, "crawler", "",
		"Run only the named crawler (e.g. bugzilla, factory)")
}

func runCrawl(cmd *cobra.Command, args []string) error {
	client := newAPIClient(serverURL)

	if crawlerName != "" {
		var resp struct {
			Crawler string `json:"crawler"`
			Added   int    `json:"added"`
		}
		body := pase.CrawlRequest{Crawler: crawlerName}
		if err := client.post(cmd.Context(), "/v1/crawl", body, &resp); err != nil {
			return err
		}
		ux.Success(fmt.Sprintf("Crawler %s added %d patches", resp.Crawler, resp.Added))
		return nil
	}

	if err := client.post(cmd.Context(), "/v1/crawl", nil, nil); err != nil {
		return err
	}

	var status struct {
		Crawlers []struct {
			Name      string    `json:"name"`
			Running   bool      `json:"running"`
			LastRun   time.Time `json:"last_run"`
			LastAdded int       `json:"last_added"`
			LastError string    `json:"last_error"`
		} `json:"crawlers"`
	}
	if err := client.get(cmd.Context(), "/v1/feed/status", &status); err != nil {
		return err
	}

	rows := make([][]string, 0, len(status.Crawlers))
	for _, c := range status.Crawlers {
		lastRun := "never"
		if !c.LastRun.IsZero() {
			lastRun = c.LastRun.Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{
			c.Name, lastRun, strconv.FormatBool(c.Running),
			strconv.Itoa(c.LastAdded), c.LastError,
		})
	}
	fmt.Println(ux.Table([]string{"Crawler", "Last Run", "Running", "Added", "Error"}, rows))
	return nil
}
