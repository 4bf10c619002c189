// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package feed

import "errors"

var (
	// ErrCrawlInProgress is returned when a crawl is requested for a
	// crawler that is already running.
	ErrCrawlInProgress = errors.New("crawl already in progress")

	// ErrUnknownCrawler is returned when a crawl is requested for a
	// name no registered crawler carries.
	ErrUnknownCrawler = errors.New("unknown crawler")
)
