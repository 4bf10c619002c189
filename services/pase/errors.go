// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package pase

import "errors"

var (
	// ErrExactlyOneFilter is returned when a patch search names zero
	// or several filters.
	ErrExactlyOneFilter = errors.New("exactly one search filter is required")

	// ErrUnknownJob is returned when a job ID is not tracked.
	ErrUnknownJob = errors.New("unknown job")
)
