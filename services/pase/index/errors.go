// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package index

import "errors"

var (
	// ErrIndexEmpty is returned when an operation needs indexed
	// fragments and there are none.
	ErrIndexEmpty = errors.New("fragment index is empty")

	// ErrBuildInProgress is returned when an index build is requested
	// for a collection or package that already has one running.
	ErrBuildInProgress = errors.New("index build already in progress")
)
