// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package match

import "errors"

var (
	// ErrNotUnifiedDiff is returned when content cannot be parsed as a
	// unified diff.
	ErrNotUnifiedDiff = errors.New("content is not a unified diff")

	// ErrNoPatchStore is returned by MatchStored when the engine was
	// built without a patch store.
	ErrNoPatchStore = errors.New("no patch store configured")
)
