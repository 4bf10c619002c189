// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package validate

import "errors"

var (
	// ErrEmptyPatch is returned when the patch holds no file diffs.
	ErrEmptyPatch = errors.New("patch contains no file diffs")

	// ErrNotUnifiedDiff is returned when content cannot be parsed as a
	// unified diff.
	ErrNotUnifiedDiff = errors.New("content is not a unified diff")

	// ErrPatchTooLarge is returned when the patch exceeds the
	// configured line limit.
	ErrPatchTooLarge = errors.New("patch exceeds maximum size")
)
