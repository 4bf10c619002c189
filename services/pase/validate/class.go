// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package validate

import (
	"encoding/json"
	"fmt"
)

// Class is the outcome of a dry-run application, per hunk, file or
// whole patch. The numeric order is the severity order: aggregating
// takes the maximum.
type Class int

const (
	// ClassClean means every hunk matched at its stated position.
	ClassClean Class = iota

	// ClassOffset means all hunks applied, at least one at a shifted
	// position.
	ClassOffset

	// ClassAlreadyApplied means the post-image is already present.
	ClassAlreadyApplied

	// ClassConflict means at least one hunk's origin text was not
	// found within the offset window.
	ClassConflict

	// ClassTargetMissing means the target file does not exist in the
	// candidate tree.
	ClassTargetMissing
)

var classNames = map[Class]string{
	ClassClean:          "applies-clean",
	ClassOffset:         "applies-offset",
	ClassAlreadyApplied: "already-applied",
	ClassConflict:       "conflict",
	ClassTargetMissing:  "target-missing",
}

var classValues = map[string]Class{
	"applies-clean":   ClassClean,
	"applies-offset":  ClassOffset,
	"already-applied": ClassAlreadyApplied,
	"conflict":        ClassConflict,
	"target-missing":  ClassTargetMissing,
}

func (c Class) String() string {
	if name, ok := classNames[c]; ok {
		return name
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// Applies reports whether the patch can still be applied: clean or
// offset. Already-applied needs no application; conflict and
// target-missing cannot apply.
func (c Class) Applies() bool {
	return c == ClassClean || c == ClassOffset
}

// MarshalJSON encodes the class by its string name.
func (c Class) MarshalJSON() ([]byte, error) {
	name, ok := classNames[c]
	if !ok {
		return nil, fmt.Errorf("unknown validation class %d", int(c))
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a class from its string name.
func (c *Class) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	value, ok := classValues[name]
	if !ok {
		return fmt.Errorf("unknown validation class %q", name)
	}
	*c = value
	return nil
}

// maxClass returns the more severe of two classes.
func maxClass(a, b Class) Class {
	if b > a {
		return b
	}
	return a
}
