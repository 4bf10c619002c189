// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package validate

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type resolveStatus int

const (
	resolveFound resolveStatus = iota
	resolveMissing
	resolveAmbiguous
)

// resolve locates a diff-named file inside the tree rooted at root.
// The stripped path is tried first (-p1), then the raw diff path
// (-p0), then a unique suffix match over the tree listing. Returns
// the resolved tree-relative path and, for ambiguous suffixes, the
// match count.
func resolve(root, stripped, raw string, tree *treeIndex) (string, resolveStatus, int) {
	if stripped != "" && fileExists(filepath.Join(root, filepath.FromSlash(stripped))) {
		return stripped, resolveFound, 1
	}
	if raw != "" && raw != stripped && fileExists(filepath.Join(root, filepath.FromSlash(raw))) {
		return raw, resolveFound, 1
	}

	matches := tree.suffixMatches(stripped)
	switch len(matches) {
	case 0:
		return "", resolveMissing, 0
	case 1:
		return matches[0], resolveFound, 1
	default:
		return "", resolveAmbiguous, len(matches)
	}
}

// fileExists reports whether path is a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// treeIndex is a lazy listing of the candidate tree, built on the
// first suffix lookup and shared across the file diffs of one
// Validate call.
type treeIndex struct {
	root  string
	built bool
	files []string
}

// suffixMatches returns the tree files whose path ends with the given
// slash-separated suffix.
func (t *treeIndex) suffixMatches(suffix string) []string {
	if suffix == "" {
		return nil
	}
	t.build()

	var matches []string
	for _, file := range t.files {
		if file == suffix || strings.HasSuffix(file, "/"+suffix) {
			matches = append(matches, file)
		}
	}
	return matches
}

func (t *treeIndex) build() {
	if t.built {
		return
	}
	t.built = true

	_ = filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees just do not contribute candidates.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(t.root, path)
		if relErr != nil {
			return nil
		}
		t.files = append(t.files, filepath.ToSlash(rel))
		return nil
	})
}
