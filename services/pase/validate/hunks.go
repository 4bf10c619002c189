// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package validate

import (
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// applyHunk dry-runs one hunk against the target file lines and
// returns its result and class.
func (v *Validator) applyHunk(hunk *diff.Hunk, index int, lines []string) (HunkResult, Class) {
	origin := hunkLines(hunk, ' ', '-')
	stated := int(hunk.OrigStartLine)

	if len(origin) == 0 {
		return v.applyAddition(hunk, index, lines)
	}

	if pos, ok := findLines(lines, origin, stated, v.config.MaxOffset); ok {
		hr := HunkResult{Index: index, AppliedAt: pos, Offset: pos - stated}
		if hr.Offset == 0 {
			return hr, ClassClean
		}
		return hr, ClassOffset
	}

	// The origin is gone. When the post-image is present instead, the
	// change already landed upstream.
	post := hunkLines(hunk, ' ', '+')
	if pos, ok := findLines(lines, post, int(hunk.NewStartLine), v.config.MaxOffset); ok {
		return HunkResult{Index: index, AppliedAt: pos, Note: "post-image already present"}, ClassAlreadyApplied
	}

	return HunkResult{Index: index, Note: "origin text not found within offset window"}, ClassConflict
}

// applyAddition handles a context-free hunk (pure addition). The
// unified diff convention for "@@ -N,0 ..." is an insertion after line
// N of the original.
func (v *Validator) applyAddition(hunk *diff.Hunk, index int, lines []string) (HunkResult, Class) {
	added := hunkLines(hunk, '+')
	if pos, ok := findLines(lines, added, int(hunk.NewStartLine), v.config.MaxOffset); ok {
		return HunkResult{Index: index, AppliedAt: pos, Note: "addition already present"}, ClassAlreadyApplied
	}

	insertAt := int(hunk.OrigStartLine)
	if hunk.OrigLines == 0 {
		insertAt++
	}
	if insertAt >= 1 && insertAt <= len(lines)+1 {
		return HunkResult{Index: index, AppliedAt: insertAt, Note: "context-free insertion"}, ClassClean
	}
	return HunkResult{Index: index, Note: "insertion point beyond end of file"}, ClassConflict
}

// findLines searches for needle in lines, trying the stated 1-based
// position first and then scanning outward up to maxOffset lines in
// each direction.
func findLines(lines, needle []string, stated, maxOffset int) (int, bool) {
	if len(needle) == 0 || len(needle) > len(lines) {
		return 0, false
	}
	last := len(lines) - len(needle) + 1

	matchAt := func(pos int) bool {
		if pos < 1 || pos > last {
			return false
		}
		for i, want := range needle {
			if !lineEqual(lines[pos-1+i], want) {
				return false
			}
		}
		return true
	}

	if matchAt(stated) {
		return stated, true
	}
	for delta := 1; delta <= maxOffset; delta++ {
		if matchAt(stated - delta) {
			return stated - delta, true
		}
		if matchAt(stated + delta) {
			return stated + delta, true
		}
	}
	return 0, false
}

// lineEqual compares two lines ignoring a trailing carriage return on
// either side. Patches out of bugzilla routinely mix line endings.
func lineEqual(a, b string) bool {
	return strings.TrimSuffix(a, "\r") == strings.TrimSuffix(b, "\r")
}

// linesEqual compares two line slices with lineEqual.
func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !lineEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// hunkBodyLines splits a hunk body into lines, dropping the artifact
// of the trailing newline.
func hunkBodyLines(hunk *diff.Hunk) []string {
	lines := strings.Split(string(hunk.Body), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// hunkLines extracts the hunk body lines carrying any of the given
// markers, with the marker stripped. Blank lines count as context:
// mailers strip the marker off blank context lines often enough that
// patch(1) tolerates it.
func hunkLines(hunk *diff.Hunk, markers ...byte) []string {
	out := []string{}
	for _, line := range hunkBodyLines(hunk) {
		if line == "" {
			for _, m := range markers {
				if m == ' ' {
					out = append(out, "")
					break
				}
			}
			continue
		}
		if line[0] == '\\' {
			// "\ No newline at end of file"
			continue
		}
		for _, m := range markers {
			if line[0] == m {
				out = append(out, line[1:])
				break
			}
		}
	}
	return out
}

// fileAddedLines collects the added lines of every hunk, in order.
func fileAddedLines(fd *diff.FileDiff) []string {
	var out []string
	for _, hunk := range fd.Hunks {
		out = append(out, hunkLines(hunk, '+')...)
	}
	return out
}

// countChanges tallies the added and removed lines of one file diff.
func countChanges(fd *diff.FileDiff) (added, removed int) {
	for _, hunk := range fd.Hunks {
		for _, line := range hunkBodyLines(hunk) {
			switch {
			case strings.HasPrefix(line, "+"):
				added++
			case strings.HasPrefix(line, "-"):
				removed++
			}
		}
	}
	return added, removed
}

// splitLines splits file content into lines, dropping the artifact of
// a trailing newline.
func splitLines(content string) []string {
	lines := strings.Split(content, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
