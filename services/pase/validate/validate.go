// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

// Package validate dry-runs unified diffs against candidate source
// trees and classifies the outcome.
//
// Validation never writes to the tree. Each file diff is resolved to a
// file on disk, each hunk is searched for at its stated position and
// then outward within a bounded offset window, and the per-hunk
// outcomes aggregate to a file class and a patch class by severity.
package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sourcegraph/go-diff/diff"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("pase.validate")

// Config holds validator configuration.
type Config struct {
	// MaxOffset is how many lines a hunk may drift from its stated
	// position and still count as applying.
	MaxOffset int

	// MaxPatchLines rejects patches above this line count.
	MaxPatchLines int
}

// DefaultConfig returns the validator defaults.
func DefaultConfig() Config {
	return Config{
		MaxOffset:     200,
		MaxPatchLines: 100000,
	}
}

// Stats is the aggregate diff stat of a validated patch.
type Stats struct {
	Files        int `json:"files"`
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
}

// HunkResult is the dry-run outcome of one hunk.
type HunkResult struct {
	// Index is the 1-based hunk number within the file diff.
	Index int `json:"index"`

	// AppliedAt is the 1-based line where the hunk's origin text was
	// found. Zero when it was not found.
	AppliedAt int `json:"applied_at,omitempty"`

	// Offset is AppliedAt minus the stated position.
	Offset int `json:"offset,omitempty"`

	Note string `json:"note,omitempty"`
}

// FileReport is the dry-run outcome of one file diff.
type FileReport struct {
	// Path is the patched file as named in the diff, prefix-stripped.
	Path string `json:"path"`

	// ResolvedPath is the tree-relative path the diff was validated
	// against. Empty when no target was found.
	ResolvedPath string `json:"resolved_path,omitempty"`

	Class       Class        `json:"class"`
	HunkResults []HunkResult `json:"hunk_results"`

	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	Note         string `json:"note,omitempty"`
}

// Report is the dry-run outcome of a whole patch against one tree.
// Collection and Package identify the tree and are set by the caller.
type Report struct {
	Collection  string       `json:"collection,omitempty"`
	Package     string       `json:"package,omitempty"`
	Root        string       `json:"root"`
	Files       []FileReport `json:"files"`
	Class       Class        `json:"class"`
	Stats       Stats        `json:"stats"`
	ValidatedAt time.Time    `json:"validated_at"`
}

// Validator dry-runs patches against source trees.
//
// Thread Safety: Individual Validate calls are safe for concurrent
// use. The validator maintains no state between calls.
type Validator struct {
	config Config
	logger *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// NewValidator creates a patch validator.
//
// Description:
//
//	Creates a Validator with the given configuration. Zero config
//	fields fall back to the defaults.
//
// Thread Safety: Safe to share between goroutines.
func NewValidator(config Config, opts ...Option) *Validator {
	if config.MaxOffset <= 0 {
		config.MaxOffset = DefaultConfig().MaxOffset
	}
	if config.MaxPatchLines <= 0 {
		config.MaxPatchLines = DefaultConfig().MaxPatchLines
	}

	v := &Validator{
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate dry-runs a patch against the tree rooted at root.
//
// Description:
//
//	Parses the patch, resolves each file diff to a file under root
//	(stripped path first, then the raw diff path, then a unique
//	suffix match over the tree), and searches each hunk's origin
//	text at its stated position and outward within the offset
//	window. Hunks whose origin is gone but whose post-image is
//	present classify as already applied. Validation is read-only.
//
// Inputs:
//
//	ctx - Context for cancellation
//	patchContent - The patch content (unified diff format)
//	root - Candidate source tree to validate against
//
// Outputs:
//
//	*Report - Per-file and aggregate classification
//	error - Non-nil when the patch cannot be parsed or is oversized
//
// Thread Safety: Safe for concurrent use.
func (v *Validator) Validate(ctx context.Context, patchContent []byte, root string) (*Report, error) {
	ctx, span := tracer.Start(ctx, "Validator.Validate",
		trace.WithAttributes(attribute.String("validate.root", root)))
	defer span.End()

	if lines := bytes.Count(patchContent, []byte("\n")); lines > v.config.MaxPatchLines {
		return nil, fmt.Errorf("%w: %d lines (max %d)", ErrPatchTooLarge, lines, v.config.MaxPatchLines)
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(bytes.NewReader(patchContent)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotUnifiedDiff, err)
	}
	if len(fileDiffs) == 0 {
		return nil, ErrEmptyPatch
	}

	report := &Report{
		Root:        root,
		Files:       make([]FileReport, 0, len(fileDiffs)),
		ValidatedAt: time.Now().UTC(),
	}

	// One lazy tree listing shared by all suffix lookups of this call.
	tree := &treeIndex{root: root}

	for _, fd := range fileDiffs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fr := v.validateFile(fd, root, tree)
		report.Class = maxClass(report.Class, fr.Class)
		report.Stats.LinesAdded += fr.LinesAdded
		report.Stats.LinesRemoved += fr.LinesRemoved
		report.Files = append(report.Files, fr)
	}
	report.Stats.Files = len(report.Files)

	span.SetAttributes(attribute.String("validate.class", report.Class.String()))
	v.logger.Debug("patch validated",
		slog.String("root", root),
		slog.String("class", report.Class.String()),
		slog.Int("files", report.Stats.Files))
	return report, nil
}

// validateFile dry-runs one file diff.
func (v *Validator) validateFile(fd *diff.FileDiff, root string, tree *treeIndex) FileReport {
	var fr FileReport
	fr.HunkResults = []HunkResult{}
	fr.LinesAdded, fr.LinesRemoved = countChanges(fd)

	switch {
	case fd.OrigName == "/dev/null":
		fr.Path = stripPrefix(fd.NewName)
		v.validateCreation(fd, root, &fr)
	case fd.NewName == "/dev/null":
		fr.Path = stripPrefix(fd.OrigName)
		v.validateDeletion(fd, root, &fr, tree)
	default:
		fr.Path = stripPrefix(fd.NewName)
		if fr.Path == "" {
			fr.Path = stripPrefix(fd.OrigName)
		}
		v.validateModification(fd, root, &fr, tree)
	}
	return fr
}

// validateCreation handles a new-file diff: clean unless the file
// already exists, then already-applied when the content matches.
func (v *Validator) validateCreation(fd *diff.FileDiff, root string, fr *FileReport) {
	target := filepath.Join(root, filepath.FromSlash(fr.Path))
	content, err := os.ReadFile(target)
	if errors.Is(err, os.ErrNotExist) {
		fr.Class = ClassClean
		for i, hunk := range fd.Hunks {
			fr.HunkResults = append(fr.HunkResults, HunkResult{
				Index:     i + 1,
				AppliedAt: int(hunk.NewStartLine),
				Note:      "creates file",
			})
		}
		return
	}
	if err != nil {
		fr.Class = ClassConflict
		fr.Note = fmt.Sprintf("cannot read existing file: %v", err)
		return
	}

	fr.ResolvedPath = fr.Path
	if linesEqual(splitLines(string(content)), fileAddedLines(fd)) {
		fr.Class = ClassAlreadyApplied
		fr.Note = "file already exists with the patched content"
		return
	}
	fr.Class = ClassConflict
	fr.Note = "file already exists with different content"
}

// validateDeletion handles a deletion diff: clean when the file
// exists, already-applied when it is gone.
func (v *Validator) validateDeletion(fd *diff.FileDiff, root string, fr *FileReport, tree *treeIndex) {
	resolved, status, matches := resolve(root, fr.Path, fd.OrigName, tree)
	switch status {
	case resolveFound:
		fr.ResolvedPath = resolved
		fr.Class = ClassClean
	case resolveMissing:
		fr.Class = ClassAlreadyApplied
		fr.Note = "file already absent"
	case resolveAmbiguous:
		fr.Class = ClassTargetMissing
		fr.Note = fmt.Sprintf("ambiguous target: %d files match %q", matches, fr.Path)
	}
}

// validateModification resolves the target and dry-runs every hunk.
func (v *Validator) validateModification(fd *diff.FileDiff, root string, fr *FileReport, tree *treeIndex) {
	raw := fd.NewName
	if raw == "" || raw == "/dev/null" {
		raw = fd.OrigName
	}

	resolved, status, matches := resolve(root, fr.Path, raw, tree)
	switch status {
	case resolveMissing:
		fr.Class = ClassTargetMissing
		fr.Note = "target file not found in tree"
		return
	case resolveAmbiguous:
		fr.Class = ClassTargetMissing
		fr.Note = fmt.Sprintf("ambiguous target: %d files match %q", matches, fr.Path)
		return
	}
	fr.ResolvedPath = resolved

	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(resolved)))
	if err != nil {
		fr.Class = ClassTargetMissing
		fr.Note = fmt.Sprintf("cannot read target: %v", err)
		return
	}
	lines := splitLines(string(content))

	for i, hunk := range fd.Hunks {
		hr, class := v.applyHunk(hunk, i+1, lines)
		fr.HunkResults = append(fr.HunkResults, hr)
		fr.Class = maxClass(fr.Class, class)
	}
}

// stripPrefix removes git's a/ b/ diff prefixes.
func stripPrefix(name string) string {
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return name
}
