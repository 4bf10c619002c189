// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

// Package match searches the fragment index for code that looks like
// what a patch wants to change.
//
// A unified diff names the code it expects to find: the context and
// removed lines of each hunk. The engine reconstructs that origin
// text per file, fingerprints it the same way the indexer fingerprints
// pool fragments, and asks the LSH index which fragments resemble it.
// LSH candidates are then refined with exact Jaccard similarity over
// the token-hash sets, so the reported scores do not depend on the
// MinHash estimate.
package match

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/boiko/hackweek-applied-pase/services/pase/index"
	"github.com/boiko/hackweek-applied-pase/services/pase/patchstore"
)

// Config holds match engine configuration.
type Config struct {
	// Threshold is the minimum similarity a candidate must reach.
	Threshold float64

	// MaxCandidates caps the candidates reported per file.
	MaxCandidates int

	// RefineTopN is how many LSH candidates are re-scored with exact
	// Jaccard before the cap is applied.
	RefineTopN int
}

// DefaultConfig returns the match engine defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:     0.5,
		MaxCandidates: 20,
		RefineTopN:    50,
	}
}

// Candidate is one indexed fragment similar to a patched region.
type Candidate struct {
	Collection string  `json:"collection"`
	Package    string  `json:"package"`
	Path       string  `json:"path"`
	StartLine  int     `json:"start_line"`
	EndLine    int     `json:"end_line"`
	Similarity float64 `json:"similarity"`
	TokenCount int     `json:"token_count"`
}

// FileMatch is the match outcome for one file of the patch.
type FileMatch struct {
	// File is the patched file as named in the diff, prefix-stripped.
	File string `json:"file"`

	// Hunks is how many hunks the diff holds for this file.
	Hunks int `json:"hunks"`

	Candidates []Candidate `json:"candidates"`
}

// Result is the outcome of matching one patch against the index.
type Result struct {
	PatchID     int64       `json:"patch_id,omitempty"`
	Checksum    string      `json:"checksum"`
	GeneratedAt time.Time   `json:"generated_at"`
	Files       []FileMatch `json:"files"`

	// Truncated is set when any file's candidate list hit the cap.
	Truncated bool `json:"truncated"`
}

// Index is what the engine needs from the fragment index.
type Index interface {
	FingerprintText(text string) *index.Fingerprint
	QueryWithThreshold(fp *index.Fingerprint, threshold float64) []index.Match
	Lookup(fragmentID string) (*index.Fingerprint, bool)
	Size() int
	KGramSize() int
}

// PatchLoader loads stored patches by ID.
type PatchLoader interface {
	Get(ctx context.Context, id int64) (*patchstore.Patch, error)
}

// Engine matches patches against the fragment index. Safe for
// concurrent use.
type Engine struct {
	index  Index
	store  PatchLoader
	config Config
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a match engine over the given index. store may be
// nil when MatchStored is not needed.
func NewEngine(idx Index, store PatchLoader, config Config, opts ...Option) *Engine {
	if config.Threshold <= 0 {
		config.Threshold = DefaultConfig().Threshold
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = DefaultConfig().MaxCandidates
	}
	if config.RefineTopN <= 0 {
		config.RefineTopN = DefaultConfig().RefineTopN
	}

	e := &Engine{
		index:  idx,
		store:  store,
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MatchPatch matches raw unified diff content against the index.
func (e *Engine) MatchPatch(ctx context.Context, patchContent []byte) (*Result, error) {
	ctx, span := startMatchSpan(ctx)
	defer span.End()
	start := time.Now()

	if e.index.Size() == 0 {
		return nil, index.ErrIndexEmpty
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(bytes.NewReader(patchContent)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotUnifiedDiff, err)
	}
	if len(fileDiffs) == 0 {
		return nil, ErrNotUnifiedDiff
	}

	result := &Result{
		Checksum:    patchstore.Checksum(patchContent),
		GeneratedAt: time.Now().UTC(),
		Files:       make([]FileMatch, 0, len(fileDiffs)),
	}

	total := 0
	for _, fd := range fileDiffs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fm := FileMatch{
			File:       targetName(fd),
			Hunks:      len(fd.Hunks),
			Candidates: []Candidate{},
		}

		// New-file diffs have no origin to search for.
		if fd.OrigName != "/dev/null" {
			origin := originText(fd)
			fm.Candidates = e.candidatesFor(origin)
			if len(fm.Candidates) == e.config.MaxCandidates {
				result.Truncated = true
			}
		}

		total += len(fm.Candidates)
		result.Files = append(result.Files, fm)
	}

	setMatchSpanResult(span, total, true)
	recordMatchMetrics(ctx, time.Since(start), total, true)
	e.logger.Debug("patch matched",
		slog.String("checksum", result.Checksum),
		slog.Int("files", len(result.Files)),
		slog.Int("candidates", total),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

// MatchStored loads a patch from the store and matches it.
func (e *Engine) MatchStored(ctx context.Context, patchID int64) (*Result, error) {
	if e.store == nil {
		return nil, ErrNoPatchStore
	}

	patch, err := e.store.Get(ctx, patchID)
	if err != nil {
		return nil, err
	}

	result, err := e.MatchPatch(ctx, patch.Content)
	if err != nil {
		return nil, err
	}
	result.PatchID = patch.ID
	result.Checksum = patch.Checksum
	return result, nil
}

// candidatesFor runs the LSH query for one file's origin text and
// refines the hits with exact Jaccard.
func (e *Engine) candidatesFor(origin string) []Candidate {
	queryFP := e.index.FingerprintText(origin)
	if queryFP == nil || queryFP.TokenCount < e.index.KGramSize() {
		// Too little signal to say anything meaningful.
		return []Candidate{}
	}

	hits := e.index.QueryWithThreshold(queryFP, e.config.Threshold)
	if len(hits) == 0 {
		return []Candidate{}
	}

	// Best estimated hits first, then refine only the top slice.
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > e.config.RefineTopN {
		hits = hits[:e.config.RefineTopN]
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		fp, ok := e.index.Lookup(hit.FragmentID)
		if !ok {
			// Removed between query and refine; an index rebuild race.
			continue
		}
		similarity := queryFP.JaccardSimilarity(fp)
		if similarity < e.config.Threshold {
			continue
		}
		candidates = append(candidates, Candidate{
			Collection: fp.Collection,
			Package:    fp.Package,
			Path:       fp.Path,
			StartLine:  fp.StartLine,
			EndLine:    fp.EndLine,
			Similarity: similarity,
			TokenCount: fp.TokenCount,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > e.config.MaxCandidates {
		candidates = candidates[:e.config.MaxCandidates]
	}
	return candidates
}

// originText reconstructs the code a file diff expects to find: the
// context and removed lines of every hunk, in order.
func originText(fd *diff.FileDiff) string {
	var sb strings.Builder
	for _, hunk := range fd.Hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			if line == "" {
				continue
			}
			switch line[0] {
			case ' ', '-':
				sb.WriteString(line[1:])
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String()
}

// targetName returns the patched file's name with git's a/ b/
// prefixes stripped. Deleted files are named by their origin side.
func targetName(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return name
}
