// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package index

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	tsc "github.com/smacker/go-tree-sitter/c"
)

// Fragment is one indexable slice of a source file. Line numbers are
// 1-based and inclusive.
type Fragment struct {
	ID         string `json:"id"`
	Collection string `json:"collection"`
	Package    string `json:"package"`
	Path       string `json:"path"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`

	// TokenCount is filled in once the fragment has been tokenized.
	TokenCount int `json:"token_count"`

	// Text is the fragment source, carried through the indexing
	// pipeline but never persisted.
	Text string `json:"-"`
}

// FragmentID builds the canonical fragment identifier. Path is the
// file path relative to the package directory.
func FragmentID(collection, pkg, path string, start, end int) string {
	return fmt.Sprintf("%s/%s/%s:%d-%d", collection, pkg, path, start, end)
}

// Fragmenter defaults.
const (
	// DefaultMinFunctionLines is the smallest function body worth
	// indexing on its own.
	DefaultMinFunctionLines = 5

	// DefaultWindowLines and DefaultStrideLines shape the sliding
	// window used for files without extractable functions.
	DefaultWindowLines = 30
	DefaultStrideLines = 15

	// DefaultMaxFileSize is the largest file the fragmenter reads.
	DefaultMaxFileSize = 1 * 1024 * 1024
)

// FragmenterConfig controls how files are sliced into fragments.
type FragmenterConfig struct {
	MinFunctionLines int
	WindowLines      int
	StrideLines      int
	MaxFileSize      int64
}

// DefaultFragmenterConfig returns the fragmenter defaults.
func DefaultFragmenterConfig() FragmenterConfig {
	return FragmenterConfig{
		MinFunctionLines: DefaultMinFunctionLines,
		WindowLines:      DefaultWindowLines,
		StrideLines:      DefaultStrideLines,
		MaxFileSize:      DefaultMaxFileSize,
	}
}

// Fragmenter slices source files into fragments. C-family sources are
// cut along function definitions; everything else falls back to a
// sliding line window. A Fragmenter is safe for concurrent use: each
// call builds its own parser because tree-sitter parsers are not
// goroutine safe.
type Fragmenter struct {
	config FragmenterConfig
}

// NewFragmenter returns a Fragmenter with the given configuration.
// Zero fields fall back to the defaults.
func NewFragmenter(config FragmenterConfig) *Fragmenter {
	def := DefaultFragmenterConfig()
	if config.MinFunctionLines <= 0 {
		config.MinFunctionLines = def.MinFunctionLines
	}
	if config.WindowLines <= 0 {
		config.WindowLines = def.WindowLines
	}
	if config.StrideLines <= 0 {
		config.StrideLines = def.StrideLines
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = def.MaxFileSize
	}
	return &Fragmenter{config: config}
}

// Fragments slices one file into fragments. relPath is the file path
// relative to the package directory. Binary or oversized content
// yields no fragments and no error.
func (f *Fragmenter) Fragments(ctx context.Context, collection, pkg, relPath string, content []byte) ([]Fragment, error) {
	if int64(len(content)) > f.config.MaxFileSize {
		return nil, nil
	}
	if IsBinary(content) {
		return nil, nil
	}

	if isCFamily(relPath) {
		frags, err := f.functionFragments(ctx, collection, pkg, relPath, content)
		if err == nil && frags != nil {
			return frags, nil
		}
		if err != nil && ctx.Err() != nil {
			return nil, err
		}
		// Parse failure or no function definitions: fall through to
		// the window fragmenter.
	}
	return f.windowFragments(collection, pkg, relPath, content), nil
}

// functionFragments extracts function definitions with tree-sitter.
// It returns a nil slice when the file contains no function
// definitions at all, so the caller can fall back to windows.
func (f *Fragmenter) functionFragments(ctx context.Context, collection, pkg, relPath string, content []byte) ([]Fragment, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(tsc.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var nodes []*sitter.Node
	collectFunctions(tree.RootNode(), &nodes)
	if len(nodes) == 0 {
		return nil, nil
	}

	fragments := make([]Fragment, 0, len(nodes))
	for _, node := range nodes {
		start := int(node.StartPoint().Row) + 1
		end := int(node.EndPoint().Row) + 1
		if end-start+1 < f.config.MinFunctionLines {
			continue
		}
		fragments = append(fragments, Fragment{
			ID:         FragmentID(collection, pkg, relPath, start, end),
			Collection: collection,
			Package:    pkg,
			Path:       relPath,
			StartLine:  start,
			EndLine:    end,
			Text:       node.Content(content),
		})
	}
	if len(fragments) == 0 {
		// Only functions below the minimum size; not worth indexing.
		return []Fragment{}, nil
	}
	return fragments, nil
}

// collectFunctions walks the syntax tree gathering function
// definitions. The recursion matters: definitions can sit under
// preprocessor conditionals and linkage specifications, not only at
// the translation unit top level.
func collectFunctions(node *sitter.Node, out *[]*sitter.Node) {
	if node.Type() == "function_definition" {
		*out = append(*out, node)
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		collectFunctions(node.NamedChild(i), out)
	}
}

// windowFragments slices content into overlapping line windows. Files
// shorter than one window become a single fragment.
func (f *Fragmenter) windowFragments(collection, pkg, relPath string, content []byte) []Fragment {
	lines := strings.Split(string(content), "\n")
	// A trailing newline leaves an empty last element; drop it so line
	// numbers match what an editor shows.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if len(lines) == 0 {
		return nil
	}

	window := f.config.WindowLines
	stride := f.config.StrideLines

	var fragments []Fragment
	for start := 0; start < len(lines); start += stride {
		end := start + window
		if end > len(lines) {
			end = len(lines)
		}
		fragments = append(fragments, Fragment{
			ID:         FragmentID(collection, pkg, relPath, start+1, end),
			Collection: collection,
			Package:    pkg,
			Path:       relPath,
			StartLine:  start + 1,
			EndLine:    end,
			Text:       strings.Join(lines[start:end], "\n"),
		})
		if end == len(lines) {
			break
		}
	}
	return fragments
}

// IsBinary reports whether content looks like binary data: a NUL byte
// anywhere in the first 8 KiB.
func IsBinary(content []byte) bool {
	probe := content
	if len(probe) > 8*1024 {
		probe = probe[:8*1024]
	}
	return bytes.IndexByte(probe, 0) >= 0
}

// isCFamily reports whether the path names a C or C++ source file that
// the function extractor understands.
func isCFamily(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".c", ".h", ".cc", ".cpp", ".cxx", ".hh", ".hpp", ".hxx":
		return true
	}
	return false
}
