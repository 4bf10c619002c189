// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package index

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// FingerprintConfig controls how fragments are fingerprinted.
type FingerprintConfig struct {
	// KGramSize is the token window hashed into the shingle set.
	KGramSize int

	// NumHashes is the MinHash signature length. It must equal
	// bands * rows of the LSH index fed with these fingerprints.
	NumHashes int

	// NormalizeIdentifiers replaces identifiers with positional
	// placeholders so renamed copies of the same code still match.
	NormalizeIdentifiers bool
}

// DefaultFingerprintConfig returns the fingerprinting defaults.
func DefaultFingerprintConfig() FingerprintConfig {
	return FingerprintConfig{
		KGramSize:            5,
		NumHashes:            100,
		NormalizeIdentifiers: true,
	}
}

// Fingerprint is the similarity footprint of one fragment: the k-gram
// hash set for exact Jaccard and a MinHash signature for the LSH
// index. Immutable after creation.
type Fingerprint struct {
	FragmentID string `json:"fragment_id"`
	Collection string `json:"collection"`
	Package    string `json:"package"`
	Path       string `json:"path"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`

	TokenHashes []uint64 `json:"token_hashes"`
	MinHashSig  []uint64 `json:"minhash_sig"`
	TokenCount  int      `json:"token_count"`
}

// JaccardSimilarity computes the exact Jaccard similarity of the two
// token-hash sets. Returns a value in [0, 1].
func (fp *Fingerprint) JaccardSimilarity(other *Fingerprint) float64 {
	if fp == nil || other == nil {
		return 0.0
	}
	if len(fp.TokenHashes) == 0 || len(other.TokenHashes) == 0 {
		return 0.0
	}

	set1 := make(map[uint64]bool, len(fp.TokenHashes))
	for _, h := range fp.TokenHashes {
		set1[h] = true
	}
	set2 := make(map[uint64]bool, len(other.TokenHashes))
	for _, h := range other.TokenHashes {
		set2[h] = true
	}

	intersection := 0
	for h := range set1 {
		if set2[h] {
			intersection++
		}
	}
	union := len(set1) + len(set2) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

// EstimatedJaccard estimates Jaccard similarity from the MinHash
// signatures: the fraction of positions where they agree. Cheap
// enough to run on every LSH candidate.
func (fp *Fingerprint) EstimatedJaccard(other *Fingerprint) float64 {
	if fp == nil || other == nil {
		return 0.0
	}
	if len(fp.MinHashSig) == 0 || len(fp.MinHashSig) != len(other.MinHashSig) {
		return 0.0
	}

	matches := 0
	for i := range fp.MinHashSig {
		if fp.MinHashSig[i] == other.MinHashSig[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(fp.MinHashSig))
}

// Fingerprinter turns fragment text into fingerprints. Safe for
// concurrent use.
type Fingerprinter struct {
	config     FingerprintConfig
	hashSeeds  []uint64
	stopTokens map[string]bool
}

// NewFingerprinter returns a fingerprinter with pre-computed hash
// seeds. The seed schedule is fixed so fingerprints stay comparable
// across restarts and rebuilds.
func NewFingerprinter(config FingerprintConfig) *Fingerprinter {
	if config.KGramSize <= 0 {
		config.KGramSize = DefaultFingerprintConfig().KGramSize
	}
	if config.NumHashes <= 0 {
		config.NumHashes = DefaultFingerprintConfig().NumHashes
	}

	seeds := make([]uint64, config.NumHashes)
	for i := range seeds {
		seeds[i] = uint64(i*31 + 17)
	}

	return &Fingerprinter{
		config:     config,
		hashSeeds:  seeds,
		stopTokens: defaultStopTokens(),
	}
}

// KGramSize returns the configured k-gram size. Queries that tokenize
// below this length carry too little signal to match.
func (f *Fingerprinter) KGramSize() int {
	return f.config.KGramSize
}

// defaultStopTokens returns tokens dropped before k-gram hashing:
// storage-class noise and pure punctuation that says nothing about
// structure.
func defaultStopTokens() map[string]bool {
	return map[string]bool{
		"static":   true,
		"extern":   true,
		"inline":   true,
		"register": true,
		"volatile": true,
		"const":    true,
		"{":        true,
		"}":        true,
		"(":        true,
		")":        true,
		"[":        true,
		"]":        true,
		";":        true,
		",":        true,
	}
}

// Fingerprint computes the fingerprint of a fragment from its Text.
// Returns nil for fragments with empty text.
func (f *Fingerprinter) Fingerprint(frag Fragment) *Fingerprint {
	fp := f.FingerprintText(frag.Text)
	if fp == nil {
		return nil
	}
	fp.FragmentID = frag.ID
	fp.Collection = frag.Collection
	fp.Package = frag.Package
	fp.Path = frag.Path
	fp.StartLine = frag.StartLine
	fp.EndLine = frag.EndLine
	return fp
}

// FingerprintText computes an identityless fingerprint for arbitrary
// text. Match queries use this for the reconstructed origin text of a
// patch hunk.
func (f *Fingerprinter) FingerprintText(text string) *Fingerprint {
	if text == "" {
		return nil
	}

	tokens := f.tokenize(text)
	if f.config.NormalizeIdentifiers {
		tokens = f.normalizeIdentifiers(tokens)
	}

	kgrams := computeKGrams(tokens, f.config.KGramSize)
	tokenHashes := make([]uint64, len(kgrams))
	for i, kg := range kgrams {
		tokenHashes[i] = hashKGram(kg)
	}

	return &Fingerprint{
		TokenHashes: tokenHashes,
		MinHashSig:  f.computeMinHash(tokenHashes),
		TokenCount:  len(tokens),
	}
}

// tokenize splits text into identifier/number tokens and single-rune
// operator tokens, dropping stop tokens and whitespace.
func (f *Fingerprinter) tokenize(text string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			token := current.String()
			if !f.stopTokens[token] {
				tokens = append(tokens, token)
			}
			current.Reset()
		}
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
			continue
		}
		flush()
		if !unicode.IsSpace(r) && !f.stopTokens[string(r)] {
			tokens = append(tokens, string(r))
		}
	}
	flush()

	return tokens
}

// normalizeIdentifiers maps identifiers to positional placeholders,
// numbers to NUM and string openers to STR. Keywords survive.
func (f *Fingerprinter) normalizeIdentifiers(tokens []string) []string {
	identMap := make(map[string]string)
	counter := 0
	keywords := cKeywords()

	result := make([]string, len(tokens))
	for i, token := range tokens {
		if keywords[token] {
			result[i] = token
			continue
		}
		if isNumeric(token) {
			result[i] = "NUM"
			continue
		}
		if strings.HasPrefix(token, "\"") || strings.HasPrefix(token, "'") {
			result[i] = "STR"
			continue
		}

		if normalized, ok := identMap[token]; ok {
			result[i] = normalized
		} else {
			normalized := identifierPlaceholder(counter)
			identMap[token] = normalized
			counter++
			result[i] = normalized
		}
	}

	return result
}

// cKeywords returns the reserved words kept verbatim during identifier
// normalization. The pool is dominated by C-family sources, so the
// set is the C keyword list plus the handful of tokens every derived
// language kept.
func cKeywords() map[string]bool {
	return map[string]bool{
		"auto": true, "break": true, "case": true, "char": true,
		"continue": true, "default": true, "do": true, "double": true,
		"else": true, "enum": true, "float": true, "for": true,
		"goto": true, "if": true, "int": true, "long": true,
		"return": true, "short": true, "signed": true, "sizeof": true,
		"struct": true, "switch": true, "typedef": true, "union": true,
		"unsigned": true, "void": true, "while": true,
		"NULL": true, "true": true, "false": true,
	}
}

// isNumeric reports whether the token looks like a numeric literal.
func isNumeric(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != 'e' && r != 'E' && r != '-' && r != '+' {
			return false
		}
	}
	return true
}

// identifierPlaceholder names the n-th distinct identifier.
func identifierPlaceholder(index int) string {
	return "ID" + string(rune('A'+index%26))
}

// computeKGrams joins consecutive token runs of length k. Token lists
// shorter than k collapse into a single gram so short-but-real
// content still produces a hashable set.
func computeKGrams(tokens []string, k int) []string {
	if len(tokens) < k {
		return []string{strings.Join(tokens, " ")}
	}

	kgrams := make([]string, 0, len(tokens)-k+1)
	for i := 0; i <= len(tokens)-k; i++ {
		kgrams = append(kgrams, strings.Join(tokens[i:i+k], " "))
	}
	return kgrams
}

// hashKGram hashes one k-gram with FNV-1a.
func hashKGram(kgram string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(kgram))
	return h.Sum64()
}

// computeMinHash folds the k-gram hash set into a fixed-length MinHash
// signature.
func (f *Fingerprinter) computeMinHash(hashes []uint64) []uint64 {
	if len(hashes) == 0 {
		return make([]uint64, f.config.NumHashes)
	}

	sig := make([]uint64, f.config.NumHashes)
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	for _, h := range hashes {
		for i, seed := range f.hashSeeds {
			combined := h ^ (seed * 0x9e3779b97f4a7c15)
			if combined < sig[i] {
				sig[i] = combined
			}
		}
	}
	return sig
}
