// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package index

import (
	"hash/fnv"
	"sync"
)

// LSH banding defaults, tuned for 100-element signatures and a
// similarity threshold around 0.8 at the candidate stage.
const (
	DefaultNumBands    = 20
	DefaultRowsPerBand = 5
)

// LSHIndex is the in-memory banded MinHash index over fragment
// fingerprints. Instead of comparing a query to every fragment, it
// hashes signatures into per-band buckets where similar fragments are
// likely to collide; only colliding fragments are checked further.
//
// Safe for concurrent use.
type LSHIndex struct {
	numBands     int
	rowsPerBand  int
	buckets      []map[uint64][]string // per band: band hash → fragment IDs
	fingerprints map[string]*Fingerprint
	mu           sync.RWMutex
}

// NewLSHIndex creates an LSH index. The signature length of every
// fingerprint fed in must be at least numBands * rowsPerBand; more
// bands raise recall at the price of more false candidates.
func NewLSHIndex(numBands, rowsPerBand int) *LSHIndex {
	if numBands <= 0 {
		numBands = DefaultNumBands
	}
	if rowsPerBand <= 0 {
		rowsPerBand = DefaultRowsPerBand
	}

	buckets := make([]map[uint64][]string, numBands)
	for i := range buckets {
		buckets[i] = make(map[uint64][]string)
	}

	return &LSHIndex{
		numBands:     numBands,
		rowsPerBand:  rowsPerBand,
		buckets:      buckets,
		fingerprints: make(map[string]*Fingerprint),
	}
}

// Add indexes a fingerprint, replacing any previous entry with the
// same fragment ID. Nil fingerprints and short signatures are
// silently ignored.
func (l *LSHIndex) Add(fp *Fingerprint) {
	if fp == nil || len(fp.MinHashSig) < l.numBands*l.rowsPerBand {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if old, exists := l.fingerprints[fp.FragmentID]; exists {
		l.removeFromBuckets(old)
	}
	l.fingerprints[fp.FragmentID] = fp

	for band := 0; band < l.numBands; band++ {
		bandHash := l.hashBand(fp.MinHashSig, band)
		l.buckets[band][bandHash] = append(l.buckets[band][bandHash], fp.FragmentID)
	}
}

// Remove drops a fragment from the index. Unknown IDs are a no-op.
func (l *LSHIndex) Remove(fragmentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fp, exists := l.fingerprints[fragmentID]
	if !exists {
		return
	}
	l.removeFromBuckets(fp)
	delete(l.fingerprints, fragmentID)
}

// removeFromBuckets removes a fingerprint from all band buckets.
// Caller must hold the write lock.
func (l *LSHIndex) removeFromBuckets(fp *Fingerprint) {
	for band := 0; band < l.numBands; band++ {
		bandHash := l.hashBand(fp.MinHashSig, band)
		bucket := l.buckets[band][bandHash]

		filtered := make([]string, 0, len(bucket))
		for _, id := range bucket {
			if id != fp.FragmentID {
				filtered = append(filtered, id)
			}
		}
		if len(filtered) > 0 {
			l.buckets[band][bandHash] = filtered
		} else {
			delete(l.buckets[band], bandHash)
		}
	}
}

// Query returns the fragment IDs sharing at least one band with the
// query fingerprint. These are candidates, not matches; callers
// verify them with a similarity computation.
func (l *LSHIndex) Query(fp *Fingerprint) []string {
	if fp == nil || len(fp.MinHashSig) < l.numBands*l.rowsPerBand {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.queryLocked(fp)
}

// queryLocked collects band collisions. Caller must hold at least the
// read lock.
func (l *LSHIndex) queryLocked(fp *Fingerprint) []string {
	candidateSet := make(map[string]bool)
	for band := 0; band < l.numBands; band++ {
		bandHash := l.hashBand(fp.MinHashSig, band)
		for _, id := range l.buckets[band][bandHash] {
			if id != fp.FragmentID {
				candidateSet[id] = true
			}
		}
	}

	candidates := make([]string, 0, len(candidateSet))
	for id := range candidateSet {
		candidates = append(candidates, id)
	}
	return candidates
}

// Match is one LSH candidate kept by QueryWithThreshold.
type Match struct {
	// FragmentID identifies the matched fragment.
	FragmentID string

	// Similarity is the estimated Jaccard similarity.
	Similarity float64
}

// QueryWithThreshold finds candidates and keeps those whose estimated
// Jaccard similarity reaches the threshold.
func (l *LSHIndex) QueryWithThreshold(fp *Fingerprint, threshold float64) []Match {
	if fp == nil || len(fp.MinHashSig) < l.numBands*l.rowsPerBand {
		return nil
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	candidates := l.queryLocked(fp)
	if len(candidates) == 0 {
		return nil
	}

	matches := make([]Match, 0)
	for _, id := range candidates {
		candidateFP, exists := l.fingerprints[id]
		if !exists {
			continue
		}
		similarity := fp.EstimatedJaccard(candidateFP)
		if similarity >= threshold {
			matches = append(matches, Match{FragmentID: id, Similarity: similarity})
		}
	}
	return matches
}

// DuplicatePair is a pair of near-identical indexed fragments.
type DuplicatePair struct {
	FragmentID1 string  `json:"fragment_id_1"`
	FragmentID2 string  `json:"fragment_id_2"`
	Similarity  float64 `json:"similarity"`
}

// FindAllDuplicates reports every fragment pair whose estimated
// similarity reaches the threshold. Band buckets keep this
// near-linear in the index size instead of comparing all pairs.
func (l *LSHIndex) FindAllDuplicates(threshold float64) []DuplicatePair {
	l.mu.RLock()
	defer l.mu.RUnlock()

	checked := make(map[string]bool)
	var pairs []DuplicatePair

	for _, fp := range l.fingerprints {
		for _, id := range l.queryLocked(fp) {
			pairKey := canonicalPairKey(fp.FragmentID, id)
			if checked[pairKey] {
				continue
			}
			checked[pairKey] = true

			candidateFP, exists := l.fingerprints[id]
			if !exists {
				continue
			}
			similarity := fp.EstimatedJaccard(candidateFP)
			if similarity >= threshold {
				pairs = append(pairs, DuplicatePair{
					FragmentID1: fp.FragmentID,
					FragmentID2: id,
					Similarity:  similarity,
				})
			}
		}
	}
	return pairs
}

// canonicalPairKey builds an order-independent key for a pair.
func canonicalPairKey(id1, id2 string) string {
	if id1 < id2 {
		return id1 + "|" + id2
	}
	return id2 + "|" + id1
}

// hashBand hashes one band of the signature with FNV-1a over the
// little-endian bytes of each element.
func (l *LSHIndex) hashBand(sig []uint64, band int) uint64 {
	start := band * l.rowsPerBand
	end := start + l.rowsPerBand

	h := fnv.New64a()
	for i := start; i < end && i < len(sig); i++ {
		b := make([]byte, 8)
		for j := 0; j < 8; j++ {
			b[j] = byte(sig[i] >> (j * 8))
		}
		h.Write(b)
	}
	return h.Sum64()
}

// Size returns the number of indexed fragments.
func (l *LSHIndex) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fingerprints)
}

// GetFingerprint returns the indexed fingerprint for a fragment ID.
func (l *LSHIndex) GetFingerprint(fragmentID string) (*Fingerprint, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fp, exists := l.fingerprints[fragmentID]
	return fp, exists
}

// LSHStats describes the shape and fill of the index.
type LSHStats struct {
	NumFingerprints int `json:"num_fingerprints"`
	NumBands        int `json:"num_bands"`
	RowsPerBand     int `json:"rows_per_band"`
	TotalBuckets    int `json:"total_buckets"`
	MaxBucketSize   int `json:"max_bucket_size"`
}

// Stats summarizes bucket fill across all bands.
func (l *LSHIndex) Stats() LSHStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	totalBuckets := 0
	maxBucketSize := 0
	for _, bandBuckets := range l.buckets {
		totalBuckets += len(bandBuckets)
		for _, bucket := range bandBuckets {
			if len(bucket) > maxBucketSize {
				maxBucketSize = len(bucket)
			}
		}
	}

	return LSHStats{
		NumFingerprints: len(l.fingerprints),
		NumBands:        l.numBands,
		RowsPerBand:     l.rowsPerBand,
		TotalBuckets:    totalBuckets,
		MaxBucketSize:   maxBucketSize,
	}
}
