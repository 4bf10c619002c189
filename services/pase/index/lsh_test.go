// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package index

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fingerprintFor builds an identified fingerprint for LSH tests.
func fingerprintFor(t *testing.T, id, text string) *Fingerprint {
	t.Helper()
	f := NewFingerprinter(DefaultFingerprintConfig())
	fp := f.FingerprintText(text)
	require.NotNil(t, fp)
	fp.FragmentID = id
	return fp
}

func TestLSHIndex_AddAndQuery(t *testing.T) {
	idx := NewLSHIndex(DefaultNumBands, DefaultRowsPerBand)

	idx.Add(fingerprintFor(t, "test/pkg/a.c:1-8", sumFunc))
	idx.Add(fingerprintFor(t, "test/pkg/b.c:1-6", unrelatedFunc))
	require.Equal(t, 2, idx.Size())

	f := NewFingerprinter(DefaultFingerprintConfig())
	candidates := idx.Query(f.FingerprintText(sumFunc))
	assert.Contains(t, candidates, "test/pkg/a.c:1-8")
}

func TestLSHIndex_AddReplacesSameID(t *testing.T) {
	idx := NewLSHIndex(DefaultNumBands, DefaultRowsPerBand)

	idx.Add(fingerprintFor(t, "test/pkg/a.c:1-8", sumFunc))
	idx.Add(fingerprintFor(t, "test/pkg/a.c:1-8", unrelatedFunc))

	assert.Equal(t, 1, idx.Size())

	fp, ok := idx.GetFingerprint("test/pkg/a.c:1-8")
	require.True(t, ok)
	f := NewFingerprinter(DefaultFingerprintConfig())
	assert.Equal(t, 1.0, fp.EstimatedJaccard(f.FingerprintText(unrelatedFunc)))
}

func TestLSHIndex_Remove(t *testing.T) {
	idx := NewLSHIndex(DefaultNumBands, DefaultRowsPerBand)

	idx.Add(fingerprintFor(t, "test/pkg/a.c:1-8", sumFunc))
	idx.Remove("test/pkg/a.c:1-8")

	assert.Zero(t, idx.Size())
	f := NewFingerprinter(DefaultFingerprintConfig())
	assert.Empty(t, idx.Query(f.FingerprintText(sumFunc)))

	// Removing again is a no-op.
	idx.Remove("test/pkg/a.c:1-8")
}

func TestLSHIndex_QueryWithThreshold(t *testing.T) {
	idx := NewLSHIndex(DefaultNumBands, DefaultRowsPerBand)
	idx.Add(fingerprintFor(t, "test/pkg/a.c:1-8", sumFunc))
	idx.Add(fingerprintFor(t, "test/pkg/b.c:1-6", unrelatedFunc))

	f := NewFingerprinter(DefaultFingerprintConfig())
	matches := idx.QueryWithThreshold(f.FingerprintText(sumFunc), 0.5)

	require.Len(t, matches, 1)
	assert.Equal(t, "test/pkg/a.c:1-8", matches[0].FragmentID)
	assert.Equal(t, 1.0, matches[0].Similarity)
}

func TestLSHIndex_IgnoresShortSignatures(t *testing.T) {
	idx := NewLSHIndex(DefaultNumBands, DefaultRowsPerBand)

	idx.Add(&Fingerprint{FragmentID: "short", MinHashSig: []uint64{1, 2, 3}})
	assert.Zero(t, idx.Size())

	idx.Add(nil)
	assert.Zero(t, idx.Size())
}

func TestLSHIndex_FindAllDuplicates(t *testing.T) {
	idx := NewLSHIndex(DefaultNumBands, DefaultRowsPerBand)
	idx.Add(fingerprintFor(t, "test/one/a.c:1-8", sumFunc))
	idx.Add(fingerprintFor(t, "test/two/b.c:10-17", sumFuncRenamed))
	idx.Add(fingerprintFor(t, "test/three/c.c:1-6", unrelatedFunc))

	pairs := idx.FindAllDuplicates(0.9)

	require.Len(t, pairs, 1)
	ids := []string{pairs[0].FragmentID1, pairs[0].FragmentID2}
	assert.Contains(t, ids, "test/one/a.c:1-8")
	assert.Contains(t, ids, "test/two/b.c:10-17")
	assert.Equal(t, 1.0, pairs[0].Similarity)
}

func TestLSHIndex_Stats(t *testing.T) {
	idx := NewLSHIndex(DefaultNumBands, DefaultRowsPerBand)
	for i := 0; i < 5; i++ {
		idx.Add(fingerprintFor(t, fmt.Sprintf("test/pkg/f%d.c:1-8", i), fmt.Sprintf(`int f%d(int a)
{
	int r = a * %d;
	r += %d;
	return r;
}`, i, i, i*7)))
	}

	stats := idx.Stats()
	assert.Equal(t, 5, stats.NumFingerprints)
	assert.Equal(t, DefaultNumBands, stats.NumBands)
	assert.Equal(t, DefaultRowsPerBand, stats.RowsPerBand)
	assert.Greater(t, stats.TotalBuckets, 0)
	assert.GreaterOrEqual(t, stats.MaxBucketSize, 1)
}
