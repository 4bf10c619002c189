// Copyright (C) 2026 Gustavo Boiko
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the COPYING file for the full license text.

package index

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cSource = `#include <stdio.h>

static int add_numbers(int a, int b)
{
	int sum = a + b;
	return sum;
}

int main(int argc, char **argv)
{
	int total = add_numbers(argc, 41);
	printf("%d\n", total);
	return total;
}
`

func TestFragments_CFunctionExtraction(t *testing.T) {
	f := NewFragmenter(DefaultFragmenterConfig())

	frags, err := f.Fragments(context.Background(), "test", "demo", "src/add.c", []byte(cSource))
	require.NoError(t, err)
	require.Len(t, frags, 2)

	assert.Equal(t, "test/demo/src/add.c:3-7", frags[0].ID)
	assert.Equal(t, 3, frags[0].StartLine)
	assert.Equal(t, 7, frags[0].EndLine)
	assert.Contains(t, frags[0].Text, "add_numbers")

	assert.Equal(t, "test/demo/src/add.c:9-14", frags[1].ID)
	assert.Contains(t, frags[1].Text, "main")

	for _, frag := range frags {
		assert.Equal(t, "test", frag.Collection)
		assert.Equal(t, "demo", frag.Package)
		assert.Equal(t, "src/add.c", frag.Path)
	}
}

func TestFragments_TinyFunctionsSkipped(t *testing.T) {
	f := NewFragmenter(DefaultFragmenterConfig())

	src := `int tiny(void) { return 1; }

int bigger(int x)
{
	int y = x * 2;
	y += 3;
	return y;
}
`
	frags, err := f.Fragments(context.Background(), "test", "demo", "a.c", []byte(src))
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Contains(t, frags[0].Text, "bigger")
}

func TestFragments_HeaderFallsBackToWindows(t *testing.T) {
	f := NewFragmenter(DefaultFragmenterConfig())

	header := `#ifndef DEMO_H
#define DEMO_H

struct demo_state;

int demo_init(struct demo_state *st);
void demo_free(struct demo_state *st);

#endif
`
	frags, err := f.Fragments(context.Background(), "test", "demo", "demo.h", []byte(header))
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, 1, frags[0].StartLine)
	assert.Equal(t, 9, frags[0].EndLine)
}

func TestFragments_WindowsOverlap(t *testing.T) {
	f := NewFragmenter(DefaultFragmenterConfig())

	var sb strings.Builder
	for i := 1; i <= 50; i++ {
		fmt.Fprintf(&sb, "line number %d content\n", i)
	}

	frags, err := f.Fragments(context.Background(), "test", "demo", "notes.txt", []byte(sb.String()))
	require.NoError(t, err)
	require.Len(t, frags, 3)

	assert.Equal(t, 1, frags[0].StartLine)
	assert.Equal(t, 30, frags[0].EndLine)
	assert.Equal(t, 16, frags[1].StartLine)
	assert.Equal(t, 45, frags[1].EndLine)
	assert.Equal(t, 31, frags[2].StartLine)
	assert.Equal(t, 50, frags[2].EndLine)
}

func TestFragments_ShortFileSingleWindow(t *testing.T) {
	f := NewFragmenter(DefaultFragmenterConfig())

	frags, err := f.Fragments(context.Background(), "test", "demo", "short.sh", []byte("#!/bin/sh\necho one\necho two\n"))
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "test/demo/short.sh:1-3", frags[0].ID)
}

func TestFragments_EmptyFile(t *testing.T) {
	f := NewFragmenter(DefaultFragmenterConfig())

	frags, err := f.Fragments(context.Background(), "test", "demo", "empty.txt", nil)
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestFragments_BinarySkipped(t *testing.T) {
	f := NewFragmenter(DefaultFragmenterConfig())

	frags, err := f.Fragments(context.Background(), "test", "demo", "blob.dat", []byte("elf\x00header"))
	require.NoError(t, err)
	assert.Nil(t, frags)
}

func TestFragments_OversizeSkipped(t *testing.T) {
	cfg := DefaultFragmenterConfig()
	cfg.MaxFileSize = 16
	f := NewFragmenter(cfg)

	frags, err := f.Fragments(context.Background(), "test", "demo", "big.txt", []byte(strings.Repeat("x", 64)))
	require.NoError(t, err)
	assert.Nil(t, frags)
}

func TestIsBinary(t *testing.T) {
	assert.True(t, IsBinary([]byte{0x7f, 'E', 'L', 'F', 0x00}))
	assert.False(t, IsBinary([]byte("plain text")))
	assert.False(t, IsBinary(nil))
}

func TestFragmentID(t *testing.T) {
	assert.Equal(t, "tumbleweed/bash/shell.c:10-42", FragmentID("tumbleweed", "bash", "shell.c", 10, 42))
}
