// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package copyfs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-blockfs/blockfs/blockfs"
	"github.com/go-blockfs/blockfs/copyfs"
)

// newSuperBlock lays out a valid superblock the same way blockfs' own tests
// do, computing region boundaries from the requested capacity.
func newSuperBlock(blockSize, numInodes, numDataBlocks uint64) blockfs.SuperBlock {
	const dinodeSize = 1 + 2 + 8 + blockfs.DirectPointers*8 + 8

	inodesPerBlock := blockSize / dinodeSize
	inodeBlocks := (numInodes + inodesPerBlock - 1) / inodesPerBlock

	inodeStart := uint64(1)
	bitmapStart := inodeStart + inodeBlocks

	bitsPerBlock := blockSize * 8
	bitmapBlocks := (numDataBlocks + bitsPerBlock - 1) / bitsPerBlock

	dataStart := bitmapStart + bitmapBlocks
	numBlocks := dataStart + numDataBlocks

	return blockfs.SuperBlock{
		BlockSize:     blockSize,
		NumBlocks:     numBlocks,
		NumInodes:     numInodes,
		InodeStart:    inodeStart,
		NumDataBlocks: numDataBlocks,
		BitmapStart:   bitmapStart,
		DataStart:     dataStart,
	}
}

// TestCopyFSMaterializesBlockfsView exercises the actual reason this package
// exists: a blockfs.View (a mounted block-device image) must be copyable
// onto a real directory tree and read back byte-for-byte with ordinary OS
// tools, same as os.DirFS.
func TestCopyFSMaterializesBlockfsView(t *testing.T) {
	sb := newSuperBlock(512, 32, 64)
	imagePath := filepath.Join(t.TempDir(), "image.bin")

	pfs, err := blockfs.MkfsPath(imagePath, sb)
	require.NoError(t, err)

	require.NoError(t, pfs.Mkdir("/docs"))

	root, err := pfs.ResolvePath("/")
	require.NoError(t, err)
	readmeInum, err := pfs.IAlloc(blockfs.File)
	require.NoError(t, err)
	readme, err := pfs.IGet(readmeInum)
	require.NoError(t, err)
	require.NoError(t, pfs.IWrite(readme, []byte("hello, root"), 0, 11))
	_, err = pfs.DirLink(root, readmeInum, "readme")
	require.NoError(t, err)

	docs, err := pfs.ResolvePath("/docs")
	require.NoError(t, err)
	notesInum, err := pfs.IAlloc(blockfs.File)
	require.NoError(t, err)
	notes, err := pfs.IGet(notesInum)
	require.NoError(t, err)
	require.NoError(t, pfs.IWrite(notes, []byte("some notes"), 0, 10))
	_, err = pfs.DirLink(docs, notesInum, "notes")
	require.NoError(t, err)

	view := blockfs.NewView(pfs)

	outDir := t.TempDir()
	require.NoError(t, copyfs.CopyFS(outDir, view))

	readmeBytes, err := os.ReadFile(filepath.Join(outDir, "readme"))
	require.NoError(t, err)
	require.Equal(t, "hello, root", string(readmeBytes))

	notesBytes, err := os.ReadFile(filepath.Join(outDir, "docs", "notes"))
	require.NoError(t, err)
	require.Equal(t, "some notes", string(notesBytes))

	info, err := os.Stat(filepath.Join(outDir, "docs"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
