// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package blockfs_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-blockfs/blockfs/blockfs"
	"github.com/go-blockfs/blockfs/device"
)

// newSuperBlock lays out a valid superblock for the given block size, inode
// count and data block count, computing the region boundaries the same way
// sbValid checks them.
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

func tempImagePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "image.bin")
}

func mkfsT(t *testing.T, sb blockfs.SuperBlock) *blockfs.FS {
	t.Helper()
	fs, err := blockfs.Mkfs(tempImagePath(t), sb)
	require.NoError(t, err)
	return fs
}

func TestMkfs(t *testing.T) {
	t.Run("RejectsInvalidSuperblock", func(t *testing.T) {
		sb := newSuperBlock(256, 4, 5)
		sb.InodeStart = 2 // sb_valid requires InodeStart == 1

		_, err := blockfs.Mkfs(tempImagePath(t), sb)
		require.ErrorIs(t, err, blockfs.ErrInvalidSuperblock)
	})

	t.Run("RejectsOverlappingRegions", func(t *testing.T) {
		sb := newSuperBlock(256, 4, 5)
		sb.DataStart = sb.BitmapStart // bitmap and data regions collide

		_, err := blockfs.Mkfs(tempImagePath(t), sb)
		require.ErrorIs(t, err, blockfs.ErrInvalidSuperblock)
	})

	t.Run("MountRoundTrip", func(t *testing.T) {
		sb := newSuperBlock(256, 4, 5)
		path := tempImagePath(t)

		fs, err := blockfs.Mkfs(path, sb)
		require.NoError(t, err)
		require.NoError(t, fs.Unmount())

		dev, err := device.Open(path, sb.BlockSize, sb.NumBlocks)
		require.NoError(t, err)
		t.Cleanup(func() { _ = dev.Close() })

		mounted, err := blockfs.Mount(dev)
		require.NoError(t, err)
		require.Equal(t, sb, mounted.SupGet())
	})
}

// TestBAllocFillsBitmapLSBFirst checks that allocating data blocks one at a
// time fills the bitmap's bits low-to-high within each byte, and that
// freeing one clears exactly its own bit.
func TestBAllocFillsBitmapLSBFirst(t *testing.T) {
	sb := newSuperBlock(256, 4, 5)
	fs := mkfsT(t, sb)

	for want := uint64(0); want < 5; want++ {
		got, err := fs.BAlloc()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := fs.BAlloc()
	require.ErrorIs(t, err, blockfs.ErrNoSpace)

	block, err := fs.BGet(sb.BitmapStart)
	require.NoError(t, err)
	require.Equal(t, byte(0b00011111), block[0])

	require.NoError(t, fs.BFree(3))

	block, err = fs.BGet(sb.BitmapStart)
	require.NoError(t, err)
	require.Equal(t, byte(0b00010111), block[0])

	require.ErrorIs(t, fs.BFree(3), blockfs.ErrDoubleFree)

	// The freed bit is reused before any higher one.
	got, err := fs.BAlloc()
	require.NoError(t, err)
	require.Equal(t, uint64(3), got)
}

func TestBAllocZeroesReusedBlocks(t *testing.T) {
	sb := newSuperBlock(256, 2, 2)
	fs := mkfsT(t, sb)

	idx, err := fs.BAlloc()
	require.NoError(t, err)

	block, err := fs.BGet(sb.DataStart + idx)
	require.NoError(t, err)
	for i := range block {
		block[i] = 0xAB
	}
	require.NoError(t, fs.BPut(sb.DataStart+idx, block))

	require.NoError(t, fs.BFree(idx))

	reused, err := fs.BAlloc()
	require.NoError(t, err)
	require.Equal(t, idx, reused)

	block, err = fs.BGet(sb.DataStart + reused)
	require.NoError(t, err)
	for _, b := range block {
		require.Equal(t, byte(0), b)
	}
}

func TestBGetBPutOutOfRange(t *testing.T) {
	sb := newSuperBlock(256, 2, 2)
	fs := mkfsT(t, sb)

	_, err := fs.BGet(sb.NumBlocks)
	require.ErrorIs(t, err, blockfs.ErrOutOfRange)

	err = fs.BPut(sb.NumBlocks, make([]byte, sb.BlockSize))
	require.ErrorIs(t, err, blockfs.ErrOutOfRange)
}
