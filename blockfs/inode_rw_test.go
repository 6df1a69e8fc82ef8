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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-blockfs/blockfs/blockfs"
)

func countAllocated(t *testing.T, ifs *blockfs.InodeFS, sb blockfs.SuperBlock) int {
	t.Helper()
	n := 0
	bitsPerBlock := sb.BlockSize * 8
	bitmapBlocks := (sb.NumDataBlocks + bitsPerBlock - 1) / bitsPerBlock
	for bl := uint64(0); bl < bitmapBlocks; bl++ {
		block, err := ifs.BGet(sb.BitmapStart + bl)
		require.NoError(t, err)
		for idx := uint64(0); idx < sb.NumDataBlocks-bl*bitsPerBlock && idx < bitsPerBlock; idx++ {
			byteIdx, bit := idx/8, idx%8
			if block[byteIdx]&(1<<bit) != 0 {
				n++
			}
		}
	}
	return n
}

// TestIWriteCrossesIndirectBoundary checks that a write spanning the
// direct/indirect boundary allocates the indirect index block on first
// crossing, and that a subsequent read returns exactly what was written.
func TestIWriteCrossesIndirectBoundary(t *testing.T) {
	sb := newSuperBlock(300, 8, 30)
	ifs := mkfsInodesT(t, sb)

	inum, err := ifs.IAlloc(blockfs.File)
	require.NoError(t, err)
	ino, err := ifs.IGet(inum)
	require.NoError(t, err)

	buf := make([]byte, 5000)
	for i := range buf {
		buf[i] = byte(i % 256)
	}

	require.NoError(t, ifs.IWrite(ino, buf, 0, uint64(len(buf))))
	require.Equal(t, uint64(5000), ino.Disk.Size)
	require.NotEqual(t, uint64(0), ino.Disk.Indirect)

	// 5000 bytes at 300-byte blocks spans ceil(5000/300) == 17 data blocks,
	// plus one indirect index block.
	require.Equal(t, 18, countAllocated(t, ifs, sb))

	out := make([]byte, 5000)
	n, err := ifs.IRead(ino, out, 0, uint64(len(out)))
	require.NoError(t, err)
	require.Equal(t, uint64(5000), n)
	require.Equal(t, buf, out)

	require.NoError(t, ifs.IFree(inum))
	require.Equal(t, 0, countAllocated(t, ifs, sb))
}

func TestIReadPastEndOfFile(t *testing.T) {
	sb := newSuperBlock(300, 8, 30)
	ifs := mkfsInodesT(t, sb)

	inum, err := ifs.IAlloc(blockfs.File)
	require.NoError(t, err)
	ino, err := ifs.IGet(inum)
	require.NoError(t, err)

	require.NoError(t, ifs.IWrite(ino, []byte("hello"), 0, 5))

	n, err := ifs.IRead(ino, make([]byte, 5), 5, 5)
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)

	_, err = ifs.IRead(ino, make([]byte, 5), 6, 5)
	require.ErrorIs(t, err, blockfs.ErrOutOfRange)
}

func TestIWriteRejectsHolesAndOversizedWrites(t *testing.T) {
	sb := newSuperBlock(300, 8, 30)
	ifs := mkfsInodesT(t, sb)

	inum, err := ifs.IAlloc(blockfs.File)
	require.NoError(t, err)
	ino, err := ifs.IGet(inum)
	require.NoError(t, err)

	// A write starting past the current (zero) size would leave a hole.
	err = ifs.IWrite(ino, []byte("x"), 1, 1)
	require.ErrorIs(t, err, blockfs.ErrOutOfRange)

	big := make([]byte, 1)
	err = ifs.IWrite(ino, big, 0, 1<<40)
	require.ErrorIs(t, err, blockfs.ErrOutOfRange)
}
