// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package blockfs

import (
	"fmt"

	"github.com/go-blockfs/blockfs/device"
)

// FS is the block layer: superblock persistence, raw block get/put and the
// bitmap-backed data-block allocator. Higher layers (inode, directory,
// path, cache) embed or wrap an *FS.
type FS struct {
	dev *device.Device
	sb  SuperBlock
}

// Mkfs validates sb, creates a new image file at path and persists sb into
// block 0. The remaining blocks are left zeroed by the device.
func Mkfs(path string, sb SuperBlock) (*FS, error) {
	if !sbValid(sb) {
		return nil, ErrInvalidSuperblock
	}

	dev, err := device.Create(path, sb.BlockSize, sb.NumBlocks)
	if err != nil {
		return nil, fmt.Errorf("blockfs: mkfs: %w", err)
	}

	block := make([]byte, sb.BlockSize)
	copy(block, sb.Marshal())
	if err := dev.WriteBlock(0, block); err != nil {
		return nil, fmt.Errorf("blockfs: mkfs: failed to write superblock: %w", err)
	}

	return &FS{dev: dev, sb: sb}, nil
}

// Mount reads and validates the superblock from block 0 of an already-open
// device.
func Mount(dev *device.Device) (*FS, error) {
	block, err := dev.ReadBlock(0)
	if err != nil {
		return nil, fmt.Errorf("blockfs: mountfs: %w", err)
	}

	sb := UnmarshalSuperBlock(block)
	if !sbValid(sb) {
		return nil, ErrInvalidSuperblock
	}

	return &FS{dev: dev, sb: sb}, nil
}

// Unmount releases the underlying device, flushing all writes to durable
// storage.
func (fs *FS) Unmount() error {
	return fs.dev.Close()
}

// SupGet returns the cached superblock.
func (fs *FS) SupGet() SuperBlock {
	return fs.sb
}

// SupPut writes a new superblock, read-modify-write so that any trailing
// bytes in block 0 beyond the encoded fields are preserved, and updates the
// in-memory cache.
func (fs *FS) SupPut(sb SuperBlock) error {
	block, err := fs.dev.ReadBlock(0)
	if err != nil {
		return err
	}
	copy(block, sb.Marshal())
	if err := fs.dev.WriteBlock(0, block); err != nil {
		return err
	}
	fs.sb = sb
	return nil
}

// BGet reads block i.
func (fs *FS) BGet(i uint64) ([]byte, error) {
	if i >= fs.sb.NumBlocks {
		return nil, ErrOutOfRange
	}
	return fs.dev.ReadBlock(i)
}

// BPut writes block i.
func (fs *FS) BPut(i uint64, buf []byte) error {
	if i >= fs.sb.NumBlocks {
		return ErrOutOfRange
	}
	return fs.dev.WriteBlock(i, buf)
}

// BZero overwrites data block i (data-region-relative) with zeros, without
// touching its allocation state in the bitmap.
func (fs *FS) BZero(i uint64) error {
	if i >= fs.sb.NumDataBlocks {
		return ErrOutOfRange
	}
	return fs.BPut(fs.sb.DataStart+i, make([]byte, fs.sb.BlockSize))
}

// BAlloc scans the bitmap region in ascending order for the first free data
// block, marks it allocated, zeroes its contents and returns its
// data-region-relative index. Each bitmap block is read and written at
// most once.
func (fs *FS) BAlloc() (uint64, error) {
	bitsPerBlock := fs.sb.BlockSize * 8
	bitmapBlocks := ceilDiv(fs.sb.NumDataBlocks, bitsPerBlock)

	for bl := uint64(0); bl < bitmapBlocks; bl++ {
		block, err := fs.BGet(fs.sb.BitmapStart + bl)
		if err != nil {
			return 0, err
		}

		for byteIdx := 0; byteIdx < len(block); byteIdx++ {
			if block[byteIdx] == 0xff {
				continue
			}
			for bit := 0; bit < 8; bit++ {
				idx := bl*bitsPerBlock + uint64(byteIdx)*8 + uint64(bit)
				if idx >= fs.sb.NumDataBlocks {
					break
				}
				if block[byteIdx]&(1<<uint(bit)) != 0 {
					continue
				}

				block[byteIdx] |= 1 << uint(bit)
				if err := fs.BPut(fs.sb.BitmapStart+bl, block); err != nil {
					return 0, err
				}
				if err := fs.BZero(idx); err != nil {
					return 0, err
				}
				return idx, nil
			}
		}
	}

	return 0, ErrNoSpace
}

// BFree clears the bitmap bit for data-region-relative index i. The
// contents of the data block are left untouched.
func (fs *FS) BFree(i uint64) error {
	if i >= fs.sb.NumDataBlocks {
		return ErrOutOfRange
	}

	bitsPerBlock := fs.sb.BlockSize * 8
	bl := i / bitsPerBlock
	bitOffset := i % bitsPerBlock
	byteIdx := bitOffset / 8
	bit := bitOffset % 8

	block, err := fs.BGet(fs.sb.BitmapStart + bl)
	if err != nil {
		return err
	}

	if block[byteIdx]&(1<<bit) == 0 {
		return ErrDoubleFree
	}
	block[byteIdx] &^= 1 << bit

	return fs.BPut(fs.sb.BitmapStart+bl, block)
}
