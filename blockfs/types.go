// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package blockfs implements a small UNIX-style filesystem on top of a
// fixed-size block device: a superblock, a bitmap-backed block allocator, an
// inode table with direct and indirect addressing, packed directory
// entries, path resolution with a mutable working directory, and a
// reference-counted inode cache.
package blockfs

import "encoding/binary"

// DirectPointers is the number of direct data-block pointers every inode
// carries inline.
const DirectPointers = 12

// DirNameSize is the maximum number of characters a directory entry name may
// hold.
const DirNameSize = 14

// RootInum is the inode number of the filesystem root. Inode numbers start
// at 1; slot 0 is reserved and never allocated.
const RootInum = 1

var byteOrder = binary.LittleEndian

// FileType is the type tag stored in a DInode.
type FileType uint8

const (
	// Free marks an inode slot as unallocated.
	Free FileType = iota
	// File marks a regular file inode.
	File
	// Dir marks a directory inode.
	Dir
)

// SuperBlock describes the layout of a filesystem image:
//
//	[superblock | inode blocks | free bitmap blocks | data blocks]
//
// It is always persisted at block index 0, padded with zeros to BlockSize.
type SuperBlock struct {
	// BlockSize is the size, in bytes, of every block in the image.
	BlockSize uint64
	// NumBlocks is the total number of blocks in the image.
	NumBlocks uint64
	// NumInodes is the number of inode slots tracked in the inode region.
	NumInodes uint64
	// InodeStart is the block index of the first inode block. Always 1.
	InodeStart uint64
	// NumDataBlocks is the number of data blocks tracked by the bitmap.
	NumDataBlocks uint64
	// BitmapStart is the block index of the first bitmap block.
	BitmapStart uint64
	// DataStart is the block index of the first data block.
	DataStart uint64
}

const superBlockSize = 7 * 8

// Marshal encodes the superblock into a fixed-size byte slice.
func (sb SuperBlock) Marshal() []byte {
	buf := make([]byte, superBlockSize)
	byteOrder.PutUint64(buf[0:8], sb.BlockSize)
	byteOrder.PutUint64(buf[8:16], sb.NumBlocks)
	byteOrder.PutUint64(buf[16:24], sb.NumInodes)
	byteOrder.PutUint64(buf[24:32], sb.InodeStart)
	byteOrder.PutUint64(buf[32:40], sb.NumDataBlocks)
	byteOrder.PutUint64(buf[40:48], sb.BitmapStart)
	byteOrder.PutUint64(buf[48:56], sb.DataStart)
	return buf
}

// UnmarshalSuperBlock decodes a superblock from buf. Panics if buf is
// shorter than the encoded superblock size, which would indicate a
// corrupted or misconfigured image rather than a user input fault.
func UnmarshalSuperBlock(buf []byte) SuperBlock {
	if len(buf) < superBlockSize {
		panic("blockfs: superblock buffer too small")
	}
	return SuperBlock{
		BlockSize:     byteOrder.Uint64(buf[0:8]),
		NumBlocks:     byteOrder.Uint64(buf[8:16]),
		NumInodes:     byteOrder.Uint64(buf[16:24]),
		InodeStart:    byteOrder.Uint64(buf[24:32]),
		NumDataBlocks: byteOrder.Uint64(buf[32:40]),
		BitmapStart:   byteOrder.Uint64(buf[40:48]),
		DataStart:     byteOrder.Uint64(buf[48:56]),
	}
}

// sbValid validates the structural invariants of a superblock's region
// layout, independent of any particular device.
func sbValid(sb SuperBlock) bool {
	if sb.InodeStart != 1 {
		return false
	}

	inodesPerBlock := sb.BlockSize / dinodeSize
	if inodesPerBlock == 0 {
		return false
	}
	inodeBlocks := ceilDiv(sb.NumInodes, inodesPerBlock)
	if sb.InodeStart+inodeBlocks > sb.BitmapStart {
		return false
	}

	bitsPerBlock := sb.BlockSize * 8
	if bitsPerBlock == 0 {
		return false
	}
	bitmapBlocks := ceilDiv(sb.NumDataBlocks, bitsPerBlock)
	if sb.BitmapStart+bitmapBlocks > sb.DataStart {
		return false
	}

	if sb.DataStart+sb.NumDataBlocks > sb.NumBlocks {
		return false
	}

	return true
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// DInode is the fixed-size, on-disk representation of an inode.
type DInode struct {
	FType   FileType
	NLink   uint16
	Size    uint64
	Direct  [DirectPointers]uint64
	// Indirect is the absolute data-block address of an indirect index
	// block holding additional block addresses, or 0 if none is needed.
	Indirect uint64
}

const dinodeSize = 1 + 2 + 8 + DirectPointers*8 + 8

// Marshal encodes the inode record into a fixed-size byte slice.
func (di DInode) Marshal() []byte {
	buf := make([]byte, dinodeSize)
	buf[0] = byte(di.FType)
	byteOrder.PutUint16(buf[1:3], di.NLink)
	byteOrder.PutUint64(buf[3:11], di.Size)
	off := 11
	for _, addr := range di.Direct {
		byteOrder.PutUint64(buf[off:off+8], addr)
		off += 8
	}
	byteOrder.PutUint64(buf[off:off+8], di.Indirect)
	return buf
}

// UnmarshalDInode decodes an inode record from buf. Panics on a short
// buffer, which indicates image corruption rather than a user fault: the
// caller always supplies a slice taken from a known-valid block offset.
func UnmarshalDInode(buf []byte) DInode {
	if len(buf) < dinodeSize {
		panic("blockfs: inode record buffer too small")
	}
	var di DInode
	di.FType = FileType(buf[0])
	di.NLink = byteOrder.Uint16(buf[1:3])
	di.Size = byteOrder.Uint64(buf[3:11])
	off := 11
	for i := range di.Direct {
		di.Direct[i] = byteOrder.Uint64(buf[off : off+8])
		off += 8
	}
	di.Indirect = byteOrder.Uint64(buf[off : off+8])
	return di
}

// Inode pairs an inode number with its on-disk record. Inode numbers count
// from 1; slot 0 is reserved and never allocated.
type Inode struct {
	Inum uint64
	Disk DInode
}

// NewInode builds an in-memory inode from an explicit block address list.
// If len(blocks) <= DirectPointers, the addresses are copied into the
// direct pointers. If len(blocks) == DirectPointers+1, the final address is
// taken to be the indirect block's own address (its contents are unknown to
// a static constructor). More than DirectPointers+1 addresses is rejected.
func NewInode(inum uint64, ft FileType, nlink uint16, size uint64, blocks []uint64) (*Inode, bool) {
	if len(blocks) > DirectPointers+1 {
		return nil, false
	}

	di := DInode{FType: ft, NLink: nlink, Size: size}
	for i, addr := range blocks {
		if i < DirectPointers {
			di.Direct[i] = addr
		} else {
			di.Indirect = addr
		}
	}

	return &Inode{Inum: inum, Disk: di}, true
}

// GetBlock returns the absolute address of the i-th logical data block
// pointed to by this inode, or 0 if unallocated. For i == DirectPointers it
// returns the indirect block's own address without consulting the disk.
func (ino *Inode) GetBlock(i uint64) uint64 {
	if i < DirectPointers {
		return ino.Disk.Direct[i]
	}
	if i == DirectPointers {
		return ino.Disk.Indirect
	}
	return 0
}

// DirEntry is a single, fixed-size directory entry: a target inode number
// and a name. An Inum of 0 denotes an empty (deleted or never-used) slot.
type DirEntry struct {
	Inum uint64
	Name [DirNameSize]byte
}

const dirEntrySize = 8 + DirNameSize

// Marshal encodes the directory entry into a fixed-size byte slice.
func (de DirEntry) Marshal() []byte {
	buf := make([]byte, dirEntrySize)
	byteOrder.PutUint64(buf[0:8], de.Inum)
	copy(buf[8:], de.Name[:])
	return buf
}

// UnmarshalDirEntry decodes a directory entry from buf.
func UnmarshalDirEntry(buf []byte) DirEntry {
	if len(buf) < dirEntrySize {
		panic("blockfs: dirent buffer too small")
	}
	var de DirEntry
	de.Inum = byteOrder.Uint64(buf[0:8])
	copy(de.Name[:], buf[8:8+DirNameSize])
	return de
}
