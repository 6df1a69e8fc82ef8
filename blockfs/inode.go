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

// InodeStore is satisfied by anything that can hand out, persist and
// resize inodes: the direct, uncached *InodeFS, or the reference-counted
// *CachedFS built on top of it.
type InodeStore interface {
	IGet(i uint64) (*Inode, error)
	IPut(ino *Inode) error
	IAlloc(ft FileType) (uint64, error)
	IFree(i uint64) error
	ITrunc(ino *Inode) error
	IRead(ino *Inode, buf []byte, off, n uint64) (uint64, error)
	IWrite(ino *Inode, buf []byte, off, n uint64) error
}

// InodeFS is the inode layer: it packs fixed-size inode records into inode
// blocks and implements allocation, freeing, truncation and byte-granular
// read/write, all without any caching.
type InodeFS struct {
	*FS
	inodesPerBlock uint64
}

var _ InodeStore = (*InodeFS)(nil)

func newInodeFS(fs *FS) *InodeFS {
	return &InodeFS{FS: fs, inodesPerBlock: fs.sb.BlockSize / dinodeSize}
}

// MkfsInodes creates a new image via Mkfs, then overwrites every inode slot
// (including slot 0, which is reserved) with the default free record.
func MkfsInodes(path string, sb SuperBlock) (*InodeFS, error) {
	fs, err := Mkfs(path, sb)
	if err != nil {
		return nil, err
	}

	ifs := newInodeFS(fs)
	if err := ifs.initInodes(); err != nil {
		return nil, fmt.Errorf("blockfs: mkfs: %w", err)
	}
	return ifs, nil
}

// MountInodes mounts an existing image via Mount and wraps it with inode
// layer bookkeeping.
func MountInodes(dev *device.Device) (*InodeFS, error) {
	fs, err := Mount(dev)
	if err != nil {
		return nil, err
	}
	return newInodeFS(fs), nil
}

func (ifs *InodeFS) initInodes() error {
	sb := ifs.SupGet()
	inodeBlocks := ceilDiv(sb.NumInodes, ifs.inodesPerBlock)
	free := DInode{}.Marshal()

	for bl := uint64(0); bl < inodeBlocks; bl++ {
		block, err := ifs.BGet(sb.InodeStart + bl)
		if err != nil {
			return err
		}
		for slot := uint64(0); slot < ifs.inodesPerBlock; slot++ {
			if bl*ifs.inodesPerBlock+slot >= sb.NumInodes {
				break
			}
			copy(block[slot*dinodeSize:], free)
		}
		if err := ifs.BPut(sb.InodeStart+bl, block); err != nil {
			return err
		}
	}
	return nil
}

// blockOfInode returns the absolute block index and in-block byte offset
// for inode i.
func (ifs *InodeFS) blockOfInode(i uint64) (blockAddr, offset uint64) {
	sb := ifs.SupGet()
	return sb.InodeStart + i/ifs.inodesPerBlock, (i % ifs.inodesPerBlock) * dinodeSize
}

// IGet deserializes and returns the inode record for i.
func (ifs *InodeFS) IGet(i uint64) (*Inode, error) {
	sb := ifs.SupGet()
	if i >= sb.NumInodes {
		return nil, ErrOutOfRange
	}

	blockAddr, offset := ifs.blockOfInode(i)
	block, err := ifs.BGet(blockAddr)
	if err != nil {
		return nil, err
	}

	di := UnmarshalDInode(block[offset : offset+dinodeSize])
	return &Inode{Inum: i, Disk: di}, nil
}

// IPut persists ino's record via read-modify-write of its containing block.
func (ifs *InodeFS) IPut(ino *Inode) error {
	blockAddr, offset := ifs.blockOfInode(ino.Inum)
	block, err := ifs.BGet(blockAddr)
	if err != nil {
		return err
	}
	copy(block[offset:offset+dinodeSize], ino.Disk.Marshal())
	return ifs.BPut(blockAddr, block)
}

// IAlloc scans the inode blocks in ascending order, skipping inum 0, for
// the first free record. Each inode block is read at most once.
func (ifs *InodeFS) IAlloc(ft FileType) (uint64, error) {
	sb := ifs.SupGet()
	inodeBlocks := ceilDiv(sb.NumInodes, ifs.inodesPerBlock)

	for bl := uint64(0); bl < inodeBlocks; bl++ {
		block, err := ifs.BGet(sb.InodeStart + bl)
		if err != nil {
			return 0, err
		}

		for slot := uint64(0); slot < ifs.inodesPerBlock; slot++ {
			inum := bl*ifs.inodesPerBlock + slot
			if inum >= sb.NumInodes {
				break
			}
			if inum == 0 {
				continue
			}

			off := slot * dinodeSize
			di := UnmarshalDInode(block[off : off+dinodeSize])
			if di.FType != Free {
				continue
			}

			di.FType = ft
			di.Size = 0
			di.NLink = 0
			di.Direct = [DirectPointers]uint64{}
			di.Indirect = 0
			copy(block[off:off+dinodeSize], di.Marshal())

			if err := ifs.BPut(sb.InodeStart+bl, block); err != nil {
				return 0, err
			}
			return inum, nil
		}
	}

	return 0, ErrNoSpace
}

// IFree frees inode i if its link count has reached zero; otherwise it is
// a no-op (the inode is still referenced).
func (ifs *InodeFS) IFree(i uint64) error {
	ino, err := ifs.IGet(i)
	if err != nil {
		return err
	}
	if ino.Disk.FType == Free {
		return ErrDoubleFree
	}
	if ino.Disk.NLink != 0 {
		return nil
	}

	if err := ifs.freeOwnedBlocks(ino); err != nil {
		return err
	}
	ino.Disk.FType = Free
	return ifs.IPut(ino)
}

// ITrunc releases all data blocks owned by ino, resets its size to zero
// and persists the result, mutating ino in place.
func (ifs *InodeFS) ITrunc(ino *Inode) error {
	if err := ifs.freeOwnedBlocks(ino); err != nil {
		return err
	}
	return ifs.IPut(ino)
}

// freeOwnedBlocks releases every data block (and the indirect block, if
// present) owned by ino given its current size, then clears its block
// pointers. It does not touch FType, NLink or persist the inode.
func (ifs *InodeFS) freeOwnedBlocks(ino *Inode) error {
	sb := ifs.SupGet()
	owned := ceilDiv(ino.Disk.Size, sb.BlockSize)

	for idx := uint64(0); idx < owned && idx < DirectPointers; idx++ {
		addr := ino.Disk.Direct[idx]
		if addr == 0 {
			continue
		}
		if err := ifs.BFree(addr - sb.DataStart); err != nil {
			return err
		}
		ino.Disk.Direct[idx] = 0
	}

	if owned > DirectPointers {
		indirectAddr := ino.Disk.Indirect
		if indirectAddr != 0 {
			indirectBlock, err := ifs.BGet(indirectAddr)
			if err != nil {
				return err
			}
			for idx := uint64(0); idx < owned-DirectPointers; idx++ {
				addr := byteOrder.Uint64(indirectBlock[idx*8 : idx*8+8])
				if addr == 0 {
					continue
				}
				if err := ifs.BFree(addr - sb.DataStart); err != nil {
					return err
				}
			}
			if err := ifs.BFree(indirectAddr - sb.DataStart); err != nil {
				return err
			}
			ino.Disk.Indirect = 0
		}
	}

	ino.Disk.Size = 0
	return nil
}
