// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package blockfs

import "unicode"

// DirFS is the directory layer: it interprets a directory inode's byte
// content as a flat sequence of fixed-size directory entries and implements
// lookup and linking on top of it. It is generic over the inode store, so
// it works identically whether that store is the plain *InodeFS or the
// reference-counted *CachedFS.
type DirFS struct {
	InodeStore
}

// NewDirFS wraps an inode store with directory-layer operations.
func NewDirFS(store InodeStore) *DirFS {
	return &DirFS{InodeStore: store}
}

func isValidDirName(name string) bool {
	if len(name) == 0 || len(name) > DirNameSize {
		return false
	}
	if name == "." || name == ".." {
		return true
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// GetNameStr returns the entry's name as a string, stopping at the first NUL
// byte (or the full DirNameSize if unpadded).
func GetNameStr(de DirEntry) string {
	for i, b := range de.Name {
		if b == 0 {
			return string(de.Name[:i])
		}
	}
	return string(de.Name[:])
}

// SetNameStr validates name and overwrites de's name field with it,
// zero-padding any unused trailing bytes.
func SetNameStr(de *DirEntry, name string) error {
	if !isValidDirName(name) {
		return ErrInvalidName
	}
	de.Name = [DirNameSize]byte{}
	copy(de.Name[:], name)
	return nil
}

// NewDirEntry builds a validated directory entry pointing at inum.
func NewDirEntry(inum uint64, name string) (DirEntry, error) {
	de := DirEntry{Inum: inum}
	if err := SetNameStr(&de, name); err != nil {
		return DirEntry{}, err
	}
	return de, nil
}

// DirLookup scans dirIno's content for an entry named name, returning its
// target inode number and the byte offset at which the entry was found.
func (dfs *DirFS) DirLookup(dirIno *Inode, name string) (uint64, uint64, error) {
	if dirIno.Disk.FType != Dir {
		return 0, 0, ErrNotADirectory
	}
	if !isValidDirName(name) {
		return 0, 0, ErrInvalidName
	}

	buf := make([]byte, dirEntrySize)
	for off := uint64(0); off < dirIno.Disk.Size; off += dirEntrySize {
		n, err := dfs.IRead(dirIno, buf, off, dirEntrySize)
		if err != nil {
			return 0, 0, err
		}
		if n < dirEntrySize {
			break
		}
		de := UnmarshalDirEntry(buf)
		if de.Inum != 0 && GetNameStr(de) == name {
			return de.Inum, off, nil
		}
	}

	return 0, 0, ErrNotFound
}

// DirLink adds an entry named name pointing at inum into dirIno, reusing the
// lowest-offset empty slot if one exists and appending otherwise. The
// target inode's link count is incremented, except when the entry is a
// self-reference (inum == dirIno.Inum, as with "." or the root's "..") where
// bumping the count would prevent the directory from ever reaching zero
// links.
func (dfs *DirFS) DirLink(dirIno *Inode, inum uint64, name string) (uint64, error) {
	if dirIno.Disk.FType != Dir {
		return 0, ErrNotADirectory
	}

	de, err := NewDirEntry(inum, name)
	if err != nil {
		return 0, err
	}

	target, err := dfs.IGet(inum)
	if err != nil {
		return 0, err
	}
	if target.Disk.FType == Free {
		return 0, ErrNotAllocated
	}

	buf := make([]byte, dirEntrySize)
	reuseOffset := uint64(0)
	haveReuse := false

	for off := uint64(0); off < dirIno.Disk.Size; off += dirEntrySize {
		n, err := dfs.IRead(dirIno, buf, off, dirEntrySize)
		if err != nil {
			return 0, err
		}
		if n < dirEntrySize {
			break
		}
		existing := UnmarshalDirEntry(buf)
		if existing.Inum == 0 {
			if !haveReuse {
				reuseOffset = off
				haveReuse = true
			}
			continue
		}
		if GetNameStr(existing) == name {
			return 0, ErrExists
		}
	}

	writeOffset := dirIno.Disk.Size
	if haveReuse {
		writeOffset = reuseOffset
	}
	if err := dfs.IWrite(dirIno, de.Marshal(), writeOffset, dirEntrySize); err != nil {
		return 0, err
	}

	if inum == dirIno.Inum {
		return writeOffset, nil
	}

	target.Disk.NLink++
	if err := dfs.IPut(target); err != nil {
		return 0, err
	}
	return writeOffset, nil
}
