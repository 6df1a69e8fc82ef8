// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package blockfs

import "errors"

// Sentinel errors returned by blockfs operations. Callers distinguish them
// with errors.Is, since wrapping context (via fmt.Errorf's %w) is common.
var (
	// ErrInvalidSuperblock is returned when a superblock fails sb_valid.
	ErrInvalidSuperblock = errors.New("blockfs: invalid superblock")
	// ErrOutOfRange is returned when a block index, inode index or byte
	// offset exceeds structural bounds.
	ErrOutOfRange = errors.New("blockfs: index out of range")
	// ErrNoSpace is returned when the bitmap or inode table is exhausted.
	ErrNoSpace = errors.New("blockfs: no space left")
	// ErrDoubleFree is returned when freeing an already-free block or
	// inode.
	ErrDoubleFree = errors.New("blockfs: double free")
	// ErrNotAllocated is returned when an operation targets a free inode
	// it cannot operate on.
	ErrNotAllocated = errors.New("blockfs: inode not allocated")
	// ErrNotADirectory is returned when a directory-only operation is
	// applied to a non-directory inode.
	ErrNotADirectory = errors.New("blockfs: not a directory")
	// ErrNotFound is returned when a directory entry is absent.
	ErrNotFound = errors.New("blockfs: not found")
	// ErrExists is returned when linking a name that is already present.
	ErrExists = errors.New("blockfs: already exists")
	// ErrInvalidName is returned when a name fails the directory-entry
	// naming rules.
	ErrInvalidName = errors.New("blockfs: invalid name")
	// ErrInvalidPath is returned when a path fails the path syntax rules.
	ErrInvalidPath = errors.New("blockfs: invalid path")
	// ErrNotEmpty is returned when unlinking a non-empty directory.
	ErrNotEmpty = errors.New("blockfs: directory not empty")
	// ErrTooLarge is returned when a write would exceed the maximum file
	// size an inode can address.
	ErrTooLarge = errors.New("blockfs: write exceeds maximum file size")
	// ErrNotCached is returned by the cache's lookup-only accessor on a
	// miss.
	ErrNotCached = errors.New("blockfs: inode not cached")
	// ErrCacheFull is returned when the cache has no evictable entry.
	ErrCacheFull = errors.New("blockfs: cache full")
	// ErrBusy is returned when freeing a cached inode that still has
	// outstanding handles.
	ErrBusy = errors.New("blockfs: inode busy")
)
