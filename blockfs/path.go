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
	"errors"
	"strings"

	"github.com/go-blockfs/blockfs/device"
)

// PathFS is the path layer: it resolves slash-separated paths against the
// on-disk directory tree and maintains a mutable working directory, held
// per PathFS.
type PathFS struct {
	*DirFS
	cwd string
}

// MkfsPath creates a new image, then establishes the root directory: inode
// RootInum, self-linked as "." and (having no parent) self-linked as "..".
// The working directory starts at "/".
func MkfsPath(path string, sb SuperBlock) (*PathFS, error) {
	ifs, err := MkfsInodes(path, sb)
	if err != nil {
		return nil, err
	}
	dfs := NewDirFS(ifs)

	rootInum, err := ifs.IAlloc(Dir)
	if err != nil {
		return nil, err
	}
	if rootInum != RootInum {
		panic("blockfs: mkfs: root inode did not receive the reserved inode number")
	}
	root, err := ifs.IGet(rootInum)
	if err != nil {
		return nil, err
	}
	// The root has no external parent to link it in and contribute to its
	// nlink, so mkfs sets it explicitly; both of its own entries below are
	// self-references and so do not bump it further.
	root.Disk.NLink = 1
	if err := ifs.IPut(root); err != nil {
		return nil, err
	}

	if _, err := dfs.DirLink(root, rootInum, "."); err != nil {
		return nil, err
	}
	if _, err := dfs.DirLink(root, rootInum, ".."); err != nil {
		return nil, err
	}

	return &PathFS{DirFS: dfs, cwd: "/"}, nil
}

// MountPath mounts an existing image and resets the working directory to
// "/".
func MountPath(dev *device.Device) (*PathFS, error) {
	ifs, err := MountInodes(dev)
	if err != nil {
		return nil, err
	}
	return &PathFS{DirFS: NewDirFS(ifs), cwd: "/"}, nil
}

func splitSegments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidPath reports whether path is syntactically well-formed: "/" alone is
// valid; the empty string is not; otherwise path must begin with "/", "./"
// or "../", must not end with "/", and every slash-separated component must
// be a syntactically valid entry name.
func ValidPath(path string) bool {
	if len(path) == 0 {
		return false
	}
	if path == "/" {
		return true
	}
	if !strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "./") && !strings.HasPrefix(path, "../") {
		return false
	}
	if strings.HasSuffix(path, "/") {
		return false
	}
	for _, seg := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		if !isValidDirName(seg) {
			return false
		}
	}
	return true
}

// GetCwd returns the current working directory path.
func (pfs *PathFS) GetCwd() string {
	return pfs.cwd
}

// SetCwd updates the working directory by textually combining path with the
// current one: "." segments are dropped, and ".." pops the last segment off
// the accumulated path without consulting the disk. A ".." that would climb
// above the root is silently swallowed rather than rejected. This is purely
// lexical; it does not verify that the resulting path names a real,
// existing directory.
func (pfs *PathFS) SetCwd(path string) error {
	if !ValidPath(path) {
		return ErrInvalidPath
	}

	var segments []string
	if !strings.HasPrefix(path, "/") {
		segments = splitSegments(pfs.cwd)
	}

	for _, seg := range splitSegments(path) {
		switch seg {
		case ".":
			continue
		case "..":
			if len(segments) > 0 {
				segments = segments[:len(segments)-1]
			}
		default:
			segments = append(segments, seg)
		}
	}

	pfs.cwd = "/" + strings.Join(segments, "/")
	return nil
}

// resolveSegments walks segs against the real on-disk directory tree,
// starting from the root when absolute is true or from the working
// directory otherwise. Every segment, including "." and "..", is resolved
// through an actual DirLookup, so the result reflects the true structure of
// the tree rather than a lexical approximation.
func (pfs *PathFS) resolveSegments(segs []string, absolute bool) (*Inode, error) {
	var cur *Inode
	var err error
	if absolute {
		cur, err = pfs.IGet(RootInum)
	} else {
		cur, err = pfs.resolveSegments(splitSegments(pfs.cwd), true)
	}
	if err != nil {
		return nil, err
	}

	for _, seg := range segs {
		inum, _, err := pfs.DirLookup(cur, seg)
		if err != nil {
			return nil, err
		}
		cur, err = pfs.IGet(inum)
		if err != nil {
			return nil, err
		}
	}

	return cur, nil
}

// ResolvePath resolves path against the real on-disk directory tree.
// Unlike SetCwd, every segment (including "." and "..") is resolved through
// an actual DirLookup, so the result reflects the true structure of the
// tree rather than a lexical approximation.
func (pfs *PathFS) ResolvePath(path string) (*Inode, error) {
	if !ValidPath(path) {
		return nil, ErrInvalidPath
	}
	return pfs.resolveSegments(splitSegments(path), strings.HasPrefix(path, "/"))
}

// splitParentName splits path into the segments of its parent directory and
// its final segment, rejecting "." and ".." as a target name since neither
// mkdir nor unlink may operate directly on them.
func splitParentName(path string) (parentSegs []string, absolute bool, name string, err error) {
	if !ValidPath(path) {
		return nil, false, "", ErrInvalidPath
	}
	segs := splitSegments(path)
	if len(segs) == 0 {
		return nil, false, "", ErrInvalidPath
	}

	name = segs[len(segs)-1]
	if name == "." || name == ".." {
		return nil, false, "", ErrInvalidName
	}

	return segs[:len(segs)-1], strings.HasPrefix(path, "/"), name, nil
}

// Mkdir creates a new, empty directory at path: it allocates a directory
// inode, links it into its parent under the final path segment, and wires
// up its own "." and ".." entries.
func (pfs *PathFS) Mkdir(path string) error {
	parentSegs, absolute, name, err := splitParentName(path)
	if err != nil {
		return err
	}

	if !isValidDirName(name) {
		return ErrInvalidName
	}

	parent, err := pfs.resolveSegments(parentSegs, absolute)
	if err != nil {
		return err
	}
	if parent.Disk.FType != Dir {
		return ErrNotADirectory
	}

	if _, _, err := pfs.DirLookup(parent, name); err == nil {
		return ErrExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	newInum, err := pfs.IAlloc(Dir)
	if err != nil {
		return err
	}

	// Link into the parent before touching the new directory's own "."
	// and "..": a DirLink that grows a directory persists that directory's
	// full in-memory record (including NLink), so linking "name" here first
	// means this write goes out before anything bumps parent's NLink, and
	// the later ".." link (which fetches parent fresh via IGet) is the one
	// that actually applies that bump. Reversing the order would instead
	// have the parent-link step re-persist parent's in-memory NLink over
	// the bump the ".." step had just written to disk. For the same
	// reason the new directory is fetched only after the parent link has
	// bumped its NLink to 1.
	if _, err := pfs.DirLink(parent, newInum, name); err != nil {
		return err
	}
	newDir, err := pfs.IGet(newInum)
	if err != nil {
		return err
	}
	if _, err := pfs.DirLink(newDir, newInum, "."); err != nil {
		return err
	}
	_, err = pfs.DirLink(newDir, parent.Inum, "..")
	return err
}

// dirIsEmpty reports whether dirIno contains any live entry other than "."
// and "..".
func dirIsEmpty(store InodeStore, dirIno *Inode) (bool, error) {
	buf := make([]byte, dirEntrySize)
	for off := uint64(0); off < dirIno.Disk.Size; off += dirEntrySize {
		n, err := store.IRead(dirIno, buf, off, dirEntrySize)
		if err != nil {
			return false, err
		}
		if n < dirEntrySize {
			break
		}
		de := UnmarshalDirEntry(buf)
		if de.Inum == 0 {
			continue
		}
		if name := GetNameStr(de); name != "." && name != ".." {
			return false, nil
		}
	}
	return true, nil
}

// dirClearEntry zeroes the slot holding the entry named name, turning it
// back into an empty, reusable slot.
func dirClearEntry(store InodeStore, dirIno *Inode, name string) error {
	buf := make([]byte, dirEntrySize)
	for off := uint64(0); off < dirIno.Disk.Size; off += dirEntrySize {
		n, err := store.IRead(dirIno, buf, off, dirEntrySize)
		if err != nil {
			return err
		}
		if n < dirEntrySize {
			break
		}
		de := UnmarshalDirEntry(buf)
		if de.Inum != 0 && GetNameStr(de) == name {
			return store.IWrite(dirIno, DirEntry{}.Marshal(), off, dirEntrySize)
		}
	}
	return ErrNotFound
}

// Unlink removes the entry named by path's final segment from its parent
// directory. "." and ".." may never be unlinked directly. Removing a
// directory requires it to be empty of everything but its own "." and "..".
// Link counts are decremented accordingly (skipping the decrement for a
// self-reference, symmetric with DirLink), and an inode whose link count
// reaches zero is freed immediately.
func (pfs *PathFS) Unlink(path string) error {
	parentSegs, absolute, name, err := splitParentName(path)
	if err != nil {
		return err
	}

	parent, err := pfs.resolveSegments(parentSegs, absolute)
	if err != nil {
		return err
	}
	if parent.Disk.FType != Dir {
		return ErrNotADirectory
	}

	inum, _, err := pfs.DirLookup(parent, name)
	if err != nil {
		return err
	}
	target, err := pfs.IGet(inum)
	if err != nil {
		return err
	}

	if target.Disk.FType == Dir {
		empty, err := dirIsEmpty(pfs, target)
		if err != nil {
			return err
		}
		if !empty {
			return ErrNotEmpty
		}
	}

	if err := dirClearEntry(pfs, parent, name); err != nil {
		return err
	}

	if inum == parent.Inum {
		return nil
	}

	target.Disk.NLink--
	if err := pfs.IPut(target); err != nil {
		return err
	}
	if target.Disk.NLink != 0 {
		return nil
	}

	// Freeing a directory releases the ".." reference it contributed to
	// its parent's nlink, which may in turn bring the parent to zero.
	if target.Disk.FType == Dir {
		parent.Disk.NLink--
		if err := pfs.IPut(parent); err != nil {
			return err
		}
		if parent.Disk.NLink == 0 {
			if err := pfs.IFree(parent.Inum); err != nil {
				return err
			}
		}
	}

	return pfs.IFree(target.Inum)
}
