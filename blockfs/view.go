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
	"io"
	"io/fs"
	"path"
	"sort"
	"time"
)

var (
	_ fs.FS        = (*View)(nil)
	_ fs.ReadDirFS = (*View)(nil)
	_ fs.StatFS    = (*View)(nil)
)

// View adapts a PathFS to the standard io/fs.FS interfaces, so its content
// can be walked, hashed and compared with ordinary Go filesystem tooling
// (fs.WalkDir, go-internal/dirhash, and the like).
type View struct {
	pfs *PathFS
}

// NewView wraps pfs as a read-only io/fs.FS.
func NewView(pfs *PathFS) *View {
	return &View{pfs: pfs}
}

func toBlockfsPath(name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", fs.ErrInvalid
	}
	if name == "." {
		return "/", nil
	}
	return "/" + name, nil
}

func toFsErr(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fs.ErrNotExist
	case errors.Is(err, ErrNotADirectory), errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidPath):
		return fs.ErrInvalid
	default:
		return err
	}
}

// Open implements fs.FS.
func (v *View) Open(name string) (fs.File, error) {
	p, err := toBlockfsPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	ino, err := v.pfs.ResolvePath(p)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: toFsErr(err)}
	}

	return &viewFile{v: v, name: path.Base(name), ino: ino}, nil
}

// ReadDir implements fs.ReadDirFS.
func (v *View) ReadDir(name string) ([]fs.DirEntry, error) {
	p, err := toBlockfsPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}

	ino, err := v.pfs.ResolvePath(p)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: toFsErr(err)}
	}
	if ino.Disk.FType != Dir {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: errors.New("not a directory")}
	}

	buf := make([]byte, dirEntrySize)
	var out []fs.DirEntry
	for off := uint64(0); off < ino.Disk.Size; off += dirEntrySize {
		n, err := v.pfs.IRead(ino, buf, off, dirEntrySize)
		if err != nil {
			return nil, err
		}
		if n < dirEntrySize {
			break
		}
		de := UnmarshalDirEntry(buf)
		if de.Inum == 0 {
			continue
		}
		entryName := GetNameStr(de)
		if entryName == "." || entryName == ".." {
			continue
		}
		child, err := v.pfs.IGet(de.Inum)
		if err != nil {
			return nil, err
		}
		out = append(out, &viewDirEntry{name: entryName, ino: child})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].(*viewDirEntry).name < out[j].(*viewDirEntry).name
	})

	return out, nil
}

// Stat implements fs.StatFS.
func (v *View) Stat(name string) (fs.FileInfo, error) {
	p, err := toBlockfsPath(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}

	ino, err := v.pfs.ResolvePath(p)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: toFsErr(err)}
	}

	return &viewFileInfo{name: path.Base(name), ino: ino}, nil
}

type viewFileInfo struct {
	name string
	ino  *Inode
}

func (fi *viewFileInfo) Name() string { return fi.name }
func (fi *viewFileInfo) Size() int64  { return int64(fi.ino.Disk.Size) }

func (fi *viewFileInfo) Mode() fs.FileMode {
	if fi.ino.Disk.FType == Dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

func (fi *viewFileInfo) ModTime() time.Time { return time.Time{} }
func (fi *viewFileInfo) IsDir() bool        { return fi.ino.Disk.FType == Dir }
func (fi *viewFileInfo) Sys() any           { return fi.ino }

type viewDirEntry struct {
	name string
	ino  *Inode
}

func (de *viewDirEntry) Name() string { return de.name }
func (de *viewDirEntry) IsDir() bool  { return de.ino.Disk.FType == Dir }

func (de *viewDirEntry) Type() fs.FileMode {
	if de.ino.Disk.FType == Dir {
		return fs.ModeDir
	}
	return 0
}

func (de *viewDirEntry) Info() (fs.FileInfo, error) {
	return &viewFileInfo{name: de.name, ino: de.ino}, nil
}

type viewFile struct {
	v    *View
	name string
	ino  *Inode
	off  uint64
}

func (f *viewFile) Stat() (fs.FileInfo, error) {
	return &viewFileInfo{name: f.name, ino: f.ino}, nil
}

func (f *viewFile) Read(p []byte) (int, error) {
	if f.ino.Disk.FType == Dir {
		return 0, &fs.PathError{Op: "read", Path: f.name, Err: errors.New("is a directory")}
	}
	if f.off >= f.ino.Disk.Size {
		return 0, io.EOF
	}

	n, err := f.v.pfs.IRead(f.ino, p, f.off, uint64(len(p)))
	f.off += n
	if err != nil {
		return int(n), err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return int(n), nil
}

func (f *viewFile) Close() error { return nil }
