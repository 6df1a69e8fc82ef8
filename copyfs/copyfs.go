// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on code originally from: https://github.com/golang/go
 *
 * Copyright (c) 2009 The Go Authors. All rights reserved.
 *
 * Redistribution and use in source and binary forms, with or without
 * modification, are permitted provided that the following conditions are
 * met:
 *
 *    * Redistributions of source code must retain the above copyright
 * notice, this list of conditions and the following disclaimer.
 *    * Redistributions in binary form must reproduce the above
 * copyright notice, this list of conditions and the following disclaimer
 * in the documentation and/or other materials provided with the
 * distribution.
 *    * Neither the name of Google Inc. nor the names of its
 * contributors may be used to endorse or promote products derived from
 * this software without specific prior written permission.
 *
 * THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
 * "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
 * LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
 * A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
 * OWNER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
 * SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
 * LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
 * DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
 * THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
 * (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
 * OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.
 */

// Package copyfs materializes any io/fs.FS onto the real, local filesystem.
// It exists so a mounted blockfs image (wrapped in a blockfs.View) can be
// extracted onto disk for inspection with ordinary OS tools, the same way
// os.CopyFS lets any fs.FS be dumped to a directory.
package copyfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"unicode/utf8"
)

var errInvalidPath = errors.New("copyfs: invalid name")

// localize converts an fs.FS-style, slash-separated path into one safe to
// join onto a local directory, rejecting anything fs.ValidPath wouldn't
// already accept (so ".." traversal and absolute paths are out) plus
// whatever osLocalize additionally forbids on the host OS (reserved device
// names and a literal "\" or ":" on Windows, for instance).
func localize(name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", errInvalidPath
	}
	for p := name; p != ""; {
		i := 0
		for i < len(p) && p[i] != '/' {
			i++
		}
		if !utf8.ValidString(p[:i]) {
			return "", errInvalidPath
		}
		if i < len(p) {
			p = p[i+1:]
		} else {
			p = ""
		}
	}
	return osLocalize(name)
}

// CopyFS copies the file system fsys into the local directory dir, creating
// dir and any parent directories as needed. Existing files are not
// overwritten: CopyFS fails if a destination path already exists.
func CopyFS(dir string, fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		targ, err := localizePath(dir, name)
		if err != nil {
			return err
		}

		if d.IsDir() {
			return os.MkdirAll(targ, 0o777)
		}

		if !d.Type().IsRegular() {
			return &fs.PathError{Op: "CopyFS", Path: name, Err: errors.New("copyfs: cannot copy non-regular file")}
		}

		r, err := fsys.Open(name)
		if err != nil {
			return err
		}
		defer r.Close()

		info, err := r.Stat()
		if err != nil {
			return err
		}

		w, err := os.OpenFile(targ, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o666|info.Mode().Perm())
		if err != nil {
			return err
		}

		if _, err := w.ReadFrom(r); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	})
}

// localizePath joins dir with name (a slash-separated fs.FS path), rejecting
// any component that would escape dir on the local operating system.
func localizePath(dir, name string) (string, error) {
	if name == "." {
		return dir, nil
	}

	local, err := localize(name)
	if err != nil {
		return "", &fs.PathError{Op: "CopyFS", Path: name, Err: err}
	}

	return filepath.Join(dir, local), nil
}
