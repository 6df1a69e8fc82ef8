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

func mkfsPathT(t *testing.T) *blockfs.PathFS {
	t.Helper()
	sb := newSuperBlock(512, 32, 64)
	pfs, err := blockfs.MkfsPath(tempImagePath(t), sb)
	require.NoError(t, err)
	return pfs
}

func TestValidPath(t *testing.T) {
	valid := []string{"/", "/a", "/a/b", "./a", "../a/b", "./."}
	for _, p := range valid {
		require.Truef(t, blockfs.ValidPath(p), "expected %q to be valid", p)
	}

	invalid := []string{"", "a", "a/b", "/a/", "//", "/a//b", "/a$"}
	for _, p := range invalid {
		require.Falsef(t, blockfs.ValidPath(p), "expected %q to be invalid", p)
	}
}

func TestSetCwdIsPurelyTextual(t *testing.T) {
	pfs := mkfsPathT(t)

	require.NoError(t, pfs.SetCwd("/a/b"))
	require.Equal(t, "/a/b", pfs.GetCwd())

	require.NoError(t, pfs.SetCwd("./.."))
	require.Equal(t, "/a", pfs.GetCwd())

	// A ".." climbing past the root is swallowed, not rejected.
	require.NoError(t, pfs.SetCwd("/"))
	require.NoError(t, pfs.SetCwd("./.."))
	require.Equal(t, "/", pfs.GetCwd())

	require.NoError(t, pfs.SetCwd("/x"))
	require.NoError(t, pfs.SetCwd("./y/./z"))
	require.Equal(t, "/x/y/z", pfs.GetCwd())
}

func TestMkdirAndResolvePath(t *testing.T) {
	pfs := mkfsPathT(t)

	require.NoError(t, pfs.Mkdir("/a"))
	require.NoError(t, pfs.Mkdir("/a/b"))

	ino, err := pfs.ResolvePath("/a/b")
	require.NoError(t, err)
	require.Equal(t, blockfs.Dir, ino.Disk.FType)

	root, err := pfs.ResolvePath("/a/b/..")
	require.NoError(t, err)
	a, err := pfs.ResolvePath("/a")
	require.NoError(t, err)
	require.Equal(t, a.Inum, root.Inum)

	require.NoError(t, pfs.SetCwd("/a"))
	viaRelative, err := pfs.ResolvePath("./b")
	require.NoError(t, err)
	require.Equal(t, ino.Inum, viaRelative.Inum)
}

func TestMkdirRejectsDuplicateAndLeavesFilesystemUnchanged(t *testing.T) {
	pfs := mkfsPathT(t)

	require.NoError(t, pfs.Mkdir("/a"))

	before, err := pfs.ResolvePath("/")
	require.NoError(t, err)

	err = pfs.Mkdir("/a")
	require.ErrorIs(t, err, blockfs.ErrExists)

	after, err := pfs.ResolvePath("/")
	require.NoError(t, err)
	require.Equal(t, before.Disk.Size, after.Disk.Size)
}

// TestResolvePathFollowsRealParentLinks checks that resolve_path's ".."
// follows the real on-disk parent link, which can diverge from the lexical
// path when a directory's ".." entry was wired to something other than its
// textual parent.
func TestResolvePathFollowsRealParentLinks(t *testing.T) {
	pfs := mkfsPathT(t)

	require.NoError(t, pfs.Mkdir("/a"))
	require.NoError(t, pfs.Mkdir("/other"))

	a, err := pfs.ResolvePath("/a")
	require.NoError(t, err)
	other, err := pfs.ResolvePath("/other")
	require.NoError(t, err)

	childInum, err := pfs.IAlloc(blockfs.Dir)
	require.NoError(t, err)
	child, err := pfs.IGet(childInum)
	require.NoError(t, err)

	_, err = pfs.DirLink(child, childInum, ".")
	require.NoError(t, err)
	// Deliberately wire ".." to "other" rather than the real parent "a".
	_, err = pfs.DirLink(child, other.Inum, "..")
	require.NoError(t, err)
	_, err = pfs.DirLink(a, childInum, "child")
	require.NoError(t, err)

	resolved, err := pfs.ResolvePath("/a/child/..")
	require.NoError(t, err)
	require.Equal(t, other.Inum, resolved.Inum)
	require.NotEqual(t, a.Inum, resolved.Inum)
}

func TestUnlinkRemovesEntryAndFreesOnZeroNLink(t *testing.T) {
	pfs := mkfsPathT(t)

	require.NoError(t, pfs.Mkdir("/a"))
	a, err := pfs.ResolvePath("/a")
	require.NoError(t, err)

	require.NoError(t, pfs.Unlink("/a"))

	_, err = pfs.ResolvePath("/a")
	require.ErrorIs(t, err, blockfs.ErrNotFound)

	freed, err := pfs.IGet(a.Inum)
	require.NoError(t, err)
	require.Equal(t, blockfs.Free, freed.Disk.FType)
}

func TestUnlinkRejectsNonEmptyDirectory(t *testing.T) {
	pfs := mkfsPathT(t)

	require.NoError(t, pfs.Mkdir("/a"))
	require.NoError(t, pfs.Mkdir("/a/b"))

	err := pfs.Unlink("/a")
	require.ErrorIs(t, err, blockfs.ErrNotEmpty)
}

func TestUnlinkRejectsDotAndDotDot(t *testing.T) {
	pfs := mkfsPathT(t)

	require.ErrorIs(t, pfs.Unlink("/."), blockfs.ErrInvalidName)
	require.ErrorIs(t, pfs.Unlink("/.."), blockfs.ErrInvalidName)
}
