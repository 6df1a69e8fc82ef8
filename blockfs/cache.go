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
	"sync"

	"github.com/google/btree"

	"github.com/go-blockfs/blockfs/device"
)

// DefaultCacheCapacity is the number of inodes MkfsCached and MountCached
// hold in memory at once.
const DefaultCacheCapacity = 5

// cacheEntry is a single cached inode. refs counts strong references: 1 for
// the cache's own hold plus 1 per outstanding InodeHandle, mirroring an
// Rc<RefCell<Inode>> whose strong count never drops to zero while the cache
// itself still holds it.
type cacheEntry struct {
	inode       Inode
	refs        int
	mutBorrowed bool
	seq         uint64
}

// cacheItem orders entries by last-touched sequence number for eviction
// scanning, oldest first.
type cacheItem struct {
	seq   uint64
	inum  uint64
	entry *cacheEntry
}

func (a cacheItem) Less(than btree.Item) bool {
	b := than.(cacheItem)
	if a.seq != b.seq {
		return a.seq < b.seq
	}
	return a.inum < b.inum
}

// InodeHandle is a shared, reference-counted handle to a cached inode. Like
// a borrowed Rc<RefCell<Inode>>, it must be released with Put, and a
// mutable handle obtained via GetMut must never alias a second outstanding
// handle to the same inode.
type InodeHandle struct {
	fs    *CachedFS
	inum  uint64
	entry *cacheEntry
	mut   bool
}

// Inode returns the pointer to the handle's underlying cached inode. For a
// handle obtained via GetMut, the caller may freely mutate it; the cache
// observes the mutation in place.
func (h *InodeHandle) Inode() *Inode {
	return &h.entry.inode
}

// CachedFS is the inode cache layer: a fixed-capacity, reference-counted
// cache of decoded inodes sitting in front of an InodeFS. It satisfies
// InodeStore itself, so the directory and path layers work identically
// whether built over a plain InodeFS or a CachedFS.
type CachedFS struct {
	backing  *InodeFS
	capacity int

	mu      sync.Mutex
	entries map[uint64]*cacheEntry
	order   *btree.BTree
	nextSeq uint64
}

var _ InodeStore = (*CachedFS)(nil)

// NewCachedFS wraps backing with an inode cache of the given capacity.
func NewCachedFS(backing *InodeFS, capacity int) *CachedFS {
	if capacity < 1 {
		capacity = 1
	}
	return &CachedFS{
		backing:  backing,
		capacity: capacity,
		entries:  make(map[uint64]*cacheEntry),
		order:    btree.New(8),
	}
}

// MkfsCached creates a new image and wraps it with an inode cache of
// DefaultCacheCapacity.
func MkfsCached(path string, sb SuperBlock) (*CachedFS, error) {
	ifs, err := MkfsInodes(path, sb)
	if err != nil {
		return nil, err
	}
	return NewCachedFS(ifs, DefaultCacheCapacity), nil
}

// MountCached mounts an existing image and wraps it with an inode cache of
// DefaultCacheCapacity.
func MountCached(dev *device.Device) (*CachedFS, error) {
	ifs, err := MountInodes(dev)
	if err != nil {
		return nil, err
	}
	return NewCachedFS(ifs, DefaultCacheCapacity), nil
}

func (cfs *CachedFS) touch(e *cacheEntry, inum uint64) {
	cfs.order.Delete(cacheItem{seq: e.seq, inum: inum})
	cfs.nextSeq++
	e.seq = cfs.nextSeq
	cfs.order.ReplaceOrInsert(cacheItem{seq: e.seq, inum: inum, entry: e})
}

// evictLocked makes room for a new entry if the cache is at capacity,
// evicting the oldest entry whose refs == 1 (held only by the cache
// itself). Returns ErrCacheFull if every entry is still referenced.
func (cfs *CachedFS) evictLocked() error {
	if len(cfs.entries) < cfs.capacity {
		return nil
	}

	var victim cacheItem
	found := false
	cfs.order.Ascend(func(it btree.Item) bool {
		item := it.(cacheItem)
		if item.entry.refs == 1 {
			victim = item
			found = true
			return false
		}
		return true
	})
	if !found {
		return ErrCacheFull
	}

	if err := cfs.backing.IPut(&victim.entry.inode); err != nil {
		return err
	}
	cfs.order.Delete(victim)
	delete(cfs.entries, victim.inum)
	return nil
}

// IsCached reports whether inode i currently has an entry in the cache.
func (cfs *CachedFS) IsCached(i uint64) bool {
	cfs.mu.Lock()
	defer cfs.mu.Unlock()
	_, ok := cfs.entries[i]
	return ok
}

func (cfs *CachedFS) loadLocked(i uint64) (*cacheEntry, error) {
	if e, ok := cfs.entries[i]; ok {
		return e, nil
	}

	if err := cfs.evictLocked(); err != nil {
		return nil, err
	}

	ino, err := cfs.backing.IGet(i)
	if err != nil {
		return nil, err
	}

	e := &cacheEntry{inode: *ino, refs: 1}
	cfs.entries[i] = e
	cfs.touch(e, i)
	return e, nil
}

// Get looks up inode i in the cache only: a hit returns a cloned handle; a
// miss errors ErrNotCached. Get never reads the disk and never evicts;
// GetMut is the accessor that loads an uncached inode.
func (cfs *CachedFS) Get(i uint64) (*InodeHandle, error) {
	cfs.mu.Lock()
	defer cfs.mu.Unlock()

	e, ok := cfs.entries[i]
	if !ok {
		return nil, ErrNotCached
	}
	e.refs++
	cfs.touch(e, i)
	return &InodeHandle{fs: cfs, inum: i, entry: e}, nil
}

// GetMut returns an exclusive, mutable handle to inode i. Requesting a
// second mutable handle while one is already outstanding is a borrow
// violation and panics, mirroring a RefCell borrowed twice at runtime.
func (cfs *CachedFS) GetMut(i uint64) (*InodeHandle, error) {
	cfs.mu.Lock()
	defer cfs.mu.Unlock()

	e, err := cfs.loadLocked(i)
	if err != nil {
		return nil, err
	}
	if e.mutBorrowed {
		panic("blockfs: inode already mutably borrowed")
	}

	e.mutBorrowed = true
	e.refs++
	cfs.touch(e, i)
	return &InodeHandle{fs: cfs, inum: i, entry: e, mut: true}, nil
}

// Put releases a handle previously obtained from Get or GetMut. A handle
// from GetMut is flushed through to the backing store before its borrow is
// released.
func (cfs *CachedFS) Put(h *InodeHandle) error {
	cfs.mu.Lock()
	defer cfs.mu.Unlock()

	if h.mut {
		if err := cfs.backing.IPut(&h.entry.inode); err != nil {
			return err
		}
		h.entry.mutBorrowed = false
	}
	h.entry.refs--
	return nil
}

// Alloc allocates a fresh inode on the backing store and ensures the cache
// reflects the allocation: an existing (necessarily Free) entry for the
// allocated inum is replaced, otherwise the new record is installed,
// evicting an unreferenced entry first if the cache is full. If no entry
// can be evicted, the allocation still succeeds and the new record is left
// uncached.
func (cfs *CachedFS) Alloc(ft FileType) (uint64, error) {
	inum, err := cfs.backing.IAlloc(ft)
	if err != nil {
		return 0, err
	}

	ino, err := cfs.backing.IGet(inum)
	if err != nil {
		return 0, err
	}

	cfs.mu.Lock()
	defer cfs.mu.Unlock()

	if e, ok := cfs.entries[inum]; ok {
		e.inode = *ino
		cfs.touch(e, inum)
		return inum, nil
	}

	if err := cfs.evictLocked(); err != nil {
		return inum, nil
	}

	e := &cacheEntry{inode: *ino, refs: 1}
	cfs.entries[inum] = e
	cfs.touch(e, inum)
	return inum, nil
}

// Free releases inode i once its link count has reached zero. If i is
// cached with any handle outstanding beyond the cache's own hold, Free
// refuses with ErrBusy rather than freeing an inode still in use. The
// cache entry is only dropped once the inode has actually been freed: if
// its link count is still nonzero, Free is a no-op and the cached copy is
// left exactly as it was.
func (cfs *CachedFS) Free(i uint64) error {
	cfs.mu.Lock()
	if e, ok := cfs.entries[i]; ok && e.refs > 1 {
		cfs.mu.Unlock()
		return ErrBusy
	}
	cfs.mu.Unlock()

	ino, err := cfs.backing.IGet(i)
	if err != nil {
		return err
	}
	if ino.Disk.FType == Free {
		return ErrDoubleFree
	}
	if ino.Disk.NLink != 0 {
		return nil
	}

	if err := cfs.backing.IFree(i); err != nil {
		return err
	}

	cfs.mu.Lock()
	if e, ok := cfs.entries[i]; ok {
		cfs.order.Delete(cacheItem{seq: e.seq, inum: i})
		delete(cfs.entries, i)
	}
	cfs.mu.Unlock()
	return nil
}

// IGet satisfies InodeStore: it returns a private snapshot copy of the
// cached (loading it through GetMut if necessary) inode, immediately
// releasing the cache's internal hold on it.
func (cfs *CachedFS) IGet(i uint64) (*Inode, error) {
	h, err := cfs.GetMut(i)
	if err != nil {
		return nil, err
	}
	snapshot := *h.Inode()
	if err := cfs.Put(h); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// IPut satisfies InodeStore: it writes ino through to the backing store
// and, if ino is cached, refreshes the cached copy to match.
func (cfs *CachedFS) IPut(ino *Inode) error {
	if err := cfs.backing.IPut(ino); err != nil {
		return err
	}

	cfs.mu.Lock()
	defer cfs.mu.Unlock()
	if e, ok := cfs.entries[ino.Inum]; ok {
		e.inode = *ino
	}
	return nil
}

// IAlloc satisfies InodeStore.
func (cfs *CachedFS) IAlloc(ft FileType) (uint64, error) {
	return cfs.Alloc(ft)
}

// IFree satisfies InodeStore, applying the same busy check as Free.
func (cfs *CachedFS) IFree(i uint64) error {
	return cfs.Free(i)
}

// ITrunc satisfies InodeStore: it truncates via the backing store and
// refreshes any cached copy of ino.
func (cfs *CachedFS) ITrunc(ino *Inode) error {
	if err := cfs.backing.ITrunc(ino); err != nil {
		return err
	}

	cfs.mu.Lock()
	defer cfs.mu.Unlock()
	if e, ok := cfs.entries[ino.Inum]; ok {
		e.inode = *ino
	}
	return nil
}

// IRead satisfies InodeStore, reading straight through to the backing
// store: byte-level access needs no cache involvement beyond the inode
// record ino already carries.
func (cfs *CachedFS) IRead(ino *Inode, buf []byte, off, n uint64) (uint64, error) {
	return cfs.backing.IRead(ino, buf, off, n)
}

// IWrite satisfies InodeStore, writing through to the backing store and
// refreshing any cached copy of ino (since a write may grow its size or
// allocate new block pointers).
func (cfs *CachedFS) IWrite(ino *Inode, buf []byte, off, n uint64) error {
	if err := cfs.backing.IWrite(ino, buf, off, n); err != nil {
		return err
	}

	cfs.mu.Lock()
	defer cfs.mu.Unlock()
	if e, ok := cfs.entries[ino.Inum]; ok {
		e.inode = *ino
	}
	return nil
}
