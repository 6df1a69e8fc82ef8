// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package device emulates a fixed-size, block-addressable disk on top of a
// memory-mapped image file. It knows nothing about superblocks, inodes or
// directories; it only reads and writes whole blocks by index.
package device

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrOutOfRange is returned when a block index falls outside [0, NumBlocks).
var ErrOutOfRange = errors.New("device: block index out of range")

// ErrWrongBlockSize is returned when a buffer passed to WriteBlock does not
// have exactly BlockSize bytes.
var ErrWrongBlockSize = errors.New("device: block has the wrong size")

// Device is a fixed-size disk backed by a memory-mapped file. Block 0 always
// starts at byte offset 0; there is no reserved boot sector.
type Device struct {
	blockSize uint64
	numBlocks uint64
	path      string
	file      *os.File
	mapping   []byte
}

// Create creates a new image file at path sized blockSize*numBlocks bytes and
// memory-maps it. The file must not already exist.
func Create(path string, blockSize, numBlocks uint64) (*Device, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("device: %q already exists", path)
	}

	size := int64(blockSize * numBlocks)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("device: failed to create image: %w", err)
	}

	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("device: failed to size image: %w", err)
	}

	return mapFile(path, f, blockSize, numBlocks)
}

// Open memory-maps an existing image file at path. The file must already
// exist and be exactly blockSize*numBlocks bytes long.
func Open(path string, blockSize, numBlocks uint64) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("device: failed to open image: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("device: failed to stat image: %w", err)
	}

	if want := int64(blockSize * numBlocks); info.Size() != want {
		_ = f.Close()
		return nil, fmt.Errorf("device: image is %d bytes, expected %d", info.Size(), want)
	}

	return mapFile(path, f, blockSize, numBlocks)
}

func mapFile(path string, f *os.File, blockSize, numBlocks uint64) (*Device, error) {
	size := int(blockSize * numBlocks)

	mapping, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("device: failed to mmap image: %w", err)
	}

	return &Device{
		blockSize: blockSize,
		numBlocks: numBlocks,
		path:      path,
		file:      f,
		mapping:   mapping,
	}, nil
}

// BlockSize returns the size, in bytes, of every block on this device.
func (d *Device) BlockSize() uint64 {
	return d.blockSize
}

// NumBlocks returns the total number of blocks on this device.
func (d *Device) NumBlocks() uint64 {
	return d.numBlocks
}

// Path returns the filesystem path backing this device.
func (d *Device) Path() string {
	return d.path
}

// ReadBlock returns a copy of the contents of block i.
func (d *Device) ReadBlock(i uint64) ([]byte, error) {
	if i >= d.numBlocks {
		return nil, ErrOutOfRange
	}

	start := i * d.blockSize
	out := make([]byte, d.blockSize)
	copy(out, d.mapping[start:start+d.blockSize])
	return out, nil
}

// WriteBlock overwrites block i with buf, which must be exactly BlockSize
// bytes long.
func (d *Device) WriteBlock(i uint64, buf []byte) error {
	if i >= d.numBlocks {
		return ErrOutOfRange
	}
	if uint64(len(buf)) != d.blockSize {
		return ErrWrongBlockSize
	}

	start := i * d.blockSize
	copy(d.mapping[start:start+d.blockSize], buf)
	return nil
}

// Sync flushes the memory-mapped contents to the backing file.
func (d *Device) Sync() error {
	if err := unix.Msync(d.mapping, unix.MS_SYNC); err != nil {
		return fmt.Errorf("device: failed to sync mapping: %w", err)
	}
	return d.file.Sync()
}

// Close flushes and unmaps the device, then closes the backing file. The
// image file itself is left on disk.
func (d *Device) Close() error {
	if d.mapping == nil {
		return nil
	}

	syncErr := d.Sync()

	if err := unix.Munmap(d.mapping); err != nil {
		return fmt.Errorf("device: failed to munmap image: %w", err)
	}
	d.mapping = nil

	if err := d.file.Close(); err != nil {
		return fmt.Errorf("device: failed to close image: %w", err)
	}

	return syncErr
}

// Destroy closes the device and removes its backing image file. Intended
// for use in tests, mirroring a throwaway scratch disk.
func (d *Device) Destroy() error {
	path := d.path
	if err := d.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
