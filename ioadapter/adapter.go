/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package ioadapter is polymorphic over filesystem flavour (spec §4.2):
// posix and ltfs write to a mounted tree, rados writes RADOS objects
// directly, s3 writes to an S3-compatible bucket. All four speak the same
// chunk-granularity Adapter interface so the raid4/processor packages never
// know which flavour backs a given medium.
package ioadapter

import (
	"github.com/cea-hpc/phobos-go/pho"
)

// OpenFlags mirror the bit-flags named in spec §4.2.
type OpenFlags struct {
	IsPut   bool // put vs get
	Replace bool // O_EXCL off; overwrite allowed
	MdOnly  bool // short-circuit to metadata only, no data path
	Sync    bool // honor fsync on close
}

// Handle is an open extent; its concrete type is adapter-specific, so
// callers pass it back opaquely to Read/Write/Close/SetMD.
type Handle interface {
	// Address is the mapped path/object-name this handle was opened at.
	Address() string
}

// Adapter is the polymorphic I/O surface the RAID4 layout ops and the
// Processor drive chunk by chunk.
type Adapter interface {
	// Open builds the full location from loc and flags, creating parent
	// directories on put as needed. On first put with loc.Address == "",
	// Open synthesises the extent address via the Mapper.
	Open(loc *pho.Extent, root string, flags OpenFlags) (Handle, error)

	// Write loops over partial writes; aborts with pho.ShortWrite after ten
	// consecutive zero-byte returns. On any error the extent is unlinked
	// and the handle released, per the write-side cleanup policy (spec §7).
	Write(h Handle, buf []byte) (int, error)

	// Read returns <= len(buf) bytes; 0 with a nil error means end-of-extent.
	Read(h Handle, buf []byte) (int, error)

	// Close closes the handle. Flavours may drop caches or flush on close;
	// the open flags are not passed to Close.
	Close(h Handle) error

	// Del unlinks the extent; tolerant of a missing address (regenerates
	// via the Mapper with a logged warning).
	Del(loc *pho.Extent, root string) error

	// Sync flushes the whole medium (POSIX syncfs, LTFS xattr trigger).
	Sync(root string) error

	// SetMD stores attrs as extended attributes under the user. prefix.
	// Replace chooses create-only vs overwrite; a nil value under a key
	// removes it, tolerating "not present".
	SetMD(h Handle, attrs map[string][]byte, flags OpenFlags) error

	// GetMD reads back extended attributes by key.
	GetMD(root string, loc *pho.Extent, keys []string) (map[string][]byte, error)
}
