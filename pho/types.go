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

// Package pho holds the data model shared by every layer of the storage
// manager: objects, copies, extents, layouts, media and devices. Nothing in
// here performs I/O; it is borrowed-reference bookkeeping, the same role
// memcp's storage package gives its table/shard/dataset types.
package pho

import "time"

// AddressType selects which Mapper scheme produced an extent's address.
type AddressType int

const (
	AddressHash1 AddressType = iota // two-level SHA-1 sharded path
	AddressPath                     // clean_path, flat
)

// FSType selects the I/O Adapter flavour backing a medium.
type FSType string

const (
	FSPosix FSType = "posix"
	FSLtfs  FSType = "ltfs"
	FSRados FSType = "rados"
	FSS3    FSType = "s3"
)

// PhoID identifies a medium by value, never by pointer, so extents never
// hold a cyclic reference back into a live Medium (design note §4.1/§9).
type PhoID struct {
	Family  string // "tape", "dir", "rados"
	Name    string
	Library string
}

func (id PhoID) String() string {
	return id.Family + ":" + id.Library + ":" + id.Name
}

// CopyStatus is the lifecycle state of one Copy of an Object.
type CopyStatus int

const (
	CopyIncomplete CopyStatus = iota
	CopyReadable
	CopyComplete
)

// ExtentState tracks an Extent across its pending -> sync -> (orphan) life.
type ExtentState int

const (
	ExtentPending ExtentState = iota
	ExtentSync
	ExtentOrphan
)

// Extent is one contiguous run of object bytes stored on one medium.
// Extents of one split share the same SplitIndex; for RAID4 layouts
// extents come in (data-0, data-1, parity) triples at LayoutIdx
// (3k, 3k+1, 3k+2).
type Extent struct {
	UUID        string
	LayoutIdx   int
	SplitIndex  int
	State       ExtentState
	Size        int64
	Medium      PhoID
	Address     string // mapped path/object-name, Mapper output
	AddressType AddressType
	MD5         []byte // nil if not computed/checked
	XXH128      []byte // nil if not computed/checked
	CreatedAt   time.Time
	ChunkSize   int64 // raid4.chunk_size extra attribute
}

// LayoutKind names the erasure/replication scheme distributing object bytes
// across extents. Only raid4 is implemented in this engine; raid1 is named
// so Layout can describe mixed-layout catalogs without this package caring.
type LayoutKind string

const (
	LayoutRAID4 LayoutKind = "raid4"
	LayoutRAID1 LayoutKind = "raid1"
)

// Layout is stored alongside an Object and borrowed by the Processor.
// Extents are kept sorted by LayoutIdx; for RAID4 ext_count % 3 == 0.
type Layout struct {
	Kind          LayoutKind
	ModuleVersion int
	WriteChunk    int64
	CopyName      string
	Extents       []Extent

	index *layoutIndex // lazily built, see layout_index.go
}

// NExtents returns len(Extents); kept as a method so callers read
// layout.NExtents() instead of poking the slice directly, matching the
// accessor style memcp's table type uses for its shard list.
func (l *Layout) NExtents() int { return len(l.Extents) }

// NSplits returns the number of splits in a RAID4 layout (ext_count / 3).
func (l *Layout) NSplits() int {
	if l.Kind != LayoutRAID4 {
		return 0
	}
	return len(l.Extents) / 3
}

// Split groups the extents (here: exactly 3 for RAID4) that together cover
// one range of the object. Size must equal data_ext_0_size + data_ext_1_size
// (spec §3).
type Split struct {
	Index     int
	Size      int64
	ChunkSize int64
	Data0     *Extent
	Data1     *Extent
	Parity    *Extent
}

// Object is the catalog-level entity; DSS ownership of the full record is
// out of scope here (spec §1) — this is the subset the layout engine needs.
type Object struct {
	OID      string // printable, <= NAME_MAX
	UUID     string
	Version  int
	Size     int64
	UserMD   map[string]string
}

// Copy is one instantiation of an Object across a set of extents.
type Copy struct {
	Name   string
	Status CopyStatus
	Layout Layout
}

// MediumStats summarises a Medium's free/used capacity, mirrored from the
// DSS record but trimmed to what Locate and the I/O Adapter need.
type MediumStats struct {
	SizeTotal     int64
	SizeFree      int64
	NumObjects    int64
}

type MediumFlags struct {
	Put    bool
	Get    bool
	Delete bool
}

// Medium is a storable unit. Tape media are append-only: hard-delete must
// be rejected by anything that mutates media (spec §3, §5).
type Medium struct {
	ID     PhoID
	FSType FSType
	Stats  MediumStats
	Flags  MediumFlags
	Tags   []string
}

func (m Medium) IsTape() bool { return m.ID.Family == "tape" }

// DeviceOpState is a Device's operational state machine (spec §3).
type DeviceOpState int

const (
	DeviceEmpty DeviceOpState = iota
	DeviceLoaded
	DeviceMounted
	DeviceFailed
)

// Device is a host-attached piece of hardware compatible with media by
// model (spec §3, used by Locate).
type Device struct {
	ID       string
	Model    string
	Host     string
	OpState  DeviceOpState
	Health   int
}
