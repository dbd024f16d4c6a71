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
package pho

import "github.com/google/btree"

// layoutIndex keeps a Layout's extents ordered by LayoutIdx in a BTreeG, the
// same ordered-range-query role memcp/storage/index.go gives btree.BTreeG
// over row positions. A linear scan is fine for a handful of splits, but
// Locate (spec §4.7) and split-boundary lookups run once per split on
// layouts that can carry thousands of extents, so we keep the index instead
// of re-sorting on every call.
type layoutIndex struct {
	byIdx *btree.BTreeG[extentRef]
}

type extentRef struct {
	layoutIdx int
	ext       *Extent
}

func lessExtentRef(a, b extentRef) bool { return a.layoutIdx < b.layoutIdx }

func newLayoutIndex(extents []Extent) *layoutIndex {
	idx := &layoutIndex{byIdx: btree.NewG(32, lessExtentRef)}
	for i := range extents {
		idx.byIdx.ReplaceOrInsert(extentRef{extents[i].LayoutIdx, &extents[i]})
	}
	return idx
}

// ensureIndex (re)builds the lazy index if the extent slice changed length
// since the last build, e.g. after Layout.Extents was reassigned.
func (l *Layout) ensureIndex() *layoutIndex {
	if l.index == nil || l.index.byIdx.Len() != len(l.Extents) {
		l.index = newLayoutIndex(l.Extents)
	}
	return l.index
}

// ExtentAt returns the extent with the given LayoutIdx, or nil.
func (l *Layout) ExtentAt(layoutIdx int) *Extent {
	idx := l.ensureIndex()
	if ref, ok := idx.byIdx.Get(extentRef{layoutIdx: layoutIdx}); ok {
		return ref.ext
	}
	return nil
}

// SplitExtents returns the (data0, data1, parity) triple at RAID4 split i,
// in LayoutIdx order (3i, 3i+1, 3i+2), or nil entries for whichever are
// missing from the index (a degraded read).
func (l *Layout) SplitExtents(split int) (data0, data1, parity *Extent) {
	base := split * 3
	return l.ExtentAt(base), l.ExtentAt(base + 1), l.ExtentAt(base + 2)
}

// AscendSplits walks every RAID4 split in order, invoking fn with its three
// (possibly nil) extents. Stops early if fn returns false.
func (l *Layout) AscendSplits(fn func(split int, data0, data1, parity *Extent) bool) {
	for s := 0; s < l.NSplits(); s++ {
		d0, d1, p := l.SplitExtents(s)
		if !fn(s, d0, d1, p) {
			return
		}
	}
}
