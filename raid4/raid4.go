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

// Package raid4 is the layout ops plugged into the Data Processor: write,
// read (with reconstruction from any two of three extents), extra
// attributes and chunk size. It owns the XOR kernel and the zero-padding
// rules at split boundaries. Deleting a split's extents is done by the
// processor's eraser, not here.
package raid4

import (
	"strconv"

	"github.com/cea-hpc/phobos-go/hashacc"
	"github.com/cea-hpc/phobos-go/ioadapter"
	"github.com/cea-hpc/phobos-go/pho"
)

// IOD is one extent's open handle, hash accumulator and running byte count
// for the duration of one split. Handle is nil for the extent missing from
// a degraded read; Extent is always set so its size (known from the
// catalog) is available to drive reconstruction even when the bytes
// themselves are not.
type IOD struct {
	Handle    ioadapter.Handle
	Extent    *pho.Extent
	Hash      *hashacc.Accumulator
	Written   int64
	ReadSoFar int64
}

// SplitIO bundles the three per-split descriptors the write loop drives.
type SplitIO struct {
	Data0, Data1, Parity *IOD
	ChunkSize            int64
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func writeAndHash(adp ioadapter.Adapter, iod *IOD, p []byte) error {
	n, err := adp.Write(iod.Handle, p)
	if err != nil {
		return err
	}
	if iod.Hash != nil {
		iod.Hash.Update(p[:n])
	}
	iod.Written += int64(n)
	return nil
}

// WriteFromBuff drains object bytes already staged in buf into the split's
// three extents, one chunk at a time (spec §4.5). buf holds bytes
// [bufAbsOffset, bufAbsOffset+len(buf)) of the object; writerOffset and
// readerOffset are both absolute object offsets with writerOffset <=
// readerOffset <= bufAbsOffset+len(buf). splitDataRemaining is how many more
// data bytes (data0+data1) this split still needs before it is full.
//
// Each iteration takes m bytes for data-0 and n <= m bytes for data-1 from
// the same contiguous run of object bytes (data-0's share first, data-1's
// share immediately after); data-1's shortfall is zero-padded for the XOR
// only, never written to data-1 itself. Returns the new writer_offset, the
// new splitDataRemaining, and whether the whole object has now been
// written.
func WriteFromBuff(adp ioadapter.Adapter, sio *SplitIO, buf []byte, bufAbsOffset int64, readerOffset, writerOffset, objectSize, splitDataRemaining int64) (int64, int64, bool, error) {
	allWritten := writerOffset >= objectSize
	for splitDataRemaining > 0 {
		toWrite := min64(splitDataRemaining, readerOffset-writerOffset)
		if toWrite <= 0 {
			break
		}
		m := min64(toWrite, sio.ChunkSize)
		off0 := writerOffset - bufAbsOffset
		chunk0 := buf[off0 : off0+m]
		if err := writeAndHash(adp, sio.Data0, chunk0); err != nil {
			return writerOffset, splitDataRemaining, allWritten, err
		}
		writerOffset += m
		splitDataRemaining -= m

		remaining := toWrite - m
		n := min64(remaining, sio.ChunkSize)
		if n > m {
			n = m
		}
		var chunk1 []byte
		if n > 0 {
			off1 := writerOffset - bufAbsOffset
			chunk1 = buf[off1 : off1+n]
			if err := writeAndHash(adp, sio.Data1, chunk1); err != nil {
				return writerOffset, splitDataRemaining, allWritten, err
			}
			writerOffset += n
			splitDataRemaining -= n
		}
		if writerOffset >= objectSize {
			allWritten = true
		}

		// parity[i] = data0[i] XOR data1[i]; data-1's shortfall (n < m) reads
		// as zero, so the tail of xorBuf is left equal to data-0's byte.
		xorBuf := make([]byte, m)
		copy(xorBuf, chunk0)
		for i := int64(0); i < n; i++ {
			xorBuf[i] ^= chunk1[i]
		}
		if err := writeAndHash(adp, sio.Parity, xorBuf); err != nil {
			return writerOffset, splitDataRemaining, allWritten, err
		}
	}
	return writerOffset, splitDataRemaining, allWritten, nil
}

// GetChunkSize returns the chunk size to stripe a new layout with. RAID4
// always strides at the layout's configured write_chunk.
func GetChunkSize(layout *pho.Layout) int64 { return layout.WriteChunk }

// SetExtraAttrs stores the per-layout extra attribute RAID4 needs recorded
// alongside each extent: its chunk size, so a later reader can stripe with
// the same cadence the writer used regardless of current config.
func SetExtraAttrs(adp ioadapter.Adapter, h ioadapter.Handle, chunkSize int64) error {
	attrs := map[string][]byte{
		"raid4.chunk_size": []byte(strconv.FormatInt(chunkSize, 10)),
	}
	return adp.SetMD(h, attrs, ioadapter.OpenFlags{Replace: true})
}

// ReadPresence is the layout_idx boolean algebra from spec §4.6, evaluated
// over the two extents an allocator actually handed back for one split.
type ReadPresence struct {
	WithExtent0 bool
	WithXOR     bool
	WithExtent1 bool
}

// DeterminePresence classifies a degraded (or full) pair of returned
// extents without needing to know in advance which physical role each one
// plays.
func DeterminePresence(ext0, ext1 *pho.Extent) ReadPresence {
	withExtent0 := ext0.LayoutIdx%3 == 0
	withXOR := ext1.LayoutIdx%3 == 2
	return ReadPresence{
		WithExtent0: withExtent0,
		WithXOR:     withXOR,
		WithExtent1: !withExtent0 || !withXOR,
	}
}

// ReadChunk pulls exactly len(p) bytes through adp from iod, looping over
// partial reads, and folds the physical bytes into iod's hash accumulator.
func ReadChunk(adp ioadapter.Adapter, iod *IOD, p []byte) error {
	total := 0
	for total < len(p) {
		n, err := adp.Read(iod.Handle, p[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return pho.New(pho.IoFailed, "read_into_buff: unexpected end of extent")
		}
		total += n
	}
	if iod.Hash != nil {
		iod.Hash.Update(p)
	}
	iod.ReadSoFar += int64(len(p))
	return nil
}

func finishAndCompare(iod *IOD, checkHash bool) error {
	if !checkHash || iod.Hash == nil {
		return nil
	}
	return iod.Hash.Compare(iod.Extent)
}

// ReadIntoBuff reconstructs one split's worth of object bytes into out,
// dispatching on which of the three extents is missing (spec §4.6). At
// least two of sio.Data0/Data1/Parity must have a non-nil Handle; when both
// data handles are open, parity is not read even if its handle is open too.
// All three must have a non-nil Extent so their recorded sizes drive how
// many bytes to reconstruct.
func ReadIntoBuff(adp ioadapter.Adapter, sio *SplitIO, out []byte, checkHash bool) (int64, error) {
	switch {
	case sio.Data0.Handle != nil && sio.Data1.Handle != nil:
		return readBothPresent(adp, sio, out, checkHash)
	case sio.Data0.Handle != nil && sio.Parity.Handle != nil && sio.Data1.Handle == nil:
		return readReconstructData1(adp, sio, out, checkHash)
	case sio.Data1.Handle != nil && sio.Parity.Handle != nil && sio.Data0.Handle == nil:
		return readReconstructData0(adp, sio, out, checkHash)
	default:
		return 0, pho.New(pho.NoRouteToObject, "read_into_buff: insufficient extents for split")
	}
}

// readBothPresent is the simple case: alternating chunks from data-0 and
// data-1 copied straight into out, no XOR involved.
func readBothPresent(adp ioadapter.Adapter, sio *SplitIO, out []byte, checkHash bool) (int64, error) {
	var off int64
	size0, size1 := sio.Data0.Extent.Size, sio.Data1.Extent.Size
	var r0, r1 int64
	for r0 < size0 || r1 < size1 {
		if r0 < size0 {
			m := min64(sio.ChunkSize, size0-r0)
			if err := ReadChunk(adp, sio.Data0, out[off:off+m]); err != nil {
				return off, err
			}
			off += m
			r0 += m
		}
		if r1 < size1 {
			n := min64(sio.ChunkSize, size1-r1)
			if err := ReadChunk(adp, sio.Data1, out[off:off+n]); err != nil {
				return off, err
			}
			off += n
			r1 += n
		}
	}
	if err := finishAndCompare(sio.Data0, checkHash); err != nil {
		return off, err
	}
	if err := finishAndCompare(sio.Data1, checkHash); err != nil {
		return off, err
	}
	return off, nil
}

// readReconstructData1 covers data-0 + parity present: data-0 is read and
// emitted directly, parity is read at the same stride and XORed with it to
// recover data-1. Parity always strides exactly like data-0 (their sizes
// are equal by invariant), so the loop is driven off data-0's size; any
// physical parity byte beyond data-1's own (shorter) size is still hashed
// but not copied into the reconstructed data-1 region.
func readReconstructData1(adp ioadapter.Adapter, sio *SplitIO, out []byte, checkHash bool) (int64, error) {
	var off int64
	size0 := sio.Data0.Extent.Size
	size1 := sio.Data1.Extent.Size
	var r0, r1 int64
	for r0 < size0 {
		m := min64(sio.ChunkSize, size0-r0)
		d0 := make([]byte, m)
		if err := ReadChunk(adp, sio.Data0, d0); err != nil {
			return off, err
		}
		r0 += m
		copy(out[off:off+m], d0)
		off += m

		pbuf := make([]byte, m)
		if err := ReadChunk(adp, sio.Parity, pbuf); err != nil {
			return off, err
		}

		want := min64(m, size1-r1)
		if want > 0 {
			rec := make([]byte, want)
			for i := int64(0); i < want; i++ {
				rec[i] = d0[i] ^ pbuf[i]
			}
			if sio.Data1.Hash != nil {
				sio.Data1.Hash.Update(rec)
			}
			copy(out[off:off+want], rec)
			off += want
			r1 += want
		}
	}
	if err := finishAndCompare(sio.Data0, checkHash); err != nil {
		return off, err
	}
	if err := finishAndCompare(sio.Data1, checkHash); err != nil {
		return off, err
	}
	return off, nil
}

// readReconstructData0 covers data-1 + parity present: parity is consumed
// first each chunk (it plays data-0's physical role), then data-1; XORing
// the two recovers data-0. The output still receives reconstructed data-0
// before data-1 so the de-interleaved byte order matches the other two
// cases. When data-1 is one byte shorter than parity's stride, the trailing
// parity byte is read, hashed and emitted as-is (read_extra_parity_byte):
// XORing against an absent data-1 byte is XOR with zero.
func readReconstructData0(adp ioadapter.Adapter, sio *SplitIO, out []byte, checkHash bool) (int64, error) {
	var off int64
	sizeP := sio.Parity.Extent.Size
	size1 := sio.Data1.Extent.Size
	var rp, r1 int64
	for rp < sizeP {
		m := min64(sio.ChunkSize, sizeP-rp)
		pbuf := make([]byte, m)
		if err := ReadChunk(adp, sio.Parity, pbuf); err != nil {
			return off, err
		}
		rp += m

		n := min64(m, size1-r1)
		var d1 []byte
		if n > 0 {
			d1 = make([]byte, n)
			if err := ReadChunk(adp, sio.Data1, d1); err != nil {
				return off, err
			}
			r1 += n
		}

		rec := make([]byte, m)
		copy(rec, pbuf)
		for i := int64(0); i < n; i++ {
			rec[i] ^= d1[i]
		}
		if sio.Data0.Hash != nil {
			sio.Data0.Hash.Update(rec)
		}
		copy(out[off:off+m], rec)
		off += m

		if n > 0 {
			copy(out[off:off+n], d1)
			off += n
		}
	}
	if err := finishAndCompare(sio.Data0, checkHash); err != nil {
		return off, err
	}
	if err := finishAndCompare(sio.Data1, checkHash); err != nil {
		return off, err
	}
	return off, nil
}
