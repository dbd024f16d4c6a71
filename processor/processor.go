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

// Package processor is the Data Processor: a single-threaded cooperative
// state machine with writer, reader and eraser variants (spec §4.4). It
// owns the central buffer and per-split I/O descriptors and drives the
// raid4 layout ops against them, one scheduler response in, one request out
// per Step call — the same "no coroutines, explicit handles" shape the
// design notes call for.
package processor

import (
	"io"

	"github.com/cea-hpc/phobos-go/config"
	"github.com/cea-hpc/phobos-go/hashacc"
	"github.com/cea-hpc/phobos-go/internal/telemetry"
	"github.com/cea-hpc/phobos-go/ioadapter"
	"github.com/cea-hpc/phobos-go/pho"
	"github.com/cea-hpc/phobos-go/raid4"
)

// Kind selects which of the three variants a Processor runs.
type Kind int

const (
	Writer Kind = iota
	Reader
	Eraser
)

// State is the Processor's externally-observable position in the state
// machine described in spec §4.4.
type State int

const (
	StateNeedWriteAlloc State = iota
	StateNeedReadAlloc
	StateNeedDeleteAlloc
	StateTransferring
	StateWaitRelease
	StateDone
	StateCleanup
)

// --- Scheduler protocol (spec §6) ---

type MediaGrant struct {
	FSRoot    string
	MediumID  pho.PhoID
	FSType    pho.FSType
	AvailSize int64
}

type WriteAllocRequest struct {
	Size      int64
	NMedia    int
	Tags      []string
	Family    string
	Groupings []string
	NoSplit   bool
}

type WriteAllocResponse struct {
	Media []MediaGrant
}

type ReadAllocRequest struct {
	MediaID []pho.PhoID
}

type ReadAllocResponse struct {
	FSRoot    []string
	ExtentIdx []int
}

type DeleteAllocRequest struct {
	MediaID []pho.PhoID
}

type DeleteAllocResponse struct {
	FSRoot []string
}

type ReleaseRequest struct {
	Medium      pho.PhoID
	RC          int
	SizeWritten int64
	ToSync      bool
}

type ReleaseResponse struct {
	Medium pho.PhoID
	RC     int
}

type ErrorResponse struct {
	ReqKind string
	RC      int
	Err     error
}

// Request is the tagged union of everything a Step call can emit. Exactly
// one field is non-nil.
type Request struct {
	WriteAlloc  *WriteAllocRequest
	ReadAlloc   *ReadAllocRequest
	DeleteAlloc *DeleteAllocRequest
	Release     *ReleaseRequest
}

// Response is the tagged union of everything a Step call accepts.
type Response struct {
	WriteAlloc  *WriteAllocResponse
	ReadAlloc   *ReadAllocResponse
	DeleteAlloc *DeleteAllocResponse
	Release     *ReleaseResponse
	Error       *ErrorResponse
}

// Processor drives one object transfer. Buffer, hash accumulators and
// per-extent I/O descriptors belong to it exclusively; the Layout it is
// given is a borrowed reference (spec §3 ownership note).
type Processor struct {
	Kind     Kind
	Adapter  ioadapter.Adapter
	Settings config.RAID4Settings
	Log      telemetry.Logger

	// Source is the caller's external stream: read from for a writer,
	// written to for a reader. Unused by an eraser.
	Source io.ReadWriter

	ObjectSize int64
	Layout     *pho.Layout

	Buffer       []byte
	BufferOffset int64
	ReaderOffset int64
	WriterOffset int64

	CurrentSplit       int
	SplitDataRemaining int64
	SIO                *raid4.SplitIO
	writtenExtents     []writtenExtent
	deleteOrder        []int
	pendingRelease     map[pho.PhoID]int
	releaseQueue       []ReleaseRequest

	State    State
	firstErr error
}

// writtenExtent pairs an extent this Processor created with the fs_root it
// was granted, so Cleanup can rebuild the same root+address path Open used
// instead of unlinking relative to the process's CWD.
type writtenExtent struct {
	ext  *pho.Extent
	root string
}

// alignBufSize rounds bufSize up to the nearest multiple of 2*chunkSize (at
// least one stripe), the buffer-sizing invariant spec §9 requires: the
// central buffer must hold a full stripe (both data chunks) and its XOR
// without reallocating. A misaligned buffer breaks WriteFromBuff's data-0/
// data-1 chunk alternation, so callers never get to opt out of it.
func alignBufSize(bufSize int, chunkSize int64) int {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	stripe := 2 * chunkSize
	n := int64(bufSize)
	if n < stripe {
		return int(stripe)
	}
	if rem := n % stripe; rem != 0 {
		n += stripe - rem
	}
	return int(n)
}

// NewWriter builds a Processor for a write of size objectSize. bufSize is rounded
// up to the LCM of the stripe size per the design notes (at least two
// chunks); callers that don't care can just pass 2*chunkSize.
func NewWriter(adp ioadapter.Adapter, src io.Reader, objectSize int64, bufSize int, settings config.RAID4Settings) *Processor {
	rw, _ := src.(io.ReadWriter)
	if rw == nil {
		rw = &readOnlyWrap{r: src}
	}
	bufSize = alignBufSize(bufSize, settings.ChunkSize)
	return &Processor{
		Kind: Writer, Adapter: adp, Source: rw, ObjectSize: objectSize,
		Buffer: make([]byte, bufSize), Settings: settings, Log: telemetry.Default(),
		Layout:         &pho.Layout{Kind: pho.LayoutRAID4, WriteChunk: settings.ChunkSize},
		pendingRelease: make(map[pho.PhoID]int),
	}
}

func NewReader(adp ioadapter.Adapter, dst io.Writer, layout *pho.Layout, bufSize int, settings config.RAID4Settings) *Processor {
	return &Processor{
		Kind: Reader, Adapter: adp, Source: &writeOnlyWrap{w: dst}, Layout: layout,
		Buffer: make([]byte, bufSize), Settings: settings, Log: telemetry.Default(),
		pendingRelease: make(map[pho.PhoID]int), State: StateNeedReadAlloc,
	}
}

func NewEraser(adp ioadapter.Adapter, layout *pho.Layout, settings config.RAID4Settings) *Processor {
	return &Processor{
		Kind: Eraser, Adapter: adp, Layout: layout, Settings: settings, Log: telemetry.Default(),
		pendingRelease: make(map[pho.PhoID]int), State: StateNeedDeleteAlloc,
	}
}

type readOnlyWrap struct{ r io.Reader }

func (w *readOnlyWrap) Read(p []byte) (int, error)  { return w.r.Read(p) }
func (w *readOnlyWrap) Write(p []byte) (int, error) { return 0, pho.New(pho.InvalidInput, "read-only source") }

type writeOnlyWrap struct{ w io.Writer }

func (w *writeOnlyWrap) Read(p []byte) (int, error)  { return 0, io.EOF }
func (w *writeOnlyWrap) Write(p []byte) (int, error) { return w.w.Write(p) }

// Done reports whether the transfer has reached a terminal state.
func (p *Processor) Done() bool { return p.State == StateDone }

// Err returns the first error seen during Cleanup, if any.
func (p *Processor) Err() error { return p.firstErr }

func (p *Processor) setErr(err error) {
	if p.firstErr == nil {
		p.firstErr = err
	}
}

// Step consumes at most one response and returns at most one request,
// advancing the state machine by one bounded unit of work (spec §4.4, §5).
func (p *Processor) Step(resp Response) (*Request, error) {
	if resp.Error != nil {
		return p.enterCleanup(resp.Error)
	}

	switch p.Kind {
	case Writer:
		return p.stepWriter(resp)
	case Reader:
		return p.stepReader(resp)
	case Eraser:
		return p.stepEraser(resp)
	default:
		return nil, pho.New(pho.InvalidInput, "processor: unknown kind")
	}
}

func (p *Processor) enterCleanup(e *ErrorResponse) (*Request, error) {
	p.State = StateCleanup
	if e != nil {
		p.setErr(pho.Wrap(pho.Cancelled, "scheduler error on "+e.ReqKind, e.Err))
	}
	for _, we := range p.writtenExtents {
		if err := p.Adapter.Del(we.ext, we.root); err != nil {
			p.Log.Warnf("cleanup: unlink extent %s failed: %v", we.ext.Address, err)
		}
	}
	p.State = StateDone
	return nil, p.firstErr
}

// --- writer ---

func (p *Processor) stepWriter(resp Response) (*Request, error) {
	switch p.State {
	case StateNeedWriteAlloc:
		remaining := p.ObjectSize - p.WriterOffset
		if remaining <= 0 {
			p.State = StateDone
			return nil, nil
		}
		p.State = StateTransferring
		return &Request{WriteAlloc: &WriteAllocRequest{
			Size: remaining, NMedia: 3, Family: "dir",
		}}, nil

	case StateTransferring:
		if resp.WriteAlloc != nil {
			if err := p.openSplitForWrite(resp.WriteAlloc); err != nil {
				return p.enterCleanup(&ErrorResponse{ReqKind: "WriteAlloc", Err: err})
			}
		}
		return p.drainWrite()

	case StateWaitRelease:
		if resp.Release == nil {
			return nil, pho.New(pho.InvalidInput, "processor: expected ReleaseResponse")
		}
		p.pendingRelease[resp.Release.Medium]--
		if len(p.releaseQueue) > 0 {
			next := p.releaseQueue[0]
			p.releaseQueue = p.releaseQueue[1:]
			return &Request{Release: &next}, nil
		}
		if !p.splitFullyReleased() {
			return nil, nil
		}
		if p.WriterOffset < p.ObjectSize {
			p.State = StateNeedWriteAlloc
			p.CurrentSplit++
			return p.Step(Response{})
		}
		p.State = StateDone
		return nil, nil

	default:
		return nil, nil
	}
}

func (p *Processor) splitFullyReleased() bool {
	for _, rc := range p.pendingRelease {
		if rc > 0 {
			return false
		}
	}
	return true
}

func (p *Processor) openSplitForWrite(alloc *WriteAllocResponse) error {
	if len(alloc.Media) < 3 {
		return pho.New(pho.NoSpace, "write_alloc: fewer than 3 media granted")
	}
	minAvail := alloc.Media[0].AvailSize
	for _, m := range alloc.Media {
		if m.AvailSize < minAvail {
			minAvail = m.AvailSize
		}
	}
	splitSize := p.ObjectSize - p.WriterOffset
	if max := 2 * minAvail; splitSize > max {
		splitSize = max
	}

	cfg := hashacc.Config{UseMD5: p.Settings.ExtentMD5, UseXXH128: p.Settings.ExtentXXH128}
	mkIOD := func(i int) (*raid4.IOD, error) {
		ext := &pho.Extent{
			UUID: pho.NewUUID(), LayoutIdx: p.CurrentSplit*3 + i,
			SplitIndex: p.CurrentSplit, Medium: alloc.Media[i].MediumID,
			AddressType: pho.AddressHash1, ChunkSize: p.Settings.ChunkSize,
		}
		h, err := p.Adapter.Open(ext, alloc.Media[i].FSRoot, ioadapter.OpenFlags{IsPut: true})
		if err != nil {
			return nil, err
		}
		if err := raid4.SetExtraAttrs(p.Adapter, h, p.Settings.ChunkSize); err != nil {
			return nil, err
		}
		p.writtenExtents = append(p.writtenExtents, writtenExtent{ext: ext, root: alloc.Media[i].FSRoot})
		p.pendingRelease[ext.Medium] = 1
		return &raid4.IOD{Handle: h, Extent: ext, Hash: hashacc.New(cfg)}, nil
	}

	d0, err := mkIOD(0)
	if err != nil {
		return err
	}
	d1, err := mkIOD(1)
	if err != nil {
		return err
	}
	par, err := mkIOD(2)
	if err != nil {
		return err
	}
	p.SIO = &raid4.SplitIO{Data0: d0, Data1: d1, Parity: par, ChunkSize: p.Settings.ChunkSize}
	p.SplitDataRemaining = splitSize
	p.Layout.Extents = append(p.Layout.Extents, *d0.Extent, *d1.Extent, *par.Extent)
	return nil
}

// drainWrite feeds Source into the buffer and runs write_from_buff until
// the split is full or the source is exhausted.
func (p *Processor) drainWrite() (*Request, error) {
	for p.SplitDataRemaining > 0 {
		if p.ReaderOffset-p.BufferOffset < int64(len(p.Buffer)) && p.ReaderOffset < p.ObjectSize {
			want := int64(len(p.Buffer)) - (p.ReaderOffset - p.BufferOffset)
			if remain := p.ObjectSize - p.ReaderOffset; remain < want {
				want = remain
			}
			dst := p.Buffer[p.ReaderOffset-p.BufferOffset:]
			n, err := io.ReadFull(p.Source, dst[:want])
			p.ReaderOffset += int64(n)
			if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
				return p.enterCleanup(&ErrorResponse{ReqKind: "source read", Err: err})
			}
		}

		wOff, remaining, allWritten, err := raid4.WriteFromBuff(
			p.Adapter, p.SIO, p.Buffer, p.BufferOffset, p.ReaderOffset, p.WriterOffset, p.ObjectSize, p.SplitDataRemaining)
		p.WriterOffset = wOff
		p.SplitDataRemaining = remaining
		if err != nil {
			return p.enterCleanup(&ErrorResponse{ReqKind: "write_from_buff", Err: err})
		}
		if p.WriterOffset == p.ReaderOffset {
			p.BufferOffset = p.WriterOffset
		}
		if allWritten && remaining > 0 {
			// source exhausted before the granted split filled; treat the
			// short object the same as a full split for release purposes.
			break
		}
		if remaining == 0 {
			break
		}
		if p.ReaderOffset >= p.ObjectSize && p.WriterOffset >= p.ReaderOffset {
			break
		}
	}

	for _, iod := range []*raid4.IOD{p.SIO.Data0, p.SIO.Data1, p.SIO.Parity} {
		iod.Hash.CopyToExtent(iod.Extent)
		iod.Extent.Size = iod.Written
		if err := p.Adapter.Close(iod.Handle); err != nil {
			return p.enterCleanup(&ErrorResponse{ReqKind: "close", Err: err})
		}
	}
	p.syncLayoutExtents()

	p.releaseQueue = []ReleaseRequest{
		{Medium: p.SIO.Data0.Extent.Medium, RC: 0, SizeWritten: p.SIO.Data0.Extent.Size, ToSync: true},
		{Medium: p.SIO.Data1.Extent.Medium, RC: 0, SizeWritten: p.SIO.Data1.Extent.Size, ToSync: true},
		{Medium: p.SIO.Parity.Extent.Medium, RC: 0, SizeWritten: p.SIO.Parity.Extent.Size, ToSync: true},
	}
	first := p.releaseQueue[0]
	p.releaseQueue = p.releaseQueue[1:]
	p.State = StateWaitRelease
	return &Request{Release: &first}, nil
}

func (p *Processor) syncLayoutExtents() {
	base := p.CurrentSplit * 3
	for i, ext := range []*pho.Extent{p.SIO.Data0.Extent, p.SIO.Data1.Extent, p.SIO.Parity.Extent} {
		if base+i < len(p.Layout.Extents) {
			p.Layout.Extents[base+i] = *ext
		}
	}
}

// --- reader ---

func (p *Processor) stepReader(resp Response) (*Request, error) {
	switch p.State {
	case StateNeedReadAlloc:
		if p.CurrentSplit >= p.Layout.NSplits() {
			p.State = StateDone
			return nil, nil
		}
		d0, d1, par := p.Layout.SplitExtents(p.CurrentSplit)
		ids := make([]pho.PhoID, 0, 3)
		for _, e := range []*pho.Extent{d0, d1, par} {
			if e != nil {
				ids = append(ids, e.Medium)
			}
		}
		p.State = StateTransferring
		return &Request{ReadAlloc: &ReadAllocRequest{MediaID: ids}}, nil

	case StateTransferring:
		if resp.ReadAlloc == nil {
			return nil, pho.New(pho.InvalidInput, "processor: expected ReadAllocResponse")
		}
		out, err := p.readSplit(resp.ReadAlloc)
		if err != nil {
			return p.enterCleanup(&ErrorResponse{ReqKind: "read_into_buff", Err: err})
		}
		if _, err := p.Source.Write(out); err != nil {
			return p.enterCleanup(&ErrorResponse{ReqKind: "sink write", Err: err})
		}
		p.CurrentSplit++
		p.State = StateNeedReadAlloc
		return p.Step(Response{})

	default:
		return nil, nil
	}
}

func (p *Processor) readSplit(alloc *ReadAllocResponse) ([]byte, error) {
	d0e, d1e, pe := p.Layout.SplitExtents(p.CurrentSplit)
	cfg := hashacc.Config{UseMD5: p.Settings.ExtentMD5, UseXXH128: p.Settings.ExtentXXH128}

	open := func(root string, ext *pho.Extent, withHash bool) (*raid4.IOD, error) {
		if ext == nil {
			return &raid4.IOD{}, nil
		}
		if root == "" {
			iod := &raid4.IOD{Extent: ext}
			if withHash {
				iod.Hash = hashacc.New(cfg)
			}
			return iod, nil
		}
		h, err := p.Adapter.Open(ext, root, ioadapter.OpenFlags{IsPut: false})
		if err != nil {
			return nil, err
		}
		iod := &raid4.IOD{Handle: h, Extent: ext}
		if withHash {
			iod.Hash = hashacc.New(cfg)
		}
		return iod, nil
	}

	rootFor := func(idx int) string {
		for i, fr := range alloc.FSRoot {
			if i < len(alloc.ExtentIdx) && alloc.ExtentIdx[i] == idx {
				return fr
			}
		}
		return ""
	}

	d0, err := open(rootFor(0), d0e, true)
	if err != nil {
		return nil, err
	}
	d1, err := open(rootFor(1), d1e, true)
	if err != nil {
		return nil, err
	}
	par, err := open(rootFor(2), pe, false)
	if err != nil {
		return nil, err
	}

	splitSize := int64(0)
	if d0e != nil {
		splitSize += d0e.Size
	}
	if d1e != nil {
		splitSize += d1e.Size
	}
	out := make([]byte, splitSize)
	sio := &raid4.SplitIO{Data0: d0, Data1: d1, Parity: par, ChunkSize: p.Settings.ChunkSize}
	n, err := raid4.ReadIntoBuff(p.Adapter, sio, out, p.Settings.CheckHash)
	if err != nil {
		return nil, err
	}
	return out[:n], nil
}

// --- eraser ---

func (p *Processor) stepEraser(resp Response) (*Request, error) {
	switch p.State {
	case StateNeedDeleteAlloc:
		if p.CurrentSplit >= p.Layout.NSplits() {
			p.State = StateDone
			return nil, nil
		}
		d0, d1, par := p.Layout.SplitExtents(p.CurrentSplit)
		ids := make([]pho.PhoID, 0, 3)
		p.deleteOrder = p.deleteOrder[:0]
		for i, e := range []*pho.Extent{d0, d1, par} {
			if e != nil {
				ids = append(ids, e.Medium)
				p.deleteOrder = append(p.deleteOrder, i)
			}
		}
		p.State = StateTransferring
		return &Request{DeleteAlloc: &DeleteAllocRequest{MediaID: ids}}, nil

	case StateTransferring:
		if resp.DeleteAlloc == nil {
			return nil, pho.New(pho.InvalidInput, "processor: expected DeleteAllocResponse")
		}
		d0, d1, par := p.Layout.SplitExtents(p.CurrentSplit)
		exts := [3]*pho.Extent{d0, d1, par}
		// deleteOrder[i] maps the i'th granted fs_root back to which of
		// data-0/data-1/parity it was requested for (spec §6: fs_root[i]
		// is per-medium, not per-split), since a split's three extents
		// may live on different media with different mount points.
		var firstErr error
		for i, idx := range p.deleteOrder {
			ext := exts[idx]
			if ext == nil {
				continue
			}
			if ext.Medium.Family == "tape" {
				// hard-delete is forbidden on tape (spec §5); drop this
				// extent's count silently instead of unlinking it.
				continue
			}
			root := ""
			if i < len(resp.DeleteAlloc.FSRoot) {
				root = resp.DeleteAlloc.FSRoot[i]
			}
			if err := p.Adapter.Del(ext, root); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if firstErr != nil {
			return p.enterCleanup(&ErrorResponse{ReqKind: "delete_split", Err: firstErr})
		}
		p.CurrentSplit++
		p.State = StateNeedDeleteAlloc
		return p.Step(Response{})

	default:
		return nil, nil
	}
}
