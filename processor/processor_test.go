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
package processor

import (
	"bytes"
	"testing"

	"github.com/cea-hpc/phobos-go/config"
	"github.com/cea-hpc/phobos-go/ioadapter"
	"github.com/cea-hpc/phobos-go/pho"
)

// memKey folds root and address into one store key, the same way a real
// PosixAdapter's filepath.Join(root, address) picks a different file for
// every root: a Del or Open that passes the wrong root must miss.
func memKey(root, addr string) string { return root + "|" + addr }

type memHandle struct {
	root string
	addr string
	buf  *bytes.Buffer
}

func (h *memHandle) Address() string { return h.addr }

type memAdapter struct {
	store map[string][]byte
	meta  map[string]map[string][]byte
}

func newMemAdapter() *memAdapter {
	return &memAdapter{store: make(map[string][]byte), meta: make(map[string]map[string][]byte)}
}

func (a *memAdapter) Open(loc *pho.Extent, root string, flags ioadapter.OpenFlags) (ioadapter.Handle, error) {
	if loc.Address == "" {
		loc.Address = loc.UUID
	}
	if flags.IsPut {
		return &memHandle{root: root, addr: loc.Address, buf: &bytes.Buffer{}}, nil
	}
	data, ok := a.store[memKey(root, loc.Address)]
	if !ok {
		return nil, pho.New(pho.NotFound, "mem: no such extent")
	}
	return &memHandle{root: root, addr: loc.Address, buf: bytes.NewBuffer(data)}, nil
}

func (a *memAdapter) Write(h ioadapter.Handle, p []byte) (int, error) {
	return h.(*memHandle).buf.Write(p)
}

func (a *memAdapter) Read(h ioadapter.Handle, p []byte) (int, error) {
	return h.(*memHandle).buf.Read(p)
}

func (a *memAdapter) Close(h ioadapter.Handle) error {
	mh := h.(*memHandle)
	a.store[memKey(mh.root, mh.addr)] = mh.buf.Bytes()
	return nil
}

func (a *memAdapter) Del(loc *pho.Extent, root string) error {
	delete(a.store, memKey(root, loc.Address))
	return nil
}

func (a *memAdapter) Sync(root string) error { return nil }

func (a *memAdapter) SetMD(h ioadapter.Handle, attrs map[string][]byte, flags ioadapter.OpenFlags) error {
	mh := h.(*memHandle)
	a.meta[memKey(mh.root, mh.addr)] = attrs
	return nil
}

func (a *memAdapter) GetMD(root string, loc *pho.Extent, keys []string) (map[string][]byte, error) {
	return a.meta[memKey(root, loc.Address)], nil
}

// grant hands out a distinct FSRoot per medium slot ("r0", "r1", "r2", ...)
// so tests can catch a Del/Open that reuses the wrong split member's root.
func grant(adp *memAdapter, n int) *WriteAllocResponse {
	media := make([]MediaGrant, n)
	for i := range media {
		media[i] = MediaGrant{FSRoot: "r" + string(rune('0'+i)), MediumID: pho.PhoID{Family: "dir", Name: "m" + string(rune('0'+i))}, AvailSize: 1 << 30}
	}
	return &WriteAllocResponse{Media: media}
}

// driveWriter pumps a writer Processor to completion against a scripted
// scheduler that always grants whatever is asked and immediately
// acknowledges every release.
func driveWriter(t *testing.T, p *Processor, adp *memAdapter) {
	t.Helper()
	var resp Response
	for !p.Done() {
		req, err := p.Step(resp)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		resp = Response{}
		switch {
		case req == nil:
			continue
		case req.WriteAlloc != nil:
			resp.WriteAlloc = grant(adp, 3)
		case req.Release != nil:
			resp.Release = &ReleaseResponse{Medium: req.Release.Medium, RC: 0}
		}
	}
}

func TestWriterRoundTrip(t *testing.T) {
	adp := newMemAdapter()
	data := make([]byte, 200000)
	for i := range data {
		data[i] = byte(i % 256)
	}
	settings := config.DefaultSettings()
	settings.ChunkSize = 65536
	w := NewWriter(adp, bytes.NewReader(data), int64(len(data)), 2*65536, settings)
	driveWriter(t, w, adp)
	if w.Err() != nil {
		t.Fatalf("writer failed: %v", w.Err())
	}
	if w.Layout.NExtents() != 3 {
		t.Fatalf("expected one split (3 extents), got %d", w.Layout.NExtents())
	}

	var out bytes.Buffer
	r := NewReader(adp, &out, w.Layout, 2*65536, settings)
	var resp Response
	for !r.Done() {
		req, err := r.Step(resp)
		if err != nil {
			t.Fatalf("reader step: %v", err)
		}
		resp = Response{}
		if req != nil && req.ReadAlloc != nil {
			resp.ReadAlloc = &ReadAllocResponse{FSRoot: []string{"r0", "r1", "r2"}, ExtentIdx: []int{0, 1, 2}}
		}
	}
	if r.Err() != nil {
		t.Fatalf("reader failed: %v", r.Err())
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatal("round trip through the processor did not reproduce the original bytes")
	}
}

func TestEraserDeletesAllExtents(t *testing.T) {
	adp := newMemAdapter()
	data := make([]byte, 1000)
	settings := config.DefaultSettings()
	settings.ChunkSize = 4096
	w := NewWriter(adp, bytes.NewReader(data), int64(len(data)), 2*4096, settings)
	driveWriter(t, w, adp)
	if w.Err() != nil {
		t.Fatalf("writer failed: %v", w.Err())
	}
	roots := []string{"r0", "r1", "r2"}
	for i, ext := range w.Layout.Extents {
		if _, ok := adp.store[memKey(roots[i], ext.Address)]; !ok {
			t.Fatalf("extent %s missing from store before erase", ext.Address)
		}
	}

	e := NewEraser(adp, w.Layout, settings)
	var resp Response
	for !e.Done() {
		req, err := e.Step(resp)
		if err != nil {
			t.Fatalf("eraser step: %v", err)
		}
		resp = Response{}
		if req != nil && req.DeleteAlloc != nil {
			resp.DeleteAlloc = &DeleteAllocResponse{FSRoot: roots}
		}
	}
	if e.Err() != nil {
		t.Fatalf("eraser failed: %v", e.Err())
	}
	for i, ext := range w.Layout.Extents {
		if _, ok := adp.store[memKey(roots[i], ext.Address)]; ok {
			t.Fatalf("extent %s still present after erase", ext.Address)
		}
	}
}

func TestCleanupOnSchedulerError(t *testing.T) {
	adp := newMemAdapter()
	data := make([]byte, 200000)
	settings := config.DefaultSettings()
	settings.ChunkSize = 65536
	w := NewWriter(adp, bytes.NewReader(data), int64(len(data)), 2*65536, settings)

	req, err := w.Step(Response{})
	if err != nil || req == nil || req.WriteAlloc == nil {
		t.Fatalf("expected a WriteAllocRequest first, got req=%v err=%v", req, err)
	}
	req, err = w.Step(Response{WriteAlloc: grant(adp, 3)})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if req == nil || req.Release == nil {
		t.Fatalf("expected a ReleaseRequest after the split filled, got %v", req)
	}
	writtenExtents := append([]pho.Extent(nil), w.Layout.Extents...)
	roots := []string{"r0", "r1", "r2"}
	for i, ext := range writtenExtents {
		if _, ok := adp.store[memKey(roots[i], ext.Address)]; !ok {
			t.Fatalf("extent %s missing from store before the scheduler error", ext.Address)
		}
	}

	if _, err := w.Step(Response{Error: &ErrorResponse{ReqKind: "ReleaseResponse"}}); err == nil {
		t.Fatal("expected Step to surface the scheduler error")
	}
	if !w.Done() {
		t.Fatal("expected the processor to reach Done after cleanup")
	}
	for i, ext := range writtenExtents {
		if _, ok := adp.store[memKey(roots[i], ext.Address)]; ok {
			t.Fatalf("cleanup should have unlinked extent %s under its granted root %s", ext.Address, roots[i])
		}
		// A Del issued against the wrong root (e.g. "") must not appear to
		// succeed by coincidence: the entry must still be missing there too,
		// and it must be gone specifically from its own granted root above.
		if _, ok := adp.store[memKey("", ext.Address)]; ok {
			t.Fatalf("extent %s unexpectedly stored under an empty root", ext.Address)
		}
	}
}
