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
package ioadapter

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"

	"github.com/cea-hpc/phobos-go/internal/telemetry"
	"github.com/cea-hpc/phobos-go/mapper"
	"github.com/cea-hpc/phobos-go/pho"
)

// maxZeroWrites bounds the number of consecutive zero-byte Write() returns
// we tolerate before declaring the medium stuck (spec §4.2).
const maxZeroWrites = 10

// PosixAdapter backs directory and LTFS-mounted media. The two flavours
// share everything except how Sync flushes the whole medium: POSIX calls
// syncfs, LTFS sets an xattr that triggers the tape drive to flush.
type PosixAdapter struct {
	Flavor pho.FSType // pho.FSPosix or pho.FSLtfs
	Log    telemetry.Logger
}

func NewPosixAdapter(flavor pho.FSType) *PosixAdapter {
	if flavor != pho.FSPosix && flavor != pho.FSLtfs {
		flavor = pho.FSPosix
	}
	return &PosixAdapter{Flavor: flavor, Log: telemetry.Default()}
}

type posixHandle struct {
	f       *os.File
	path    string
	address string
	mdOnly  bool
	zeros   int
}

func (h *posixHandle) Address() string { return h.address }

func (a *PosixAdapter) fullPath(root, address string) string {
	return filepath.Join(root, address)
}

// Open builds the full path as root + "/" + extent address. On put it
// creates missing parent directories (0750) and opens write-only with
// O_EXCL unless Replace is set; on get it opens read-only. MdOnly
// short-circuits to a handle with no open data fd. A first put with no
// address synthesises one via the Mapper.
func (a *PosixAdapter) Open(loc *pho.Extent, root string, flags OpenFlags) (Handle, error) {
	if loc.Address == "" {
		if !flags.IsPut {
			return nil, pho.New(pho.InvalidInput, "open: no address on a non-put extent")
		}
		addr, err := a.synthesizeAddress(loc)
		if err != nil {
			return nil, err
		}
		loc.Address = addr
	}

	path := a.fullPath(root, loc.Address)
	h := &posixHandle{path: path, address: loc.Address, mdOnly: flags.MdOnly}
	if flags.MdOnly {
		return h, nil
	}

	if flags.IsPut {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, pho.Wrap(pho.IoFailed, "open: mkdir parent", err)
		}
		openFlags := os.O_WRONLY | os.O_CREATE
		if !flags.Replace {
			openFlags |= os.O_EXCL
		} else {
			openFlags |= os.O_TRUNC
		}
		f, err := os.OpenFile(path, openFlags, 0640)
		if err != nil {
			return nil, pho.Wrap(pho.IoFailed, "open: put", err)
		}
		h.f = f
		return h, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pho.Wrap(pho.NotFound, "open: get", err)
		}
		return nil, pho.Wrap(pho.IoFailed, "open: get", err)
	}
	h.f = f
	return h, nil
}

func (a *PosixAdapter) synthesizeAddress(loc *pho.Extent) (string, error) {
	tag := extentTag(loc)
	const capLen = 4096
	if loc.AddressType == pho.AddressHash1 {
		return mapper.Hash1(loc.UUID, tag, capLen)
	}
	return mapper.CleanPath(loc.UUID, tag, capLen)
}

func extentTag(loc *pho.Extent) string {
	tag := "p" + itoa(loc.LayoutIdx%3)
	return tag
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		b[i] = '-'
	}
	return string(b[i:])
}

// Write loops over partial writes; after ten consecutive zero-byte returns
// it aborts with pho.ShortWrite, unlinking the extent file and releasing
// the handle (spec §4.2, §7).
func (a *PosixAdapter) Write(hh Handle, buf []byte) (int, error) {
	h, ok := hh.(*posixHandle)
	if !ok || h.f == nil {
		return 0, pho.New(pho.InvalidInput, "write: invalid handle")
	}
	total := 0
	for total < len(buf) {
		n, err := h.f.Write(buf[total:])
		if err != nil {
			a.abort(h)
			return total, pho.Wrap(pho.IoFailed, "write", err)
		}
		if n == 0 {
			h.zeros++
			if h.zeros >= maxZeroWrites {
				a.abort(h)
				return total, pho.New(pho.ShortWrite, "write: medium stuck after 10 zero-byte writes")
			}
			continue
		}
		h.zeros = 0
		total += n
	}
	return total, nil
}

// abort unlinks the extent file and releases the handle on any write-side
// error, the first-error-wins cleanup policy from spec §7.
func (a *PosixAdapter) abort(h *posixHandle) {
	if h.f != nil {
		h.f.Close()
		h.f = nil
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		a.Log.Warnf("write abort: unlink %s failed: %v", h.path, err)
	}
}

// Read returns <= len(buf) bytes; 0 means end-of-extent.
func (a *PosixAdapter) Read(hh Handle, buf []byte) (int, error) {
	h, ok := hh.(*posixHandle)
	if !ok || h.f == nil {
		return 0, pho.New(pho.InvalidInput, "read: invalid handle")
	}
	n, err := h.f.Read(buf)
	if err == io.EOF {
		return n, nil
	}
	if err != nil {
		return n, pho.Wrap(pho.IoFailed, "read", err)
	}
	return n, nil
}

// Close drops the page cache for the bytes up to the current file offset
// (FADV_DONTNEED) and closes the fd. It does not fsync, does not advise
// FADV_NOREUSE, and does not consult the OpenFlags Sync bit; a medium-wide
// flush is done by Sync.
func (a *PosixAdapter) Close(hh Handle) error {
	h, ok := hh.(*posixHandle)
	if !ok {
		return pho.New(pho.InvalidInput, "close: invalid handle")
	}
	if h.f == nil {
		return nil
	}
	fd := int(h.f.Fd())
	if sz, err := h.f.Seek(0, io.SeekCurrent); err == nil && sz > 0 {
		if err := unix.Fadvise(fd, 0, sz, unix.FADV_DONTNEED); err != nil {
			a.Log.Warnf("close: fadvise DONTNEED on %s failed: %v", h.path, err)
		}
	}
	err := h.f.Close()
	h.f = nil
	if err != nil {
		return pho.Wrap(pho.IoFailed, "close", err)
	}
	return nil
}

// Del unlinks the extent file; tolerant of a missing address, regenerating
// it via the Mapper with a logged warning.
func (a *PosixAdapter) Del(loc *pho.Extent, root string) error {
	if loc.Address == "" {
		addr, err := a.synthesizeAddress(loc)
		if err != nil {
			return err
		}
		a.Log.Warnf("del: regenerated missing address for extent %s: %s", loc.UUID, addr)
		loc.Address = addr
	}
	path := a.fullPath(root, loc.Address)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return pho.Wrap(pho.IoFailed, "del", err)
	}
	return nil
}

// Sync flushes the whole medium: POSIX calls syncfs on the root directory;
// LTFS sets the user.ltfs.sync xattr, which the tape driver interprets as a
// flush-to-tape trigger.
func (a *PosixAdapter) Sync(root string) error {
	if a.Flavor == pho.FSLtfs {
		if err := xattr.Set(root, "user.ltfs.sync", []byte("1")); err != nil {
			return pho.Wrap(pho.IoFailed, "sync: ltfs xattr trigger", err)
		}
		return nil
	}
	f, err := os.Open(root)
	if err != nil {
		return pho.Wrap(pho.IoFailed, "sync: open root", err)
	}
	defer f.Close()
	if err := unix.Syncfs(int(f.Fd())); err != nil {
		return pho.Wrap(pho.IoFailed, "sync: syncfs", err)
	}
	return nil
}

// SetMD stores attrs as extended attributes under the user. prefix. Replace
// chooses create-only vs overwrite; a nil value removes the key, tolerating
// "not present".
func (a *PosixAdapter) SetMD(hh Handle, attrs map[string][]byte, flags OpenFlags) error {
	h, ok := hh.(*posixHandle)
	if !ok {
		return pho.New(pho.InvalidInput, "set_md: invalid handle")
	}
	for k, v := range attrs {
		name := "user." + k
		if v == nil {
			if err := xattr.Remove(h.path, name); err != nil && !isXattrNotFound(err) {
				return pho.Wrap(pho.IoFailed, "set_md: remove "+name, err)
			}
			continue
		}
		if flags.Replace {
			if err := xattr.Set(h.path, name, v); err != nil {
				return pho.Wrap(pho.IoFailed, "set_md: set "+name, err)
			}
			continue
		}
		if _, err := xattr.Get(h.path, name); err == nil {
			return pho.New(pho.InvalidInput, "set_md: "+name+" already present and Replace not set")
		}
		if err := xattr.Set(h.path, name, v); err != nil {
			return pho.Wrap(pho.IoFailed, "set_md: create "+name, err)
		}
	}
	return nil
}

// GetMD reads back extended attributes by key.
func (a *PosixAdapter) GetMD(root string, loc *pho.Extent, keys []string) (map[string][]byte, error) {
	path := a.fullPath(root, loc.Address)
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, err := xattr.Get(path, "user."+k)
		if err != nil {
			if isXattrNotFound(err) {
				continue
			}
			return nil, pho.Wrap(pho.IoFailed, "get_md: "+k, err)
		}
		out[k] = v
	}
	return out, nil
}

func isXattrNotFound(err error) bool {
	if xerr, ok := err.(*xattr.Error); ok {
		return os.IsNotExist(xerr.Err) || xerr.Err == xattr.ENOATTR
	}
	return false
}
