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

// Package hashacc implements the streaming per-extent hash accumulator
// (spec §4.3): MD5 and/or XXH128, update incrementally as extent bytes move
// through the Processor's buffer, digest and compare at extent close.
package hashacc

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"hash"

	"github.com/zeebo/xxh3"

	"github.com/cea-hpc/phobos-go/pho"
)

// Config selects which digesters an Accumulator runs. Both may be true;
// both may be false when the layout disables hash checking on read.
type Config struct {
	UseMD5    bool
	UseXXH128 bool
}

// Accumulator is one running digest pair for one extent.
type Accumulator struct {
	cfg    Config
	md5    hash.Hash
	xxh    *xxh3.Hasher
	md5Sum []byte
	xxhSum []byte
}

// New builds an Accumulator and calls Init, mirroring the init/update/
// digest/compare/copy_to_extent lifecycle named in spec §4.3.
func New(cfg Config) *Accumulator {
	a := &Accumulator{cfg: cfg}
	a.Init()
	return a
}

// Init (re)starts both configured digesters from scratch.
func (a *Accumulator) Init() {
	if a.cfg.UseMD5 {
		a.md5 = md5.New()
	}
	if a.cfg.UseXXH128 {
		a.xxh = xxh3.New()
	}
	a.md5Sum = nil
	a.xxhSum = nil
}

// Update feeds bytes into whichever digesters are configured. Safe to call
// with sub-slices as bytes stream through the Processor's central buffer.
func (a *Accumulator) Update(p []byte) {
	if a.md5 != nil {
		a.md5.Write(p)
	}
	if a.xxh != nil {
		a.xxh.Write(p)
	}
}

// Digest finalises both configured digesters. Safe to call once per extent;
// later calls return the same cached result without re-hashing.
func (a *Accumulator) Digest() {
	if a.md5 != nil && a.md5Sum == nil {
		a.md5Sum = a.md5.Sum(nil)
	}
	if a.xxh != nil && a.xxhSum == nil {
		sum := a.xxh.Sum128()
		a.xxhSum = make([]byte, 16)
		binary.BigEndian.PutUint64(a.xxhSum[0:8], sum.Hi)
		binary.BigEndian.PutUint64(a.xxhSum[8:16], sum.Lo)
	}
}

// MD5 returns the finalised MD5 digest, or nil if not configured.
func (a *Accumulator) MD5() []byte { return a.md5Sum }

// XXH128 returns the finalised XXH128 digest, or nil if not configured.
func (a *Accumulator) XXH128() []byte { return a.xxhSum }

// CopyToExtent finalises the digest (if not already) and stores it onto ext,
// the write-path counterpart of Compare.
func (a *Accumulator) CopyToExtent(ext *pho.Extent) {
	a.Digest()
	ext.MD5 = a.md5Sum
	ext.XXH128 = a.xxhSum
}

// Compare finalises the digest and checks it against the values recorded on
// expected. Fails with pho.HashMismatch if either configured digest
// disagrees, or is configured but missing from the extent record.
func (a *Accumulator) Compare(expected *pho.Extent) error {
	a.Digest()
	if a.cfg.UseMD5 {
		if len(expected.MD5) == 0 {
			return pho.New(pho.HashMismatch, "md5 expected but missing from extent record")
		}
		if !bytes.Equal(a.md5Sum, expected.MD5) {
			return pho.New(pho.HashMismatch, "md5 mismatch")
		}
	}
	if a.cfg.UseXXH128 {
		if len(expected.XXH128) == 0 {
			return pho.New(pho.HashMismatch, "xxh128 expected but missing from extent record")
		}
		if !bytes.Equal(a.xxhSum, expected.XXH128) {
			return pho.New(pho.HashMismatch, "xxh128 mismatch")
		}
	}
	return nil
}
