//go:build !ceph

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

import "github.com/cea-hpc/phobos-go/pho"

// RadosAdapter is a stub when Ceph support is not compiled in.
// Build with -tags=ceph to enable the rados I/O adapter flavour.
type RadosAdapter struct{}

func NewRadosAdapter(clusterName, userName, confFile, pool string) *RadosAdapter {
	return &RadosAdapter{}
}

func (a *RadosAdapter) Open(loc *pho.Extent, root string, flags OpenFlags) (Handle, error) {
	panic("rados support not compiled in. Build with: go build -tags=ceph")
}
func (a *RadosAdapter) Write(h Handle, buf []byte) (int, error) {
	panic("rados support not compiled in. Build with: go build -tags=ceph")
}
func (a *RadosAdapter) Read(h Handle, buf []byte) (int, error) {
	panic("rados support not compiled in. Build with: go build -tags=ceph")
}
func (a *RadosAdapter) Close(h Handle) error {
	panic("rados support not compiled in. Build with: go build -tags=ceph")
}
func (a *RadosAdapter) Del(loc *pho.Extent, root string) error {
	panic("rados support not compiled in. Build with: go build -tags=ceph")
}
func (a *RadosAdapter) Sync(root string) error {
	panic("rados support not compiled in. Build with: go build -tags=ceph")
}
func (a *RadosAdapter) SetMD(h Handle, attrs map[string][]byte, flags OpenFlags) error {
	panic("rados support not compiled in. Build with: go build -tags=ceph")
}
func (a *RadosAdapter) GetMD(root string, loc *pho.Extent, keys []string) (map[string][]byte, error) {
	panic("rados support not compiled in. Build with: go build -tags=ceph")
}
