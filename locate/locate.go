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

// Package locate picks the host best able to read an existing object and
// reserves the media locks it needs (spec §4.7): at least n_data accessible
// extents per split, preferring whichever host already holds the most
// locks, ties broken toward the caller's focus host.
package locate

import (
	"github.com/cea-hpc/phobos-go/pho"
)

// LockMap answers the two questions Locate needs about the outside world:
// who currently holds a medium's lock, and which hosts have a device
// compatible with it. Both are owned by the external scheduler/DSS; Locate
// only reads them and requests new locks through TryLock/Unlock.
type LockMap interface {
	// HolderOf returns the hostname currently holding medium's lock, and
	// whether any host holds it at all.
	HolderOf(medium pho.PhoID) (string, bool)
	// CompatibleHosts returns every host with a device able to drive medium,
	// honoring tape-drive-model compatibility where medium is a tape.
	CompatibleHosts(medium pho.PhoID) []string
	// TryLock attempts to grant host a lock on medium; ok is false if
	// another host already holds it.
	TryLock(host string, medium pho.PhoID) (ok bool)
	// Unlock releases a lock this call previously took via TryLock.
	Unlock(host string, medium pho.PhoID)
}

// Result is what Locate hands back to the caller: the chosen host and how
// many new locks it had to take to get there (spec §8 property 6).
type Result struct {
	Host     string
	NewLocks int
}

// hostView is the per-host accounting built in step 2 of the algorithm.
type hostView struct {
	// accessible[split] is the set of extent layout indices in that split
	// this host can reach via a compatible device.
	accessible map[int][]int
	locksHeld  int
}

// Locate runs the host-selection algorithm in spec §4.7 against layout,
// given nData (extents required per split to read it) and the caller's
// preferred focusHost (used only to break ties).
func Locate(lm LockMap, layout *pho.Layout, nData int, focusHost string) (Result, error) {
	nSplits := layout.NSplits()
	if nSplits == 0 {
		return Result{}, pho.New(pho.InvalidInput, "locate: layout has no splits")
	}

	// step 3: which extents are reachable by ANY host, per split.
	accessibleBySplit := make([][]*pho.Extent, nSplits)
	layout.AscendSplits(func(split int, d0, d1, par *pho.Extent) bool {
		for _, ext := range []*pho.Extent{d0, d1, par} {
			if ext == nil {
				continue
			}
			if len(lm.CompatibleHosts(ext.Medium)) > 0 {
				accessibleBySplit[split] = append(accessibleBySplit[split], ext)
			}
		}
		return true
	})
	for _, exts := range accessibleBySplit {
		if len(exts) == 0 {
			return Result{}, pho.New(pho.NoRouteToObject, "locate: no host can access any extent of a split")
		}
	}

	// step 2/4: build per-host accessibility, then drop hosts that can't
	// reach n_data extents in every split.
	hosts := make(map[string]*hostView)
	for split, exts := range accessibleBySplit {
		for _, ext := range exts {
			for _, h := range lm.CompatibleHosts(ext.Medium) {
				hv, ok := hosts[h]
				if !ok {
					hv = &hostView{accessible: make(map[int][]int)}
					hosts[h] = hv
				}
				hv.accessible[split] = append(hv.accessible[split], ext.LayoutIdx)
				if holder, held := lm.HolderOf(ext.Medium); held && holder == h {
					hv.locksHeld++
				}
			}
		}
	}
	for h, hv := range hosts {
		for split := range accessibleBySplit {
			if len(hv.accessible[split]) < nData {
				delete(hosts, h)
				break
			}
		}
	}
	if len(hosts) == 0 {
		return Result{}, pho.New(pho.NoRouteToObject, "locate: no host has n_data accessible extents in every split")
	}

	// step 5: most existing locks wins; ties prefer focus_host.
	var best string
	for h, hv := range hosts {
		switch {
		case best == "":
			best = h
		case hv.locksHeld > hosts[best].locksHeld:
			best = h
		case hv.locksHeld == hosts[best].locksHeld && h == focusHost:
			best = h
		}
	}

	// step 6: reserve missing locks up to n_data per split; roll back on
	// insufficient locks.
	chosen := hosts[best]
	var taken []pho.PhoID
	newLocks := 0
	insufficient := false
	layout.AscendSplits(func(split int, d0, d1, par *pho.Extent) bool {
		held := 0
		var candidates []*pho.Extent
		for _, ext := range []*pho.Extent{d0, d1, par} {
			if ext == nil {
				continue
			}
			reachable := false
			for _, idx := range chosen.accessible[split] {
				if idx == ext.LayoutIdx {
					reachable = true
					break
				}
			}
			if !reachable {
				continue
			}
			if holder, ok := lm.HolderOf(ext.Medium); ok && holder == best {
				held++
				continue
			}
			candidates = append(candidates, ext)
		}
		for _, ext := range candidates {
			if held >= nData {
				break
			}
			if lm.TryLock(best, ext.Medium) {
				taken = append(taken, ext.Medium)
				newLocks++
				held++
			}
		}
		if held < nData {
			insufficient = true
			return false
		}
		return true
	})
	if insufficient {
		for _, m := range taken {
			lm.Unlock(best, m)
		}
		return Result{}, pho.New(pho.TryAgain, "locate: could not reserve n_data locks on every split")
	}

	return Result{Host: best, NewLocks: newLocks}, nil
}
