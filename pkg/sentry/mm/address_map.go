// Copyright 2026 The Tessera Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mm

import (
	"fmt"
	"iter"
	"strings"

	"github.com/google/btree"

	"tessera.dev/tessera/pkg/errors/kernerr"
	"tessera.dev/tessera/pkg/hostarch"
)

// AddressRegionKind tags what a span of an address space is used for. It is
// informational only and never affects protection.
type AddressRegionKind int

// Region kinds.
const (
	Unoccupied AddressRegionKind = iota
	Channel
	Data
	Guard
	ReadOnly
	Stack
	Text
	Tls
	UserAllocated
)

// String implements fmt.Stringer.String.
func (k AddressRegionKind) String() string {
	switch k {
	case Unoccupied:
		return "Unoccupied"
	case Channel:
		return "Channel"
	case Data:
		return "Data"
	case Guard:
		return "Guard"
	case ReadOnly:
		return "ReadOnly"
	case Stack:
		return "Stack"
	case Text:
		return "Text"
	case Tls:
		return "Tls"
	case UserAllocated:
		return "UserAllocated"
	default:
		return fmt.Sprintf("AddressRegionKind(%d)", int(k))
	}
}

// AddressRegion is one span of an address space.
type AddressRegion struct {
	// Span is the covered range.
	Span hostarch.AddrRange

	// Region backs an occupied span. It is nil for a hole.
	Region *MemoryRegion

	// Kind is what the span is used for.
	Kind AddressRegionKind
}

// Occupied returns true if the span is backed.
func (r AddressRegion) Occupied() bool {
	return r.Region != nil
}

// String implements fmt.Stringer.String.
func (r AddressRegion) String() string {
	return fmt.Sprintf("%v %v", r.Span, r.Kind)
}

// AddressMap tracks the ownership of an entire userspace address range.
//
// The regions always partition the range exactly: there are no gaps, and
// two adjacent unoccupied regions never exist after a Free. Regions are
// ordered by the end of their span.
//
// AddressMap is not synchronized.
type AddressMap struct {
	bounds  hostarch.AddrRange
	regions *btree.BTreeG[AddressRegion]
}

const addressMapDegree = 8

func lessByEnd(a, b AddressRegion) bool {
	return a.Span.End < b.Span.End
}

// endKey returns the search key for the region ending at end.
func endKey(end hostarch.VirtualAddress) AddressRegion {
	return AddressRegion{Span: hostarch.AddrRange{End: end}}
}

// NewAddressMap returns a map with a single unoccupied region covering
// bounds.
func NewAddressMap(bounds hostarch.AddrRange) *AddressMap {
	if bounds.Empty() || !bounds.WellFormed() {
		panic(fmt.Sprintf("invalid address map bounds %v", bounds))
	}
	m := &AddressMap{
		bounds:  bounds,
		regions: btree.NewG(addressMapDegree, lessByEnd),
	}
	m.regions.ReplaceOrInsert(AddressRegion{Span: bounds, Kind: Unoccupied})
	return m
}

// Bounds returns the range covered by the map.
func (m *AddressMap) Bounds() hostarch.AddrRange {
	return m.bounds
}

// Len returns the number of regions.
func (m *AddressMap) Len() int {
	return m.regions.Len()
}

// enclosing returns the region with the smallest end >= end.
func (m *AddressMap) enclosing(end hostarch.VirtualAddress) (AddressRegion, bool) {
	var (
		found AddressRegion
		ok    bool
	)
	m.regions.AscendGreaterOrEqual(endKey(end), func(r AddressRegion) bool {
		found, ok = r, true
		return false
	})
	return found, ok
}

// Alloc marks subrange as occupied by backing.
//
// subrange must lie entirely within a single unoccupied region; otherwise
// Alloc returns kernerr.NotAvailable and the map is unchanged. Callers
// reject empty ranges and nil backings.
func (m *AddressMap) Alloc(subrange hostarch.AddrRange, backing *MemoryRegion, kind AddressRegionKind) error {
	if backing == nil || subrange.Empty() || !subrange.WellFormed() {
		return kernerr.InvalidArgument
	}
	enclosing, ok := m.enclosing(subrange.End)
	if !ok || !enclosing.Span.IsSupersetOf(subrange) || enclosing.Occupied() {
		return kernerr.NotAvailable
	}

	active := AddressRegion{Span: subrange, Region: backing, Kind: kind}
	if enclosing.Span == subrange {
		m.regions.ReplaceOrInsert(active)
		return nil
	}

	m.regions.Delete(enclosing)
	if enclosing.Span.Start < subrange.Start {
		m.regions.ReplaceOrInsert(AddressRegion{
			Span: hostarch.AddrRange{Start: enclosing.Span.Start, End: subrange.Start},
			Kind: Unoccupied,
		})
	}
	m.regions.ReplaceOrInsert(active)
	if subrange.End < enclosing.Span.End {
		m.regions.ReplaceOrInsert(AddressRegion{
			Span: hostarch.AddrRange{Start: subrange.End, End: enclosing.Span.End},
			Kind: Unoccupied,
		})
	}
	return nil
}

// Free returns the occupied region spanning exactly r to the unoccupied
// state and returns its backing. Unoccupied neighbors are merged with it.
//
// A range that is not exactly one occupied region is rejected with
// kernerr.NotOccupied; partial frees are not supported.
func (m *AddressMap) Free(r hostarch.AddrRange) (*MemoryRegion, error) {
	region, ok := m.regions.Get(endKey(r.End))
	if !ok || region.Span != r || !region.Occupied() {
		return nil, kernerr.NotOccupied
	}
	m.regions.Delete(region)

	span := r
	for {
		prev, ok := m.regions.Get(endKey(span.Start))
		if !ok || prev.Occupied() {
			break
		}
		m.regions.Delete(prev)
		span.Start = prev.Span.Start
	}
	for {
		next, ok := m.enclosing(span.End)
		if !ok || next.Occupied() || next.Span.Start != span.End {
			break
		}
		m.regions.Delete(next)
		span.End = next.Span.End
	}
	m.regions.ReplaceOrInsert(AddressRegion{Span: span, Kind: Unoccupied})
	return region.Region, nil
}

// Find returns the region containing addr.
func (m *AddressMap) Find(addr hostarch.VirtualAddress) (AddressRegion, bool) {
	if !m.bounds.Contains(addr) {
		return AddressRegion{}, false
	}
	// The first region whose end lies beyond addr; addr < End <= max.
	r, ok := m.enclosing(addr + 1)
	if !ok || !r.Span.Contains(addr) {
		return AddressRegion{}, false
	}
	return r, true
}

// Regions returns every region in address order.
func (m *AddressMap) Regions() iter.Seq[AddressRegion] {
	return func(yield func(AddressRegion) bool) {
		m.regions.Ascend(func(r AddressRegion) bool {
			return yield(r)
		})
	}
}

// OccupiedRegions returns every occupied region in address order.
func (m *AddressMap) OccupiedRegions() iter.Seq[AddressRegion] {
	return m.filter(true)
}

// UnoccupiedRegions returns every hole in address order.
func (m *AddressMap) UnoccupiedRegions() iter.Seq[AddressRegion] {
	return m.filter(false)
}

func (m *AddressMap) filter(occupied bool) iter.Seq[AddressRegion] {
	return func(yield func(AddressRegion) bool) {
		m.regions.Ascend(func(r AddressRegion) bool {
			if r.Occupied() != occupied {
				return true
			}
			return yield(r)
		})
	}
}

// FindFree returns the lowest range of the given length, starting on an
// align boundary, that lies within a hole at or above floor. align must be a
// power of two.
func (m *AddressMap) FindFree(floor hostarch.VirtualAddress, length, align uintptr) (hostarch.AddrRange, bool) {
	if length == 0 || align == 0 || align&(align-1) != 0 {
		return hostarch.AddrRange{}, false
	}
	var (
		found hostarch.AddrRange
		ok    bool
	)
	for hole := range m.UnoccupiedRegions() {
		start := max(hole.Span.Start, floor)
		aligned, fits := start.Add(align - 1)
		if !fits {
			break
		}
		aligned &^= hostarch.VirtualAddress(align - 1)
		r, inRange := hostarch.RangeOf(aligned, length)
		if inRange && hole.Span.IsSupersetOf(r) {
			found, ok = r, true
			break
		}
	}
	return found, ok
}

// String returns one line per region.
func (m *AddressMap) String() string {
	var b strings.Builder
	for r := range m.Regions() {
		fmt.Fprintf(&b, "%#016x-%#016x %-13s", uintptr(r.Span.Start), uintptr(r.Span.End), r.Kind)
		if r.Occupied() {
			fmt.Fprintf(&b, " %v", r.Region)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
