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
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tessera.dev/tessera/pkg/errors/kernerr"
	"tessera.dev/tessera/pkg/hostarch"
)

// regionIdentity compares backings by identity.
var regionIdentity = cmp.Comparer(func(a, b *MemoryRegion) bool { return a == b })

func span(start, end hostarch.VirtualAddress) hostarch.AddrRange {
	return hostarch.AddrRange{Start: start, End: end}
}

func snapshot(m *AddressMap) []AddressRegion {
	var regions []AddressRegion
	for r := range m.Regions() {
		regions = append(regions, r)
	}
	return regions
}

// checkPartition verifies that the regions of m cover its bounds exactly and
// that no two holes are adjacent.
func checkPartition(t *testing.T, m *AddressMap) {
	t.Helper()
	next := m.Bounds().Start
	prevHole := false
	for r := range m.Regions() {
		if r.Span.Start != next {
			t.Fatalf("region %v does not start at %#x:\n%s", r, uintptr(next), m)
		}
		if r.Span.Empty() || !r.Span.WellFormed() {
			t.Fatalf("region %v is empty:\n%s", r, m)
		}
		if !r.Occupied() && prevHole {
			t.Fatalf("hole %v follows another hole:\n%s", r, m)
		}
		if !r.Occupied() && r.Kind != Unoccupied {
			t.Fatalf("hole %v has kind %v", r, r.Kind)
		}
		prevHole = !r.Occupied()
		next = r.Span.End
	}
	if next != m.Bounds().End {
		t.Fatalf("regions end at %#x, want %#x:\n%s", uintptr(next), uintptr(m.Bounds().End), m)
	}
}

func TestNewAddressMap(t *testing.T) {
	m := NewAddressMap(hostarch.UserspaceRange())
	want := []AddressRegion{{Span: hostarch.UserspaceRange(), Kind: Unoccupied}}
	if diff := cmp.Diff(want, snapshot(m), regionIdentity); diff != "" {
		t.Errorf("initial map mismatch (-want +got):\n%s", diff)
	}
}

func TestStackRoundTrip(t *testing.T) {
	m := NewAddressMap(hostarch.UserspaceRange())
	initial := snapshot(m)
	backing := NewReservedRegion(0x2000)

	if err := m.Alloc(span(0x1000, 0x3000), backing, Stack); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	want := []AddressRegion{
		{Span: span(0, 0x1000), Kind: Unoccupied},
		{Span: span(0x1000, 0x3000), Region: backing, Kind: Stack},
		{Span: span(0x3000, hostarch.UserspaceEnd), Kind: Unoccupied},
	}
	if diff := cmp.Diff(want, snapshot(m), regionIdentity); diff != "" {
		t.Errorf("after Alloc (-want +got):\n%s", diff)
	}

	got, err := m.Free(span(0x1000, 0x3000))
	if err != nil {
		t.Fatalf("Free: %v", err)
	}
	if got != backing {
		t.Errorf("Free returned %p, want %p", got, backing)
	}
	if diff := cmp.Diff(initial, snapshot(m), regionIdentity); diff != "" {
		t.Errorf("after Free (-want +got):\n%s", diff)
	}
}

func TestFreeDoesNotMergeOccupiedNeighbor(t *testing.T) {
	m := NewAddressMap(hostarch.UserspaceRange())
	first, second := NewReservedRegion(0x1000), NewReservedRegion(0x1000)
	if err := m.Alloc(span(0x1000, 0x2000), first, Data); err != nil {
		t.Fatalf("Alloc first: %v", err)
	}
	if err := m.Alloc(span(0x2000, 0x3000), second, Data); err != nil {
		t.Fatalf("Alloc second: %v", err)
	}
	if _, err := m.Free(span(0x1000, 0x2000)); err != nil {
		t.Fatalf("Free: %v", err)
	}

	// The freed span merges with the hole below it, but never with the
	// occupied region above.
	want := []AddressRegion{
		{Span: span(0, 0x2000), Kind: Unoccupied},
		{Span: span(0x2000, 0x3000), Region: second, Kind: Data},
		{Span: span(0x3000, hostarch.UserspaceEnd), Kind: Unoccupied},
	}
	if diff := cmp.Diff(want, snapshot(m), regionIdentity); diff != "" {
		t.Errorf("after Free (-want +got):\n%s", diff)
	}
	r, ok := m.Find(0x1800)
	if !ok || r.Occupied() || !r.Span.Contains(0x1000) {
		t.Errorf("Find(0x1800) = %v, %t; want an unoccupied region covering [0x1000, 0x2000)", r, ok)
	}
}

func TestAllocRejectsOverlap(t *testing.T) {
	m := NewAddressMap(hostarch.UserspaceRange())
	if err := m.Alloc(span(0x4000, 0x8000), NewReservedRegion(0x4000), Text); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	before := snapshot(m)

	for _, r := range []hostarch.AddrRange{
		span(0x4000, 0x8000),
		span(0x3000, 0x5000),
		span(0x7000, 0x9000),
		span(0x5000, 0x6000),
		span(0x2000, 0x9000),
		span(hostarch.UserspaceEnd-0x1000, hostarch.UserspaceEnd+0x1000),
	} {
		if err := m.Alloc(r, NewReservedRegion(r.Length()), Data); err != kernerr.NotAvailable {
			t.Errorf("Alloc(%v) = %v, want %v", r, err, kernerr.NotAvailable)
		}
		if diff := cmp.Diff(before, snapshot(m), regionIdentity); diff != "" {
			t.Fatalf("failed Alloc(%v) changed the map (-want +got):\n%s", r, diff)
		}
	}

	if err := m.Alloc(span(0x1000, 0x1000), NewReservedRegion(0), Data); err != kernerr.InvalidArgument {
		t.Errorf("Alloc of an empty range = %v, want %v", err, kernerr.InvalidArgument)
	}
	if err := m.Alloc(span(0x1000, 0x2000), nil, Data); err != kernerr.InvalidArgument {
		t.Errorf("Alloc without backing = %v, want %v", err, kernerr.InvalidArgument)
	}
}

func TestAllocExactHole(t *testing.T) {
	m := NewAddressMap(hostarch.UserspaceRange())
	for _, r := range []hostarch.AddrRange{span(0x1000, 0x2000), span(0x3000, 0x4000)} {
		if err := m.Alloc(r, NewReservedRegion(r.Length()), Guard); err != nil {
			t.Fatalf("Alloc(%v): %v", r, err)
		}
	}
	n := m.Len()
	if err := m.Alloc(span(0x2000, 0x3000), NewReservedRegion(0x1000), Data); err != nil {
		t.Fatalf("Alloc of the exact hole: %v", err)
	}
	if m.Len() != n {
		t.Errorf("exact Alloc changed the region count from %d to %d", n, m.Len())
	}
	checkPartition(t, m)
}

func TestFreeRequiresExactMatch(t *testing.T) {
	m := NewAddressMap(hostarch.UserspaceRange())
	if err := m.Alloc(span(0x1000, 0x4000), NewReservedRegion(0x3000), Data); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	before := snapshot(m)
	for _, r := range []hostarch.AddrRange{
		span(0x1000, 0x2000),
		span(0x2000, 0x4000),
		span(0x0, 0x4000),
		span(0x1000, 0x5000),
		span(0x5000, 0x6000),
		span(0, 0x1000),
	} {
		if _, err := m.Free(r); err != kernerr.NotOccupied {
			t.Errorf("Free(%v) = %v, want %v", r, err, kernerr.NotOccupied)
		}
	}
	if diff := cmp.Diff(before, snapshot(m), regionIdentity); diff != "" {
		t.Errorf("failed Free changed the map (-want +got):\n%s", diff)
	}
}

func TestCoalescingIsOrderIndependent(t *testing.T) {
	ranges := []hostarch.AddrRange{
		span(0x1000, 0x2000),
		span(0x2000, 0x5000),
		span(0x5000, 0x6000),
	}
	orders := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}
	for _, order := range orders {
		m := NewAddressMap(hostarch.UserspaceRange())
		guard := span(0x7000, 0x8000)
		if err := m.Alloc(guard, NewReservedRegion(0x1000), Guard); err != nil {
			t.Fatalf("Alloc guard: %v", err)
		}
		want := snapshot(m)
		for _, r := range ranges {
			if err := m.Alloc(r, NewReservedRegion(r.Length()), Data); err != nil {
				t.Fatalf("Alloc(%v): %v", r, err)
			}
		}
		for _, i := range order {
			if _, err := m.Free(ranges[i]); err != nil {
				t.Fatalf("order %v: Free(%v): %v", order, ranges[i], err)
			}
			checkPartition(t, m)
		}
		if diff := cmp.Diff(want, snapshot(m), regionIdentity); diff != "" {
			t.Errorf("order %v (-want +got):\n%s", order, diff)
		}
	}
}

func TestFind(t *testing.T) {
	m := NewAddressMap(hostarch.UserspaceRange())
	backing := NewReservedRegion(0x2000)
	if err := m.Alloc(span(0x2000, 0x4000), backing, Tls); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	for _, test := range []struct {
		addr     hostarch.VirtualAddress
		want     hostarch.AddrRange
		occupied bool
		ok       bool
	}{
		{addr: 0, want: span(0, 0x2000), ok: true},
		{addr: 0x1fff, want: span(0, 0x2000), ok: true},
		{addr: 0x2000, want: span(0x2000, 0x4000), occupied: true, ok: true},
		{addr: 0x3fff, want: span(0x2000, 0x4000), occupied: true, ok: true},
		{addr: 0x4000, want: span(0x4000, hostarch.UserspaceEnd), ok: true},
		{addr: hostarch.UserspaceEnd - 1, want: span(0x4000, hostarch.UserspaceEnd), ok: true},
		{addr: hostarch.UserspaceEnd},
		{addr: hostarch.KernelRegionStart},
	} {
		r, ok := m.Find(test.addr)
		if ok != test.ok || r.Span != test.want || r.Occupied() != test.occupied {
			t.Errorf("Find(%#x) = %v (occupied %t), %t; want %v (occupied %t), %t",
				uintptr(test.addr), r.Span, r.Occupied(), ok, test.want, test.occupied, test.ok)
		}
	}
}

func TestFilteredViews(t *testing.T) {
	m := NewAddressMap(hostarch.UserspaceRange())
	for _, r := range []hostarch.AddrRange{span(0x1000, 0x2000), span(0x3000, 0x4000)} {
		if err := m.Alloc(r, NewReservedRegion(r.Length()), Data); err != nil {
			t.Fatalf("Alloc(%v): %v", r, err)
		}
	}
	var occupied, holes []hostarch.AddrRange
	for r := range m.OccupiedRegions() {
		occupied = append(occupied, r.Span)
	}
	for r := range m.UnoccupiedRegions() {
		holes = append(holes, r.Span)
	}
	if diff := cmp.Diff([]hostarch.AddrRange{span(0x1000, 0x2000), span(0x3000, 0x4000)}, occupied); diff != "" {
		t.Errorf("OccupiedRegions (-want +got):\n%s", diff)
	}
	wantHoles := []hostarch.AddrRange{span(0, 0x1000), span(0x2000, 0x3000), span(0x4000, hostarch.UserspaceEnd)}
	if diff := cmp.Diff(wantHoles, holes); diff != "" {
		t.Errorf("UnoccupiedRegions (-want +got):\n%s", diff)
	}
}

func TestFindFree(t *testing.T) {
	m := NewAddressMap(hostarch.UserspaceRange())
	if err := m.Alloc(span(0x1000, 0x3000), NewReservedRegion(0x2000), Text); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	for _, test := range []struct {
		floor  hostarch.VirtualAddress
		length uintptr
		align  uintptr
		want   hostarch.AddrRange
		ok     bool
	}{
		{floor: 0, length: 0x1000, align: 0x1000, want: span(0, 0x1000), ok: true},
		{floor: 0x1000, length: 0x1000, align: 0x1000, want: span(0x3000, 0x4000), ok: true},
		{floor: 0, length: 0x2000, align: 0x1000, want: span(0x3000, 0x5000), ok: true},
		{floor: 0x1000, length: 0x1000, align: 0x200000, want: span(0x200000, 0x201000), ok: true},
		{floor: 0, length: uintptr(hostarch.UserspaceEnd), align: 0x1000},
		{floor: 0, length: 0, align: 0x1000},
		{floor: 0, length: 0x1000, align: 0x1800},
	} {
		got, ok := m.FindFree(test.floor, test.length, test.align)
		if ok != test.ok || (ok && got != test.want) {
			t.Errorf("FindFree(%#x, %#x, %#x) = %v, %t; want %v, %t",
				uintptr(test.floor), test.length, test.align, got, ok, test.want, test.ok)
		}
	}
}

func TestRandomAllocFreeKeepsPartition(t *testing.T) {
	const (
		pages = 64
		ops   = 2000
	)
	rng := rand.New(rand.NewSource(1))
	bounds := span(0, pages*hostarch.PageSize)
	m := NewAddressMap(bounds)
	var live []hostarch.AddrRange

	for i := 0; i < ops; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			idx := rng.Intn(len(live))
			r := live[idx]
			if _, err := m.Free(r); err != nil {
				t.Fatalf("op %d: Free(%v): %v\n%s", i, r, err, m)
			}
			live = append(live[:idx], live[idx+1:]...)
		} else {
			start := hostarch.VirtualAddress(rng.Intn(pages)) * hostarch.PageSize
			n := hostarch.VirtualAddress(1+rng.Intn(4)) * hostarch.PageSize
			r := span(start, min(start+n, bounds.End))
			overlaps := false
			for _, l := range live {
				overlaps = overlaps || l.Overlaps(r)
			}
			before := snapshot(m)
			err := m.Alloc(r, NewReservedRegion(r.Length()), UserAllocated)
			switch {
			case overlaps && err != kernerr.NotAvailable:
				t.Fatalf("op %d: Alloc(%v) over a live region = %v", i, r, err)
			case overlaps:
				if diff := cmp.Diff(before, snapshot(m), regionIdentity); diff != "" {
					t.Fatalf("op %d: failed Alloc(%v) changed the map:\n%s", i, r, diff)
				}
			case err != nil:
				t.Fatalf("op %d: Alloc(%v): %v\n%s", i, r, err, m)
			default:
				live = append(live, r)
			}
		}
		checkPartition(t, m)
	}

	for _, r := range live {
		if _, err := m.Free(r); err != nil {
			t.Fatalf("Free(%v): %v", r, err)
		}
	}
	if diff := cmp.Diff([]AddressRegion{{Span: bounds}}, snapshot(m), regionIdentity); diff != "" {
		t.Errorf("after freeing everything (-want +got):\n%s", diff)
	}
}
