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
package hostarch

import (
	"testing"
)

func TestOffsetDoesNotWrap(t *testing.T) {
	if _, ok := VirtualAddress(^uintptr(0) - 1).Add(2); ok {
		t.Errorf("Add across the top of the address space reported ok")
	}
	if got, ok := VirtualAddress(0x1000).Add(0x1000); !ok || got != 0x2000 {
		t.Errorf("Add(0x1000) = %v, %v; want 0x2000, true", got, ok)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("Offset across the top of the address space did not panic")
		}
	}()
	VirtualAddress(^uintptr(0)).Offset(1)
}

func TestVPNs(t *testing.T) {
	for _, test := range []struct {
		addr VirtualAddress
		want [Levels]uintptr
	}{
		{0, [Levels]uintptr{0, 0, 0}},
		{0x1000, [Levels]uintptr{1, 0, 0}},
		{0x200000, [Levels]uintptr{0, 1, 0}},
		{0x40000000, [Levels]uintptr{0, 0, 1}},
		{KernelRegionStart, [Levels]uintptr{0, 0, 256}},
		{0x3fffffffff, [Levels]uintptr{511, 511, 255}},
		{VirtualAddress(^uintptr(0)), [Levels]uintptr{511, 511, 511}},
	} {
		if got := test.addr.VPNs(); got != test.want {
			t.Errorf("%v.VPNs() = %v, want %v", test.addr, got, test.want)
		}
		if got := FromVPNs(test.want[2], test.want[1], test.want[0]); got != test.addr.RoundDown() {
			t.Errorf("FromVPNs(%v) = %v, want %v", test.want, got, test.addr.RoundDown())
		}
	}
}

func TestKernelRegion(t *testing.T) {
	if UserspaceEnd.IsKernelRegion() {
		t.Errorf("%v reported as kernel region", UserspaceEnd)
	}
	if !KernelRegionStart.IsKernelRegion() {
		t.Errorf("%v not reported as kernel region", KernelRegionStart)
	}
	if !VirtualAddress(0x1000).IsUserspace() {
		t.Errorf("0x1000 not reported as userspace")
	}
}

func TestRoundUp(t *testing.T) {
	if got, ok := VirtualAddress(0x1001).RoundUp(); !ok || got != 0x2000 {
		t.Errorf("RoundUp(0x1001) = %v, %v; want 0x2000, true", got, ok)
	}
	if _, ok := VirtualAddress(^uintptr(0)).RoundUp(); ok {
		t.Errorf("RoundUp at the top of the address space reported ok")
	}
}

func TestAddrRange(t *testing.T) {
	r := AddrRange{0x1000, 0x3000}
	if !r.Contains(0x1000) || r.Contains(0x3000) {
		t.Errorf("%v: Contains is not half-open", r)
	}
	if !r.Overlaps(AddrRange{0x2fff, 0x4000}) || r.Overlaps(AddrRange{0x3000, 0x4000}) {
		t.Errorf("%v: Overlaps is not half-open", r)
	}
	if r.Length() != 0x2000 {
		t.Errorf("%v.Length() = %#x, want 0x2000", r, r.Length())
	}
}

func TestLeafSizes(t *testing.T) {
	for ps, want := range map[LeafSize]uintptr{
		Kilopage: 4 << 10,
		Megapage: 2 << 20,
		Gigapage: 1 << 30,
	} {
		if got := ps.Bytes(); got != want {
			t.Errorf("%v.Bytes() = %#x, want %#x", ps, got, want)
		}
		if LeafSizeForLevel(ps.Level()) != ps {
			t.Errorf("LeafSizeForLevel(%d) != %v", ps.Level(), ps)
		}
	}
}
