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

// Package hostarch describes the Sv39 virtual memory layout of the RV64
// targets that the kernel runs on.
package hostarch

import (
	"fmt"
)

const (
	// PageShift is the binary log of the standard page size.
	PageShift = 12

	// PageSize is the standard (kilopage) page size.
	PageSize = 1 << PageShift

	// MegaPageShift is the binary log of the megapage size.
	MegaPageShift = 21

	// GigaPageShift is the binary log of the gigapage size.
	GigaPageShift = 30

	// EntriesPerTable is the number of entries in a single page table.
	EntriesPerTable = 512

	// Levels is the number of translation levels in Sv39.
	Levels = 3

	// KernelRegionStart is the first address of the kernel half of the
	// address space. Every task shares the mappings above it.
	KernelRegionStart VirtualAddress = 0xFFFFFFC000000000

	// UserspaceEnd is the first address past the userspace range.
	UserspaceEnd VirtualAddress = 0x0000004000000000

	vpnMask = EntriesPerTable - 1
)

// VirtualAddress is a virtual address on the target.
type VirtualAddress uintptr

// PhysicalAddress is a physical address on the target.
type PhysicalAddress uintptr

// UserspaceRange returns the complete range of addresses available to a
// task.
func UserspaceRange() AddrRange {
	return AddrRange{Start: 0, End: UserspaceEnd}
}

// Add returns v + n. ok is false if the sum wraps around the top of the
// address space.
func (v VirtualAddress) Add(n uintptr) (addr VirtualAddress, ok bool) {
	addr = v + VirtualAddress(n)
	ok = addr >= v
	return
}

// Offset returns v + n, panicking if the sum wraps.
func (v VirtualAddress) Offset(n uintptr) VirtualAddress {
	addr, ok := v.Add(n)
	if !ok {
		panic(fmt.Sprintf("virtual address %#x + %#x wraps", uintptr(v), n))
	}
	return addr
}

// VPNs returns the virtual page numbers indexing each level of the table
// hierarchy. VPNs()[2] indexes the root.
func (v VirtualAddress) VPNs() [Levels]uintptr {
	return [Levels]uintptr{
		(uintptr(v) >> PageShift) & vpnMask,
		(uintptr(v) >> MegaPageShift) & vpnMask,
		(uintptr(v) >> GigaPageShift) & vpnMask,
	}
}

// VPN returns the virtual page number for the given level.
func (v VirtualAddress) VPN(level int) uintptr {
	return v.VPNs()[level]
}

// PageOffset returns the offset of v within its standard page.
func (v VirtualAddress) PageOffset() uintptr {
	return uintptr(v) & (PageSize - 1)
}

// IsPageAligned returns true if v is aligned to a standard page.
func (v VirtualAddress) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// RoundDown returns v rounded down to the nearest standard page.
func (v VirtualAddress) RoundDown() VirtualAddress {
	return v &^ (PageSize - 1)
}

// RoundUp returns v rounded up to the nearest standard page. ok is false if
// rounding wraps.
func (v VirtualAddress) RoundUp() (addr VirtualAddress, ok bool) {
	addr = VirtualAddress(v + PageSize - 1).RoundDown()
	ok = addr >= v
	return
}

// IsKernelRegion returns true if v lies in the kernel half of the address
// space.
func (v VirtualAddress) IsKernelRegion() bool {
	return v >= KernelRegionStart
}

// IsUserspace returns true if v lies in the userspace range.
func (v VirtualAddress) IsUserspace() bool {
	return v < UserspaceEnd
}

// String implements fmt.Stringer.String.
func (v VirtualAddress) String() string {
	return fmt.Sprintf("%#x", uintptr(v))
}

// FromVPNs assembles a virtual address from per-level page numbers, sign
// extending bit 38 as Sv39 requires.
func FromVPNs(vpn2, vpn1, vpn0 uintptr) VirtualAddress {
	v := vpn2<<GigaPageShift | vpn1<<MegaPageShift | vpn0<<PageShift
	if v&(1<<38) != 0 {
		v |= ^uintptr(1<<39 - 1)
	}
	return VirtualAddress(v)
}

// PPN returns the physical page number of p.
func (p PhysicalAddress) PPN() uintptr {
	return uintptr(p) >> PageShift
}

// PhysicalAddressFromPPN returns the physical address of the given page
// number.
func PhysicalAddressFromPPN(ppn uintptr) PhysicalAddress {
	return PhysicalAddress(ppn << PageShift)
}

// Add returns p + n. ok is false if the sum wraps.
func (p PhysicalAddress) Add(n uintptr) (addr PhysicalAddress, ok bool) {
	addr = p + PhysicalAddress(n)
	ok = addr >= p
	return
}

// Offset returns p + n, panicking if the sum wraps.
func (p PhysicalAddress) Offset(n uintptr) PhysicalAddress {
	addr, ok := p.Add(n)
	if !ok {
		panic(fmt.Sprintf("physical address %#x + %#x wraps", uintptr(p), n))
	}
	return addr
}

// IsPageAligned returns true if p is aligned to a standard page.
func (p PhysicalAddress) IsPageAligned() bool {
	return uintptr(p)&(PageSize-1) == 0
}

// String implements fmt.Stringer.String.
func (p PhysicalAddress) String() string {
	return fmt.Sprintf("%#x", uintptr(p))
}

// RoundDownTo returns v rounded down to a boundary of the given leaf size.
func (v VirtualAddress) RoundDownTo(ls LeafSize) VirtualAddress {
	return v &^ VirtualAddress(ls.Bytes()-1)
}

// IsAlignedTo returns true if v is aligned to the given leaf size.
func (v VirtualAddress) IsAlignedTo(ls LeafSize) bool {
	return uintptr(v)&(ls.Bytes()-1) == 0
}

// IsAlignedTo returns true if p is aligned to the given leaf size.
func (p PhysicalAddress) IsAlignedTo(ls LeafSize) bool {
	return uintptr(p)&(ls.Bytes()-1) == 0
}
