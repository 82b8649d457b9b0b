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

// Package mm provides a memory management subsystem: the per-task address
// map, the page tables realizing it, and the physical memory behind it.
//
// Lock order:
//
//	kernel.Task.mu
//		mm.MemoryManager.mu
//			pgalloc.MemoryFile.mu
package mm

import (
	"fmt"
	"io"
	"strings"

	"tessera.dev/tessera/pkg/abi/tessera"
	"tessera.dev/tessera/pkg/errors/kernerr"
	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/ring0/pagetables"
	"tessera.dev/tessera/pkg/sentry/pgalloc"
	"tessera.dev/tessera/pkg/sentry/platform"
	"tessera.dev/tessera/pkg/sync"
)

// MemoryManager implements a task's virtual address space: which spans are
// occupied, the memory behind them, and the page tables that map it.
type MemoryManager struct {
	// mf is physical memory. Immutable.
	mf *pgalloc.MemoryFile

	mu sync.Mutex

	// regions partitions the userspace range. Protected by mu.
	regions *AddressMap

	// pt maps every occupied region that has memory. Protected by mu.
	pt *PageTableManager

	// released is set by Release. Protected by mu.
	released bool
}

// NewMemoryManager returns a MemoryManager with an empty userspace range
// that shares the kernel half of kernel. Page tables are allocated from a,
// and h is the hart the address space starts on.
func NewMemoryManager(mf *pgalloc.MemoryFile, a pagetables.Allocator, kernel *PageTableManager, h platform.Hart) (*MemoryManager, error) {
	pt, err := NewPageTableManager(mf, a, h)
	if err != nil {
		return nil, err
	}
	if kernel != nil {
		pt.CopyKernelPages(kernel)
	}
	return &MemoryManager{
		mf:      mf,
		regions: NewAddressMap(hostarch.UserspaceRange()),
		pt:      pt,
	}, nil
}

// Activate switches h to this address space.
func (mm *MemoryManager) Activate(h platform.Hart) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.pt.SetHart(h)
}

// RootPhysical returns the physical address of the root page table.
func (mm *MemoryManager) RootPhysical() hostarch.PhysicalAddress {
	return mm.pt.RootPhysical()
}

// userMapOpts returns the leaf options for user memory with access at.
func userMapOpts(at hostarch.AccessType) pagetables.MapOpts {
	return pagetables.MapOpts{AccessType: at, User: true}
}

// placeLocked returns the range of length bytes to put a region at. A nil
// at picks the lowest free range aligned to align, skipping the null page.
//
// Preconditions: mm.mu is locked.
func (mm *MemoryManager) placeLocked(at *hostarch.VirtualAddress, length, align uintptr) (hostarch.AddrRange, error) {
	if at == nil {
		r, ok := mm.regions.FindFree(hostarch.PageSize, length, align)
		if !ok {
			return hostarch.AddrRange{}, kernerr.NoMemory
		}
		return r, nil
	}
	if uintptr(*at)&(align-1) != 0 {
		return hostarch.AddrRange{}, kernerr.InvalidArgument
	}
	r, ok := hostarch.RangeOf(*at, length)
	if !ok || !mm.regions.Bounds().IsSupersetOf(r) {
		return hostarch.AddrRange{}, kernerr.NotAvailable
	}
	return r, nil
}

// mapRegionLocked occupies ar with region and maps its leaves with access
// at. On failure nothing is left behind and the caller keeps its reference.
//
// Preconditions: mm.mu is locked. ar.Length() == region.Size().
func (mm *MemoryManager) mapRegionLocked(ar hostarch.AddrRange, region *MemoryRegion, kind AddressRegionKind, at hostarch.AccessType) error {
	if err := mm.regions.Alloc(ar, region, kind); err != nil {
		return err
	}
	if region.Kind() == Reserved {
		return nil
	}
	leafBytes := region.LeafSize().Bytes()
	for i, pa := range region.Leaves() {
		virt := ar.Start.Offset(uintptr(i) * leafBytes)
		if err := mm.pt.MapDirect(pa, virt, region.LeafSize(), userMapOpts(at)); err != nil {
			mm.pt.UnmapRange(hostarch.AddrRange{Start: ar.Start, End: virt})
			if _, ferr := mm.regions.Free(ar); ferr != nil {
				panic(fmt.Sprintf("[KERNEL BUG] rolling back %v: %v", ar, ferr))
			}
			return err
		}
	}
	return nil
}

// AllocRegion allocates and maps size bytes of memory with access at. If at
// is nil the lowest free range is used. AllocLargePage maps the region with
// megapages.
func (mm *MemoryManager) AllocRegion(at *hostarch.VirtualAddress, size uintptr, kind AddressRegionKind, access hostarch.AccessType, opts tessera.AllocationOptions) (hostarch.AddrRange, error) {
	if size == 0 || !access.Any() || !opts.Valid() {
		return hostarch.AddrRange{}, kernerr.InvalidArgument
	}
	ls := hostarch.Kilopage
	if opts.Contains(tessera.AllocLargePage) {
		ls = hostarch.Megapage
	}
	length, ok := roundUpTo(size, ls.Bytes())
	if !ok {
		return hostarch.AddrRange{}, kernerr.NoMemory
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	ar, err := mm.placeLocked(at, length, ls.Bytes())
	if err != nil {
		return hostarch.AddrRange{}, err
	}
	region, err := NewMemoryRegion(mm.mf, length, ls, opts)
	if err != nil {
		return hostarch.AddrRange{}, err
	}
	if err := mm.mapRegionLocked(ar, region, kind, access); err != nil {
		region.DecRef()
		return hostarch.AddrRange{}, err
	}
	return ar, nil
}

// AllocRegionWithData allocates a region holding a copy of data, zero
// filled to a page boundary.
func (mm *MemoryManager) AllocRegionWithData(at *hostarch.VirtualAddress, kind AddressRegionKind, access hostarch.AccessType, data []byte) (hostarch.AddrRange, error) {
	if len(data) == 0 {
		return hostarch.AddrRange{}, kernerr.InvalidArgument
	}
	ar, err := mm.AllocRegion(at, uintptr(len(data)), kind, access, tessera.AllocZero)
	if err != nil {
		return hostarch.AddrRange{}, err
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	r, _ := mm.regions.Find(ar.Start)
	if err := r.Region.CopyIn(0, data); err != nil {
		panic(fmt.Sprintf("[KERNEL BUG] copying into new region %v: %v", ar, err))
	}
	return ar, nil
}

// AllocDmaRegion allocates size bytes of physically contiguous memory and
// maps it read-write. It returns the physical base and the mapped range.
func (mm *MemoryManager) AllocDmaRegion(size uintptr, opts tessera.DmaAllocationOptions) (hostarch.PhysicalAddress, hostarch.AddrRange, error) {
	if size == 0 {
		return 0, hostarch.AddrRange{}, kernerr.InvalidArgument
	}
	length, ok := roundUpTo(size, hostarch.PageSize)
	if !ok {
		return 0, hostarch.AddrRange{}, kernerr.NoMemory
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()
	ar, err := mm.placeLocked(nil, length, hostarch.PageSize)
	if err != nil {
		return 0, hostarch.AddrRange{}, err
	}
	region, err := NewDmaRegion(mm.mf, length, opts)
	if err != nil {
		return 0, hostarch.AddrRange{}, err
	}
	if err := mm.mapRegionLocked(ar, region, UserAllocated, hostarch.ReadWrite); err != nil {
		region.DecRef()
		return 0, hostarch.AddrRange{}, err
	}
	return region.Leaves()[0], ar, nil
}

// Reserve occupies ar without memory, so that it is never handed out and
// every access to it faults.
func (mm *MemoryManager) Reserve(ar hostarch.AddrRange, kind AddressRegionKind) error {
	if ar.Empty() || !ar.IsPageAligned() {
		return kernerr.InvalidArgument
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.regions.Alloc(ar, NewReservedRegion(ar.Length()), kind)
}

// MapShared maps a region owned by another address space with access at.
// The address space takes its own reference on region. h is the hart making
// the call, which may differ from the hart the address space is active on;
// a nil h means the latter. It fails with InvalidTask once the address space
// is released.
func (mm *MemoryManager) MapShared(h platform.Hart, region *MemoryRegion, at *hostarch.VirtualAddress, access hostarch.AccessType) (hostarch.AddrRange, error) {
	if region.Kind() == Reserved || !access.Any() {
		return hostarch.AddrRange{}, kernerr.InvalidArgument
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.released {
		return hostarch.AddrRange{}, kernerr.InvalidTask
	}
	if !region.TryIncRef() {
		return hostarch.AddrRange{}, kernerr.InvalidArgument
	}
	var (
		ar  hostarch.AddrRange
		err error
	)
	mm.pt.onHart(h, func() {
		ar, err = mm.placeLocked(at, region.Size(), region.LeafSize().Bytes())
		if err == nil {
			err = mm.mapRegionLocked(ar, region, Channel, access)
		}
	})
	if err != nil {
		region.DecRef()
		return hostarch.AddrRange{}, err
	}
	return ar, nil
}

// FreeRegion unmaps the occupied region spanning exactly ar and drops the
// address space's reference on its memory.
func (mm *MemoryManager) FreeRegion(ar hostarch.AddrRange) error {
	return mm.FreeRegionOn(nil, ar)
}

// FreeRegionOn is FreeRegion called from hart h, as for MapShared.
func (mm *MemoryManager) FreeRegionOn(h platform.Hart, ar hostarch.AddrRange) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.released {
		return kernerr.InvalidTask
	}
	region, err := mm.regions.Free(ar)
	if err != nil {
		return err
	}
	mm.pt.onHart(h, func() { mm.dropLocked(ar, region) })
	return nil
}

// Hart returns the hart the address space is active on.
func (mm *MemoryManager) Hart() platform.Hart {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.pt.hart
}

// dropLocked unmaps ar and drops the reference on region.
//
// Preconditions: mm.mu is locked.
func (mm *MemoryManager) dropLocked(ar hostarch.AddrRange, region *MemoryRegion) {
	if region.Kind() != Reserved {
		mm.pt.UnmapRange(ar)
	}
	region.DecRef()
}

// Find returns the region containing addr.
func (mm *MemoryManager) Find(addr hostarch.VirtualAddress) (AddressRegion, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.regions.Find(addr)
}

// Regions returns a snapshot of every region in address order.
func (mm *MemoryManager) Regions() []AddressRegion {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	regions := make([]AddressRegion, 0, mm.regions.Len())
	for r := range mm.regions.Regions() {
		regions = append(regions, r)
	}
	return regions
}

// ModifyPageFlags marks the page covering virt accessed, and dirty if at
// includes a write. It returns false if the page is not mapped for at.
func (mm *MemoryManager) ModifyPageFlags(virt hostarch.VirtualAddress, at hostarch.AccessType) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.pt.ModifyPageFlags(virt, at)
}

// ModifyPagePermissions replaces the access of the page covering virt.
func (mm *MemoryManager) ModifyPagePermissions(virt hostarch.VirtualAddress, at hostarch.AccessType) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.pt.ModifyPagePermissions(virt, at)
}

// PageFlags returns the flag bits of the page covering virt.
func (mm *MemoryManager) PageFlags(virt hostarch.VirtualAddress) (pagetables.PTE, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.pt.PageFlags(virt)
}

// Resolve returns the physical address virt maps to.
func (mm *MemoryManager) Resolve(virt hostarch.VirtualAddress) (hostarch.PhysicalAddress, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.pt.Resolve(virt)
}

// CopyIn copies n bytes of task memory at addr. Every page must be mapped
// readable for user mode.
func (mm *MemoryManager) CopyIn(addr hostarch.VirtualAddress, n uintptr) ([]byte, error) {
	dst := make([]byte, 0, n)
	err := mm.forEachUserPage(addr, n, hostarch.Read, func(b []byte) {
		dst = append(dst, b...)
	})
	return dst, err
}

// CopyOut copies src into task memory at addr. Every page must be mapped
// writable for user mode.
func (mm *MemoryManager) CopyOut(addr hostarch.VirtualAddress, src []byte) error {
	return mm.forEachUserPage(addr, uintptr(len(src)), hostarch.Write, func(b []byte) {
		n := copy(b, src)
		src = src[n:]
	})
}

func (mm *MemoryManager) forEachUserPage(addr hostarch.VirtualAddress, n uintptr, at hostarch.AccessType, fn func([]byte)) error {
	if _, ok := addr.Add(n); !ok {
		return platform.SegmentationFault{Addr: addr, Access: at}
	}
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for n > 0 {
		if !mm.pt.userAccessible(addr, at) {
			return platform.SegmentationFault{Addr: addr, Access: at}
		}
		pa, _ := mm.pt.Resolve(addr)
		chunk := min(n, hostarch.PageSize-addr.PageOffset())
		b, err := mm.mf.Bytes(pa, uint64(chunk))
		if err != nil {
			return platform.SegmentationFault{Addr: addr, Access: at}
		}
		fn(b)
		addr += hostarch.VirtualAddress(chunk)
		n -= chunk
	}
	return nil
}

// IsValidReadable returns true if virt is mapped readable for user mode.
func (mm *MemoryManager) IsValidReadable(virt hostarch.VirtualAddress) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.pt.IsValidReadable(virt)
}

// IsValidWritable returns true if virt is mapped writable for user mode.
func (mm *MemoryManager) IsValidWritable(virt hostarch.VirtualAddress) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.pt.IsValidWritable(virt)
}

// DebugDump writes the address map and page tables to w.
func (mm *MemoryManager) DebugDump(w io.Writer) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if _, err := io.WriteString(w, mm.regions.String()); err != nil {
		return err
	}
	return mm.pt.DebugDump(w)
}

// String implements fmt.Stringer.String.
func (mm *MemoryManager) String() string {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return strings.TrimSuffix(mm.regions.String(), "\n")
}

// Release frees every region and the page tables. Afterwards only
// MapShared and FreeRegion may be called, and they fail with InvalidTask.
func (mm *MemoryManager) Release() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if mm.released {
		return
	}
	mm.released = true
	var occupied []AddressRegion
	for r := range mm.regions.OccupiedRegions() {
		occupied = append(occupied, r)
	}
	for _, r := range occupied {
		if _, err := mm.regions.Free(r.Span); err != nil {
			panic(fmt.Sprintf("[KERNEL BUG] releasing %v: %v", r, err))
		}
		mm.dropLocked(r.Span, r.Region)
	}
	mm.pt.Release()
}

func roundUpTo(n, align uintptr) (uintptr, bool) {
	r := (n + align - 1) &^ (align - 1)
	return r, r >= n
}
