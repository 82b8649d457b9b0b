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
	"io"

	"tessera.dev/tessera/pkg/errors/kernerr"
	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/ring0/pagetables"
	"tessera.dev/tessera/pkg/sentry/pgalloc"
	"tessera.dev/tessera/pkg/sentry/platform"
)

// PageTableManager owns one page table hierarchy and keeps the hart that
// uses it coherent.
//
// Every mutation runs with interrupts disabled on the hart and is followed
// by a translation fence for the affected address before it returns.
//
// PageTableManager is not synchronized; the owning MemoryManager serializes
// access.
type PageTableManager struct {
	mf     *pgalloc.MemoryFile
	tables *pagetables.PageTables

	// hart is the hart the tables are fenced on.
	hart platform.Hart

	// owned are the frames allocated by AllocVirtual*, freed by Unmap and
	// Release. Frames installed by MapDirect belong to the caller.
	owned map[hostarch.PhysicalAddress]struct{}
}

// NewPageTableManager returns a manager with an empty root allocated from a.
func NewPageTableManager(mf *pgalloc.MemoryFile, a pagetables.Allocator, h platform.Hart) (*PageTableManager, error) {
	tables, err := pagetables.New(a)
	if err != nil {
		return nil, err
	}
	return &PageTableManager{
		mf:     mf,
		tables: tables,
		hart:   h,
		owned:  make(map[hostarch.PhysicalAddress]struct{}),
	}, nil
}

// RootPhysical returns the physical address of the root table.
func (p *PageTableManager) RootPhysical() hostarch.PhysicalAddress {
	return p.tables.RootPhysical()
}

// SetHart moves the manager to h and activates the tables there.
func (p *PageTableManager) SetHart(h platform.Hart) {
	p.hart = h
	h.ActivateTable(p.tables.RootPhysical())
}

// onHart runs fn with the manager moved to h, a hart other than the one the
// tables are active on. A nil h runs fn unchanged.
//
// Preconditions: the caller serializes every use of p.
func (p *PageTableManager) onHart(h platform.Hart, fn func()) {
	if h == nil {
		fn()
		return
	}
	prev := p.hart
	p.hart = h
	defer func() { p.hart = prev }()
	fn()
}

// critical runs fn with interrupts disabled, then fences addr.
func (p *PageTableManager) critical(addr *hostarch.VirtualAddress, fn func() error) error {
	restore := p.hart.DisableInterrupts()
	defer restore()
	if err := fn(); err != nil {
		return err
	}
	p.hart.SFence(addr)
	return nil
}

// AllocVirtual maps a freshly allocated page at virt. It fails with
// kernerr.NotAvailable if virt is already mapped.
func (p *PageTableManager) AllocVirtual(virt hostarch.VirtualAddress, opts pagetables.MapOpts) (hostarch.PhysicalAddress, error) {
	var phys hostarch.PhysicalAddress
	err := p.critical(&virt, func() error {
		if _, _, mapped := p.tables.Entry(virt); mapped {
			return kernerr.NotAvailable
		}
		pa, err := p.mf.Alloc()
		if err != nil {
			return err
		}
		if err := p.tables.Map(virt, hostarch.Kilopage, opts, pa); err != nil {
			p.mf.Free(pa)
			return err
		}
		p.owned[pa] = struct{}{}
		phys = pa
		return nil
	})
	return phys, err
}

// AllocVirtualRange maps fresh pages over [virt, virt+size).
//
// Precondition: size is a multiple of the page size.
func (p *PageTableManager) AllocVirtualRange(virt hostarch.VirtualAddress, size uintptr, opts pagetables.MapOpts) error {
	if size%hostarch.PageSize != 0 {
		panic(fmt.Sprintf("range size %#x is not a multiple of the page size", size))
	}
	for off := uintptr(0); off < size; off += hostarch.PageSize {
		if _, err := p.AllocVirtual(virt.Offset(off), opts); err != nil {
			return err
		}
	}
	return nil
}

// AllocVirtualWithData maps a fresh page at virt and copies data into it
// through the identity window. data must fit in a page; the rest of the page
// is left as allocated.
func (p *PageTableManager) AllocVirtualWithData(virt hostarch.VirtualAddress, opts pagetables.MapOpts, data []byte) error {
	if len(data) > hostarch.PageSize {
		return kernerr.InvalidArgument
	}
	pa, err := p.AllocVirtual(virt, opts)
	if err != nil {
		return err
	}
	b, err := p.mf.Bytes(pa, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

// AllocVirtualRangeWithData maps fresh pages starting at virt covering data,
// one page per PageSize chunk of data.
func (p *PageTableManager) AllocVirtualRangeWithData(virt hostarch.VirtualAddress, opts pagetables.MapOpts, data []byte) error {
	for off := 0; off < len(data); off += hostarch.PageSize {
		chunk := data[off:min(off+hostarch.PageSize, len(data))]
		if err := p.AllocVirtualWithData(virt.Offset(uintptr(off)), opts, chunk); err != nil {
			return err
		}
	}
	return nil
}

// MapDirect maps existing physical memory at virt with a leaf of the given
// size.
func (p *PageTableManager) MapDirect(phys hostarch.PhysicalAddress, virt hostarch.VirtualAddress, size hostarch.LeafSize, opts pagetables.MapOpts) error {
	return p.critical(&virt, func() error {
		return p.tables.Map(virt, size, opts, phys)
	})
}

// Unmap removes the leaf covering virt. A frame allocated by AllocVirtual is
// freed; other frames are returned to the caller.
func (p *PageTableManager) Unmap(virt hostarch.VirtualAddress) (hostarch.PhysicalAddress, bool) {
	var (
		phys hostarch.PhysicalAddress
		ok   bool
	)
	p.critical(&virt, func() error {
		phys, _, ok = p.tables.Unmap(virt)
		if _, owned := p.owned[phys]; ok && owned {
			delete(p.owned, phys)
			p.mf.Free(phys)
		}
		return nil
	})
	return phys, ok
}

// UnmapRange removes every leaf in r. r must be aligned to the leaves it
// covers.
func (p *PageTableManager) UnmapRange(r hostarch.AddrRange) {
	for virt := r.Start; virt < r.End; {
		_, size, ok := p.tables.Entry(virt)
		if !ok {
			virt = virt.RoundDown() + hostarch.PageSize
			continue
		}
		p.Unmap(virt)
		virt = virt.RoundDownTo(size) + hostarch.VirtualAddress(size.Bytes())
	}
}

// ModifyPagePermissions replaces the access bits of the leaf covering virt.
// It returns false if nothing is mapped there.
func (p *PageTableManager) ModifyPagePermissions(virt hostarch.VirtualAddress, at hostarch.AccessType) bool {
	ok := false
	p.critical(&virt, func() error {
		pte, _, found := p.tables.Entry(virt)
		if !found || !at.Any() {
			return nil
		}
		opts := pte.Opts()
		opts.AccessType = at
		flags := pte.Flags() & (pagetables.Accessed | pagetables.Dirty)
		pte.Set(pte.Address(), opts)
		pte.SetFlags(pte.Flags() | flags)
		ok = true
		return nil
	})
	return ok
}

// ModifyPageFlags records an access of the given type to the user page
// covering virt by setting its accessed bit, and its dirty bit for writes.
//
// It returns false, leaving the entry untouched, if nothing is mapped at
// virt or the mapping does not allow the access from user mode.
func (p *PageTableManager) ModifyPageFlags(virt hostarch.VirtualAddress, at hostarch.AccessType) bool {
	ok := false
	p.critical(&virt, func() error {
		pte, _, found := p.tables.Entry(virt)
		if !found || !pte.Opts().User || !pte.Opts().AccessType.SupersetOf(at) {
			return nil
		}
		flags := pte.Flags() | pagetables.Accessed
		if at.Write {
			flags |= pagetables.Dirty
		}
		pte.SetFlags(flags)
		ok = true
		return nil
	})
	return ok
}

// PageFlags returns the flag bits of the leaf covering virt.
func (p *PageTableManager) PageFlags(virt hostarch.VirtualAddress) (pagetables.PTE, bool) {
	pte, _, ok := p.tables.Entry(virt)
	if !ok {
		return 0, false
	}
	return pte.Flags(), true
}

// Resolve returns the physical address virt translates to.
func (p *PageTableManager) Resolve(virt hostarch.VirtualAddress) (hostarch.PhysicalAddress, bool) {
	return p.tables.Translate(virt)
}

// IsValidReadable returns true if virt is mapped readable for user mode.
func (p *PageTableManager) IsValidReadable(virt hostarch.VirtualAddress) bool {
	return p.userAccessible(virt, hostarch.Read)
}

// IsValidWritable returns true if virt is mapped writable for user mode.
func (p *PageTableManager) IsValidWritable(virt hostarch.VirtualAddress) bool {
	return p.userAccessible(virt, hostarch.Write)
}

func (p *PageTableManager) userAccessible(virt hostarch.VirtualAddress, at hostarch.AccessType) bool {
	if virt.IsKernelRegion() {
		return false
	}
	pte, _, ok := p.tables.Entry(virt)
	return ok && pte.Opts().User && pte.Opts().AccessType.SupersetOf(at)
}

// CopyKernelPages shares the kernel half of from with these tables and
// flushes every translation on the hart.
func (p *PageTableManager) CopyKernelPages(from *PageTableManager) {
	p.critical(nil, func() error {
		p.tables.CopyKernelEntries(from.tables)
		return nil
	})
}

// DebugDump writes every leaf of the tables to w.
func (p *PageTableManager) DebugDump(w io.Writer) error {
	return p.tables.Dump(w)
}

// Release frees owned frames and every table. The kernel half is shared and
// left intact.
func (p *PageTableManager) Release() {
	restore := p.hart.DisableInterrupts()
	defer restore()
	for pa := range p.owned {
		p.mf.Free(pa)
	}
	clear(p.owned)
	p.tables.Release()
	p.hart.SFence(nil)
	log.Debugf("Released page tables")
}
