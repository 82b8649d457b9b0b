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

// Package pagetables provides an implementation of Sv39 page tables.
//
// Tables are nodes obtained from an Allocator and are referred to by
// physical address, as the hardware walker does. PageTables is not
// synchronized; callers serialize access.
package pagetables

import (
	"fmt"

	"tessera.dev/tessera/pkg/errors/kernerr"
	"tessera.dev/tessera/pkg/hostarch"
)

// kernelRootIndex is the first root entry of the shared kernel half.
var kernelRootIndex = hostarch.KernelRegionStart.VPN(hostarch.Levels - 1)

// PageTables is a set of page tables.
type PageTables struct {
	// Allocator is used to allocate nodes.
	Allocator Allocator

	// root is the pagetable root.
	root *PTEs

	// rootPhysical is the cached physical address of the root.
	rootPhysical hostarch.PhysicalAddress
}

// New returns new PageTables with an empty root.
func New(a Allocator) (*PageTables, error) {
	root, err := a.NewPTEs()
	if err != nil {
		return nil, err
	}
	return &PageTables{
		Allocator:    a,
		root:         root,
		rootPhysical: a.PhysicalFor(root),
	}, nil
}

// RootPhysical returns the physical address of the root table, the value
// activated on a hart.
func (p *PageTables) RootPhysical() hostarch.PhysicalAddress {
	return p.rootPhysical
}

// Map installs a single leaf of the given size mapping virt to phys.
//
// An existing leaf of the same size at virt is replaced. Mapping over a
// larger leaf, or over a table of smaller mappings, fails with
// kernerr.NotAvailable. Both addresses must be aligned to size.
func (p *PageTables) Map(virt hostarch.VirtualAddress, size hostarch.LeafSize, opts MapOpts, phys hostarch.PhysicalAddress) error {
	if size >= hostarch.NumLeafSizes || !opts.AccessType.Any() {
		return kernerr.InvalidArgument
	}
	if !virt.IsAlignedTo(size) || !phys.IsAlignedTo(size) {
		return kernerr.InvalidArgument
	}
	entries := p.root
	for level := hostarch.Levels - 1; level > size.Level(); level-- {
		pte := &entries[virt.VPN(level)]
		switch pte.Kind() {
		case NotValid:
			next, err := p.Allocator.NewPTEs()
			if err != nil {
				return err
			}
			pte.setPageTable(p.Allocator.PhysicalFor(next))
			entries = next
		case Branch:
			entries = p.Allocator.LookupPTEs(pte.Address())
		case Leaf:
			return kernerr.NotAvailable
		}
	}
	pte := &entries[virt.VPN(size.Level())]
	if pte.Kind() == Branch {
		return kernerr.NotAvailable
	}
	pte.Set(phys, opts)
	return nil
}

// Unmap removes the leaf covering virt and returns what it mapped. Tables
// left empty by the removal are freed. ok is false if nothing was mapped.
func (p *PageTables) Unmap(virt hostarch.VirtualAddress) (phys hostarch.PhysicalAddress, size hostarch.LeafSize, ok bool) {
	var path [hostarch.Levels]*PTEs
	entries := p.root
	for level := hostarch.Levels - 1; level >= 0; level-- {
		path[level] = entries
		pte := &entries[virt.VPN(level)]
		switch pte.Kind() {
		case NotValid:
			return 0, 0, false
		case Branch:
			if level == 0 {
				panic(fmt.Sprintf("[KERNEL BUG] branch entry at the last level for %v", virt))
			}
			entries = p.Allocator.LookupPTEs(pte.Address())
			continue
		}

		// Leaf.
		phys, size = pte.Address(), hostarch.LeafSizeForLevel(level)
		pte.Clear()
		for l := level; l < hostarch.Levels-1; l++ {
			if !empty(path[l]) {
				break
			}
			parent := &path[l+1][virt.VPN(l+1)]
			parent.Clear()
			p.Allocator.FreePTEs(path[l])
		}
		return phys, size, true
	}
	panic("unreachable")
}

// Entry returns the leaf entry covering virt and its size.
func (p *PageTables) Entry(virt hostarch.VirtualAddress) (*PTE, hostarch.LeafSize, bool) {
	entries := p.root
	for level := hostarch.Levels - 1; level >= 0; level-- {
		pte := &entries[virt.VPN(level)]
		switch pte.Kind() {
		case NotValid:
			return nil, 0, false
		case Leaf:
			return pte, hostarch.LeafSizeForLevel(level), true
		}
		if level == 0 {
			panic(fmt.Sprintf("[KERNEL BUG] branch entry at the last level for %v", virt))
		}
		entries = p.Allocator.LookupPTEs(pte.Address())
	}
	panic("unreachable")
}

// Translate returns the physical address virt maps to.
func (p *PageTables) Translate(virt hostarch.VirtualAddress) (hostarch.PhysicalAddress, bool) {
	pte, size, ok := p.Entry(virt)
	if !ok {
		return 0, false
	}
	return pte.Address() + hostarch.PhysicalAddress(uintptr(virt)&(size.Bytes()-1)), true
}

// CopyKernelEntries copies the root entries covering the kernel half of the
// address space from another set of tables. The subtrees are shared, not
// copied.
func (p *PageTables) CopyKernelEntries(from *PageTables) {
	copy(p.root[kernelRootIndex:], from.root[kernelRootIndex:])
}

// Release frees every table reachable from the user half of the root, and
// the root itself. Leaves are not freed; they belong to the caller. The
// shared kernel half is left untouched.
func (p *PageTables) Release() {
	for i := uintptr(0); i < kernelRootIndex; i++ {
		p.releaseEntry(&p.root[i], hostarch.Levels-1)
	}
	p.Allocator.FreePTEs(p.root)
	p.root = nil
}

func (p *PageTables) releaseEntry(pte *PTE, level int) {
	if pte.Kind() != Branch {
		return
	}
	if level == 0 {
		panic("[KERNEL BUG] branch entry at the last level")
	}
	entries := p.Allocator.LookupPTEs(pte.Address())
	for i := range entries {
		p.releaseEntry(&entries[i], level-1)
	}
	pte.Clear()
	p.Allocator.FreePTEs(entries)
}

func empty(entries *PTEs) bool {
	for _, pte := range entries {
		if pte != 0 {
			return false
		}
	}
	return true
}
