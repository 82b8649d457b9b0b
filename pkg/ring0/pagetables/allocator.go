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

package pagetables

import (
	"fmt"

	"tessera.dev/tessera/pkg/hostarch"
)

// Allocator is used to allocate and map PTEs.
type Allocator interface {
	// NewPTEs returns a new set of zeroed PTEs.
	NewPTEs() (*PTEs, error)

	// PhysicalFor gives the physical address for a set of PTEs.
	PhysicalFor(ptes *PTEs) hostarch.PhysicalAddress

	// LookupPTEs looks up PTEs by physical address.
	LookupPTEs(physical hostarch.PhysicalAddress) *PTEs

	// FreePTEs marks a set of PTEs as freed.
	FreePTEs(ptes *PTEs)
}

// runtimeBase is the first synthetic physical address handed out by a
// RuntimeAllocator. It lies well outside any physical memory.
const runtimeBase hostarch.PhysicalAddress = 0x10_0000_0000_0000

// RuntimeAllocator is a trivial allocator backed by the Go heap. The
// physical addresses it reports are synthetic and only meaningful to
// itself. It must not be shared between PageTables used concurrently.
type RuntimeAllocator struct {
	next   hostarch.PhysicalAddress
	byPhys map[hostarch.PhysicalAddress]*PTEs
	byPTEs map[*PTEs]hostarch.PhysicalAddress
}

// NewRuntimeAllocator returns an allocator that uses the Go heap.
func NewRuntimeAllocator() *RuntimeAllocator {
	return &RuntimeAllocator{
		next:   runtimeBase,
		byPhys: make(map[hostarch.PhysicalAddress]*PTEs),
		byPTEs: make(map[*PTEs]hostarch.PhysicalAddress),
	}
}

// NewPTEs implements Allocator.NewPTEs.
func (r *RuntimeAllocator) NewPTEs() (*PTEs, error) {
	ptes := new(PTEs)
	phys := r.next
	r.next += hostarch.PageSize
	r.byPhys[phys] = ptes
	r.byPTEs[ptes] = phys
	return ptes, nil
}

// PhysicalFor implements Allocator.PhysicalFor.
func (r *RuntimeAllocator) PhysicalFor(ptes *PTEs) hostarch.PhysicalAddress {
	phys, ok := r.byPTEs[ptes]
	if !ok {
		panic("[KERNEL BUG] PTEs not allocated by this allocator")
	}
	return phys
}

// LookupPTEs implements Allocator.LookupPTEs.
func (r *RuntimeAllocator) LookupPTEs(physical hostarch.PhysicalAddress) *PTEs {
	ptes, ok := r.byPhys[physical]
	if !ok {
		panic(fmt.Sprintf("[KERNEL BUG] no page table at %v", physical))
	}
	return ptes
}

// FreePTEs implements Allocator.FreePTEs.
func (r *RuntimeAllocator) FreePTEs(ptes *PTEs) {
	phys := r.PhysicalFor(ptes)
	delete(r.byPhys, phys)
	delete(r.byPTEs, ptes)
}

// Used returns the number of live tables.
func (r *RuntimeAllocator) Used() int {
	return len(r.byPhys)
}
