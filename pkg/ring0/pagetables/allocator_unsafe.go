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
	"unsafe"

	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/sentry/pgalloc"
)

// PhysicalAllocator places page tables in physical memory, where the
// hardware walker can reach them.
type PhysicalAllocator struct {
	mf *pgalloc.MemoryFile

	// window is the host address of the first frame.
	window uintptr
}

// NewPhysicalAllocator returns an allocator drawing frames from mf.
func NewPhysicalAllocator(mf *pgalloc.MemoryFile) *PhysicalAllocator {
	b, err := mf.Bytes(mf.Base(), 1)
	if err != nil {
		panic(fmt.Sprintf("[KERNEL BUG] physical memory has no first frame: %v", err))
	}
	return &PhysicalAllocator{
		mf:     mf,
		window: uintptr(unsafe.Pointer(&b[0])),
	}
}

// NewPTEs implements Allocator.NewPTEs.
func (a *PhysicalAllocator) NewPTEs() (*PTEs, error) {
	pa, err := a.mf.Alloc()
	if err != nil {
		return nil, err
	}
	a.mf.Zero(pa)
	return a.LookupPTEs(pa), nil
}

// PhysicalFor implements Allocator.PhysicalFor.
func (a *PhysicalAllocator) PhysicalFor(ptes *PTEs) hostarch.PhysicalAddress {
	return a.mf.Base() + hostarch.PhysicalAddress(uintptr(unsafe.Pointer(ptes))-a.window)
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *PhysicalAllocator) LookupPTEs(physical hostarch.PhysicalAddress) *PTEs {
	b, err := a.mf.Bytes(physical, hostarch.PageSize)
	if err != nil {
		panic(fmt.Sprintf("[KERNEL BUG] page table at %v outside physical memory", physical))
	}
	return (*PTEs)(unsafe.Pointer(&b[0]))
}

// FreePTEs implements Allocator.FreePTEs.
func (a *PhysicalAllocator) FreePTEs(ptes *PTEs) {
	a.mf.Free(a.PhysicalFor(ptes))
}
