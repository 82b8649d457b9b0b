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


package tessera

import (
	"tessera.dev/tessera/pkg/abi/tessera"
	"tessera.dev/tessera/pkg/capability"
	"tessera.dev/tessera/pkg/errors/kernerr"
	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/sentry/arch"
	"tessera.dev/tessera/pkg/sentry/kernel"
	"tessera.dev/tessera/pkg/sentry/mm"
)

// AllocVirtualMemory implements syscall alloc_virtual_memory(size, options,
// permissions). It maps fresh memory at the lowest free address and returns
// the address in a1 and a capability for the memory in a2.
func AllocVirtualMemory(t *kernel.Task, args arch.SyscallArguments) ([]uint64, *kernel.SyscallControl, error) {
	size := uintptr(args[0].SizeT())
	opts := tessera.AllocationOptions(args[1].Uint64())
	perms := tessera.MemoryPermissions(args[2].Uint64())

	access, ok := mm.AccessFromPermissions(perms)
	if !ok || !opts.Valid() {
		return nil, nil, kernerr.InvalidArgument
	}
	m := t.MemoryManager()
	ar, err := m.AllocRegion(nil, size, mm.UserAllocated, access, opts)
	if err != nil {
		return nil, nil, err
	}
	c, err := insertMemory(t, ar, access)
	if err != nil {
		return nil, nil, err
	}
	log.Debugf("Task %v: allocated %v %s", t, ar, access)
	return []uint64{uint64(ar.Start), c.Ptr.Value()}, nil, nil
}

// AllocDmaMemory implements syscall alloc_dma_memory(size, options). It maps
// physically contiguous memory read-write and returns the physical address
// in a1, the virtual address in a2 and a capability for the memory in a3.
func AllocDmaMemory(t *kernel.Task, args arch.SyscallArguments) ([]uint64, *kernel.SyscallControl, error) {
	size := uintptr(args[0].SizeT())
	opts := tessera.DmaAllocationOptions(args[1].Uint64())
	if !opts.Valid() {
		return nil, nil, kernerr.InvalidArgument
	}
	pa, ar, err := t.MemoryManager().AllocDmaRegion(size, opts)
	if err != nil {
		return nil, nil, err
	}
	c, err := insertMemory(t, ar, hostarch.ReadWrite)
	if err != nil {
		return nil, nil, err
	}
	return []uint64{uint64(pa), uint64(ar.Start), c.Ptr.Value()}, nil, nil
}

// QueryMemoryCapability implements syscall query_memory_capability(cptr).
// It returns the base address, length and permissions of the memory cptr
// refers to in a1 through a3.
func QueryMemoryCapability(t *kernel.Task, args arch.SyscallArguments) ([]uint64, *kernel.SyscallControl, error) {
	r, _, err := t.Capabilities().Lookup(capability.Ptr(args[0].Uint64()))
	if err != nil {
		return nil, nil, err
	}
	mr, ok := r.(*mm.MemoryResource)
	if !ok {
		return nil, nil, kernerr.InvalidCapability
	}
	return []uint64{uint64(mr.Range.Start), uint64(mr.Range.Length()), uint64(mr.Permissions())}, nil, nil
}

// FreeVirtualMemory implements syscall free_virtual_memory(addr). The region
// starting at addr is unmapped, and the task's capabilities for it are
// revoked.
func FreeVirtualMemory(t *kernel.Task, args arch.SyscallArguments) ([]uint64, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	m := t.MemoryManager()
	r, ok := m.Find(addr)
	if !ok || !r.Occupied() || r.Span.Start != addr {
		return nil, nil, kernerr.NotOccupied
	}
	if err := m.FreeRegion(r.Span); err != nil {
		return nil, nil, err
	}
	caps := t.Capabilities()
	for _, c := range caps.Capabilities() {
		res, _, err := caps.Lookup(c.Ptr)
		if err != nil {
			continue
		}
		if mr, ok := res.(*mm.MemoryResource); ok && mr.Range == r.Span {
			caps.Revoke(c.Ptr)
		}
	}
	log.Debugf("Task %v: freed %v", t, r.Span)
	return nil, nil, nil
}

// insertMemory adds a capability for ar, just mapped with access, to t's
// table. On failure ar is freed.
func insertMemory(t *kernel.Task, ar hostarch.AddrRange, access hostarch.AccessType) (capability.Capability, error) {
	m := t.MemoryManager()
	r, _ := m.Find(ar.Start)
	res := &mm.MemoryResource{Range: ar, Access: access, Region: r.Region}
	c, err := t.Capabilities().Insert(res, rightsFromAccess(access).Or(capability.Grant))
	if err != nil {
		if ferr := m.FreeRegion(ar); ferr != nil {
			log.Warningf("Task %v: freeing %v: %v", t, ar, ferr)
		}
		return capability.Capability{}, err
	}
	return c, nil
}

// rightsFromAccess returns the capability rights matching at.
func rightsFromAccess(at hostarch.AccessType) capability.Rights {
	var r capability.Rights
	if at.Read {
		r = r.Or(capability.Read)
	}
	if at.Write {
		r = r.Or(capability.Write)
	}
	if at.Execute {
		r = r.Or(capability.Execute)
	}
	return r
}

// accessFromRights narrows at to what rights allow. Read access is always
// kept, as it is for every mapping.
func accessFromRights(at hostarch.AccessType, rights capability.Rights) hostarch.AccessType {
	return hostarch.AccessType{
		Read:    at.Read,
		Write:   at.Write && rights.Contains(capability.Write),
		Execute: at.Execute && rights.Contains(capability.Execute),
	}
}
