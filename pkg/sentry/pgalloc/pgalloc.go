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

// Package pgalloc contains the physical page allocator.
//
// Physical memory is an anonymous host mapping. Page frames are handed out
// by index and addressed as physical addresses starting at a configurable
// base, so that the kernel can reach any frame through an identity window.
package pgalloc

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/edsrzf/mmap-go"

	"tessera.dev/tessera/pkg/errors/kernerr"
	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/sync"
)

// DefaultBase is the physical address of the first frame on the virt
// machine.
const DefaultBase hostarch.PhysicalAddress = 0x80000000

// MemoryFile is the physical memory of a machine.
type MemoryFile struct {
	// base is the physical address of the first frame. Immutable.
	base hostarch.PhysicalAddress

	// pages is the number of frames. Immutable.
	pages uint

	// mem is the backing mapping. The slice is immutable; its contents
	// belong to whoever allocated the frame.
	mem mmap.MMap

	mu sync.Mutex

	// used has a bit set for every allocated frame. Protected by mu.
	used *bitset.BitSet
}

// New returns a MemoryFile of size bytes starting at base. Both must be page
// aligned.
func New(base hostarch.PhysicalAddress, size uint64) (*MemoryFile, error) {
	if !base.IsPageAligned() || size%hostarch.PageSize != 0 || size == 0 {
		return nil, fmt.Errorf("memory %#x+%#x is not page aligned", uintptr(base), size)
	}
	if _, ok := base.Add(uintptr(size)); !ok {
		return nil, fmt.Errorf("memory %#x+%#x wraps", uintptr(base), size)
	}
	mem, err := mmap.MapRegion(nil, int(size), mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("mapping %d bytes of physical memory: %w", size, err)
	}
	pages := uint(size / hostarch.PageSize)
	log.Debugf("Physical memory %#x-%#x (%d frames)", uintptr(base), uintptr(base)+uintptr(size), pages)
	return &MemoryFile{
		base:  base,
		pages: pages,
		mem:   mem,
		used:  bitset.New(pages),
	}, nil
}

// Base returns the physical address of the first frame.
func (f *MemoryFile) Base() hostarch.PhysicalAddress {
	return f.base
}

// Size returns the size of physical memory in bytes.
func (f *MemoryFile) Size() uint64 {
	return uint64(f.pages) * hostarch.PageSize
}

// Alloc allocates a single frame. The contents of the frame are undefined.
func (f *MemoryFile) Alloc() (hostarch.PhysicalAddress, error) {
	return f.AllocContiguous(1, 1)
}

// AllocContiguous allocates n physically contiguous frames whose first frame
// index is a multiple of align frames.
func (f *MemoryFile) AllocContiguous(n, align uint) (hostarch.PhysicalAddress, error) {
	if n == 0 || align == 0 {
		return 0, kernerr.InvalidArgument
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	start := uint(0)
	for start+n <= f.pages {
		idx, ok := f.used.NextClear(start)
		if !ok || idx+n > f.pages {
			break
		}
		if rem := idx % align; rem != 0 {
			start = idx + align - rem
			continue
		}
		if next, ok := f.used.NextSet(idx); ok && next < idx+n {
			start = next + 1
			continue
		}
		for i := idx; i < idx+n; i++ {
			f.used.Set(i)
		}
		return f.frameAddr(idx), nil
	}
	return 0, kernerr.NoMemory
}

// Free returns a single frame to the allocator.
func (f *MemoryFile) Free(pa hostarch.PhysicalAddress) {
	f.FreeContiguous(pa, 1)
}

// FreeContiguous returns n frames starting at pa to the allocator.
//
// Freeing a frame that is not allocated is a kernel bug.
func (f *MemoryFile) FreeContiguous(pa hostarch.PhysicalAddress, n uint) {
	idx := f.frameIndex(pa)
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := idx; i < idx+n; i++ {
		if i >= f.pages || !f.used.Test(i) {
			panic(fmt.Sprintf("[KERNEL BUG] freeing unallocated frame %v", f.frameAddr(i)))
		}
		f.used.Clear(i)
	}
}

// Contains returns true if pa lies within physical memory.
func (f *MemoryFile) Contains(pa hostarch.PhysicalAddress) bool {
	return pa >= f.base && uint64(pa-f.base) < f.Size()
}

// Bytes returns the n bytes of physical memory at pa through the identity
// window. The range must lie within physical memory.
func (f *MemoryFile) Bytes(pa hostarch.PhysicalAddress, n uint64) ([]byte, error) {
	if !f.Contains(pa) {
		return nil, kernerr.InvalidArgument
	}
	off := uint64(pa - f.base)
	if n > f.Size()-off {
		return nil, kernerr.InvalidArgument
	}
	return f.mem[off : off+n : off+n], nil
}

// Zero zeroes the frame at pa.
func (f *MemoryFile) Zero(pa hostarch.PhysicalAddress) {
	b, err := f.Bytes(pa, hostarch.PageSize)
	if err != nil {
		panic(fmt.Sprintf("[KERNEL BUG] zeroing frame %v outside physical memory", pa))
	}
	clear(b)
}

// FreeFrames returns the number of unallocated frames.
func (f *MemoryFile) FreeFrames() uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages - f.used.Count()
}

// Release unmaps physical memory. No frame may be used afterwards.
func (f *MemoryFile) Release() error {
	return f.mem.Unmap()
}

func (f *MemoryFile) frameIndex(pa hostarch.PhysicalAddress) uint {
	if !pa.IsPageAligned() || !f.Contains(pa) {
		panic(fmt.Sprintf("[KERNEL BUG] %v is not a frame of this memory", pa))
	}
	return uint((pa - f.base) >> hostarch.PageShift)
}

func (f *MemoryFile) frameAddr(idx uint) hostarch.PhysicalAddress {
	return f.base + hostarch.PhysicalAddress(idx<<hostarch.PageShift)
}
