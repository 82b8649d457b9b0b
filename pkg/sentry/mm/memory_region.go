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

	"tessera.dev/tessera/pkg/abi/tessera"
	"tessera.dev/tessera/pkg/errors/kernerr"
	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/refs"
	"tessera.dev/tessera/pkg/sentry/pgalloc"
	"tessera.dev/tessera/pkg/sentry/platform"
)

// RegionKind is how a MemoryRegion obtains its frames.
type RegionKind int

const (
	// Backed regions own individually allocated leaves.
	Backed RegionKind = iota

	// Dma regions own one physically contiguous run of frames.
	Dma

	// Reserved regions have no frames. They occupy address space only,
	// as guard pages do.
	Reserved
)

// String implements fmt.Stringer.String.
func (k RegionKind) String() string {
	switch k {
	case Backed:
		return "backed"
	case Dma:
		return "dma"
	case Reserved:
		return "reserved"
	default:
		return fmt.Sprintf("RegionKind(%d)", int(k))
	}
}

// MemoryRegion is physical memory that backs an occupied address region.
//
// A MemoryRegion is reference counted: each address space it is mapped into
// holds a reference, and the frames are freed when the last one is dropped.
type MemoryRegion struct {
	refs.AtomicRefCount

	mf *pgalloc.MemoryFile

	// kind is immutable.
	kind RegionKind

	// leafSize is the size of each entry of leaves. Immutable.
	leafSize hostarch.LeafSize

	// leaves holds the physical address of each leaf, in virtual order.
	// Immutable.
	leaves []hostarch.PhysicalAddress

	// size is the length in bytes. Immutable.
	size uintptr

	// zeroOnDrop zeroes every frame before it is freed.
	zeroOnDrop bool
}

// NewMemoryRegion allocates size bytes as leaves of the given size. size must
// be a non-zero multiple of the leaf size.
func NewMemoryRegion(mf *pgalloc.MemoryFile, size uintptr, ls hostarch.LeafSize, opts tessera.AllocationOptions) (*MemoryRegion, error) {
	if size == 0 || ls >= hostarch.NumLeafSizes || size%ls.Bytes() != 0 || !opts.Valid() {
		return nil, kernerr.InvalidArgument
	}
	r := &MemoryRegion{
		mf:         mf,
		kind:       Backed,
		leafSize:   ls,
		leaves:     make([]hostarch.PhysicalAddress, 0, size/ls.Bytes()),
		size:       size,
		zeroOnDrop: opts.Contains(tessera.AllocZeroOnDrop),
	}
	frames := uint(ls.Bytes() / hostarch.PageSize)
	for n := size / ls.Bytes(); n > 0; n-- {
		pa, err := mf.AllocContiguous(frames, frames)
		if err != nil {
			r.free()
			return nil, err
		}
		r.leaves = append(r.leaves, pa)
	}
	if opts.Contains(tessera.AllocZero) {
		r.zero()
	}
	return r, nil
}

// NewDmaRegion allocates size bytes of physically contiguous memory. size
// must be a non-zero multiple of the page size.
func NewDmaRegion(mf *pgalloc.MemoryFile, size uintptr, opts tessera.DmaAllocationOptions) (*MemoryRegion, error) {
	if size == 0 || size%hostarch.PageSize != 0 || !opts.Valid() {
		return nil, kernerr.InvalidArgument
	}
	n := uint(size / hostarch.PageSize)
	base, err := mf.AllocContiguous(n, 1)
	if err != nil {
		return nil, err
	}
	r := &MemoryRegion{
		mf:       mf,
		kind:     Dma,
		leafSize: hostarch.Kilopage,
		leaves:   make([]hostarch.PhysicalAddress, n),
		size:     size,
	}
	for i := range r.leaves {
		r.leaves[i] = base.Offset(uintptr(i) * hostarch.PageSize)
	}
	if opts.Contains(tessera.DmaZero) {
		r.zero()
	}
	return r, nil
}

// NewReservedRegion returns a region of size bytes with no memory behind it.
func NewReservedRegion(size uintptr) *MemoryRegion {
	return &MemoryRegion{kind: Reserved, leafSize: hostarch.Kilopage, size: size}
}

// Kind returns how the region obtains its frames.
func (r *MemoryRegion) Kind() RegionKind {
	return r.kind
}

// Size returns the length of the region in bytes.
func (r *MemoryRegion) Size() uintptr {
	return r.size
}

// LeafSize returns the mapping granularity of the region.
func (r *MemoryRegion) LeafSize() hostarch.LeafSize {
	return r.leafSize
}

// Leaves returns the physical address of each leaf. The caller must not
// modify the returned slice.
func (r *MemoryRegion) Leaves() []hostarch.PhysicalAddress {
	return r.leaves
}

// PhysicalRange returns the physical memory of a Dma region.
func (r *MemoryRegion) PhysicalRange() (platform.PhysicalRange, bool) {
	if r.kind != Dma {
		return platform.PhysicalRange{}, false
	}
	return platform.PhysicalRange{Start: r.leaves[0], End: r.leaves[0].Offset(r.size)}, true
}

// DecRef drops a reference, freeing the frames with the last one.
func (r *MemoryRegion) DecRef() {
	r.DecRefWithDestructor(r.free)
}

// CopyIn copies data into the region starting at byte offset off.
func (r *MemoryRegion) CopyIn(off uintptr, data []byte) error {
	return r.forEachLeaf(off, uintptr(len(data)), func(b []byte) {
		n := copy(b, data)
		data = data[n:]
	})
}

func (r *MemoryRegion) forEachLeaf(off, length uintptr, fn func([]byte)) error {
	if off > r.size || length > r.size-off {
		return kernerr.InvalidArgument
	}
	leafBytes := r.leafSize.Bytes()
	for length > 0 {
		idx, within := off/leafBytes, off%leafBytes
		n := min(leafBytes-within, length)
		b, err := r.mf.Bytes(r.leaves[idx].Offset(within), uint64(n))
		if err != nil {
			return err
		}
		fn(b)
		off += n
		length -= n
	}
	return nil
}

func (r *MemoryRegion) zero() {
	for _, pa := range r.leaves {
		for off := uintptr(0); off < r.leafSize.Bytes(); off += hostarch.PageSize {
			r.mf.Zero(pa.Offset(off))
		}
	}
}

func (r *MemoryRegion) free() {
	if r.zeroOnDrop {
		r.zero()
	}
	switch r.kind {
	case Dma:
		if len(r.leaves) > 0 {
			r.mf.FreeContiguous(r.leaves[0], uint(len(r.leaves)))
		}
	case Backed:
		frames := uint(r.leafSize.Bytes() / hostarch.PageSize)
		for _, pa := range r.leaves {
			r.mf.FreeContiguous(pa, frames)
		}
	}
	r.leaves = nil
}

// String implements fmt.Stringer.String.
func (r *MemoryRegion) String() string {
	s := fmt.Sprintf("%s %dx%s", r.kind, len(r.leaves), r.leafSize.ShortString())
	if r.kind == Dma {
		pr, _ := r.PhysicalRange()
		s += " " + pr.String()
	}
	return s
}
