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

// MemoryPermissions is the permission word exchanged with userspace by the
// memory syscalls.
//
// READ is the zero value: every mapping is readable, so "READ" only names
// the base permission. Contains therefore reports true for READ on any
// value.
type MemoryPermissions uintptr

// Memory permission bits.
const (
	MemRead    MemoryPermissions = 0
	MemWrite   MemoryPermissions = 1
	MemExecute MemoryPermissions = 2
)

// Or returns the union of p and other.
func (p MemoryPermissions) Or(other MemoryPermissions) MemoryPermissions {
	return p | other
}

// Contains reports whether every bit of other is set in p. Note that this
// is not a set intersection: the result is a boolean.
func (p MemoryPermissions) Contains(other MemoryPermissions) bool {
	return p&other == other
}

// AllocationOptions are flags for SysAllocVirtualMemory.
type AllocationOptions uintptr

// Allocation options.
const (
	AllocNone              AllocationOptions = 0
	AllocLargePage         AllocationOptions = 1 << 0
	AllocZero              AllocationOptions = 1 << 1
	AllocZeroOnDrop        AllocationOptions = 1 << 2
	AllocLazy              AllocationOptions = 1 << 3
	AllocJobGroupAvailable AllocationOptions = 1 << 4

	allocAll = AllocLargePage | AllocZero | AllocZeroOnDrop | AllocLazy | AllocJobGroupAvailable
)

// Contains reports whether every bit of other is set in o.
func (o AllocationOptions) Contains(other AllocationOptions) bool {
	return o&other == other
}

// Valid reports whether o only carries defined bits.
func (o AllocationOptions) Valid() bool {
	return o&^allocAll == 0
}

// DmaAllocationOptions are flags for SysAllocDmaMemory.
type DmaAllocationOptions uintptr

// DMA allocation options.
const (
	DmaNone DmaAllocationOptions = 0
	DmaZero DmaAllocationOptions = 1 << 1
)

// Contains reports whether every bit of other is set in o.
func (o DmaAllocationOptions) Contains(other DmaAllocationOptions) bool {
	return o&other == other
}

// Valid reports whether o only carries defined bits.
func (o DmaAllocationOptions) Valid() bool {
	return o&^DmaZero == 0
}
