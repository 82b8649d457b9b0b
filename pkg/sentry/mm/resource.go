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
	"tessera.dev/tessera/pkg/capability"
	"tessera.dev/tessera/pkg/hostarch"
)

// MemoryResource is a mapped region held in a capability table.
type MemoryResource struct {
	// Range is where the region is mapped in the owner's address space.
	Range hostarch.AddrRange

	// Access is the access the owner mapped the region with.
	Access hostarch.AccessType

	// Region is the memory.
	Region *MemoryRegion
}

var _ capability.Resource = (*MemoryResource)(nil)

// Describe implements capability.Resource.Describe.
func (r *MemoryResource) Describe() string {
	return fmt.Sprintf("memory %v %s (%v)", r.Range, r.Access, r.Region)
}

// Permissions returns Access in its syscall encoding.
func (r *MemoryResource) Permissions() tessera.MemoryPermissions {
	return PermissionsFromAccess(r.Access)
}

// PermissionsFromAccess encodes an access type for the syscall ABI. Read
// access is implied by every encoding.
func PermissionsFromAccess(at hostarch.AccessType) tessera.MemoryPermissions {
	p := tessera.MemRead
	if at.Write {
		p = p.Or(tessera.MemWrite)
	}
	if at.Execute {
		p = p.Or(tessera.MemExecute)
	}
	return p
}

// AccessFromPermissions decodes a syscall permission mask. ok is false if p
// has undefined bits set.
func AccessFromPermissions(p tessera.MemoryPermissions) (at hostarch.AccessType, ok bool) {
	if p&^(tessera.MemWrite|tessera.MemExecute) != 0 {
		return hostarch.AccessType{}, false
	}
	return hostarch.AccessType{
		Read:    true,
		Write:   p.Contains(tessera.MemWrite),
		Execute: p.Contains(tessera.MemExecute),
	}, true
}
