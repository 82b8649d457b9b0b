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
// Package capability implements the capability model: task-local handles
// carrying a rights mask that gate every operation on a kernel resource.
package capability

import (
	"fmt"
	"strings"
)

// Rights is the permission mask of a capability.
type Rights uint8

// Capability rights.
const (
	Read    Rights = 1 << 0
	Write   Rights = 1 << 1
	Execute Rights = 1 << 2
	Grant   Rights = 1 << 3

	// NoRights is the empty mask.
	NoRights Rights = 0

	// AllRights has every defined right set.
	AllRights = Read | Write | Execute | Grant
)

// NewRights returns the rights in bits, discarding undefined bits.
func NewRights(bits uint64) Rights {
	return Rights(bits) & AllRights
}

// Value returns the raw mask.
func (r Rights) Value() uint64 {
	return uint64(r)
}

// IsSuperset returns true if every right in other is also in r.
func (r Rights) IsSuperset(other Rights) bool {
	return r|^other == ^Rights(0)
}

// Or returns the union of r and other.
func (r Rights) Or(other Rights) Rights {
	return r | other
}

// Contains reports whether r holds every right in other.
//
// Contains is NOT a set intersection. It returns a boolean and callers that
// need the common rights must compute r & other themselves.
func (r Rights) Contains(other Rights) bool {
	return r&other == other
}

// String implements fmt.Stringer.String.
func (r Rights) String() string {
	if r == NoRights {
		return "none"
	}
	var parts []string
	for _, b := range []struct {
		bit  Rights
		name string
	}{
		{Read, "read"},
		{Write, "write"},
		{Execute, "execute"},
		{Grant, "grant"},
	} {
		if r&b.bit != 0 {
			parts = append(parts, b.name)
		}
	}
	if extra := r &^ AllRights; extra != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint8(extra)))
	}
	return strings.Join(parts, "|")
}

// Ptr is an index into a task's capability table. It has no meaning outside
// the table that issued it.
type Ptr uint64

// NullPtr never refers to a capability.
const NullPtr Ptr = 0

// Value returns the raw index.
func (p Ptr) Value() uint64 {
	return uint64(p)
}

// Capability is a handle together with the rights it carries. The zero
// value is the null pointer with no rights.
type Capability struct {
	Ptr    Ptr
	Rights Rights
}

// String implements fmt.Stringer.String.
func (c Capability) String() string {
	return fmt.Sprintf("cap(%d, %s)", c.Ptr, c.Rights)
}
