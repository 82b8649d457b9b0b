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
package capability

import (
	"fmt"

	"tessera.dev/tessera/pkg/bitmap"
	"tessera.dev/tessera/pkg/errors/kernerr"
	"tessera.dev/tessera/pkg/sync"
)

// Resource is a kernel object reachable through a capability.
type Resource interface {
	// Describe returns a short description used in debug output.
	Describe() string
}

// defaultSlots is the initial table size. Tables grow on demand.
const defaultSlots = 64

type entry struct {
	resource Resource
	rights   Rights
}

// Table is the capability space of a single task.
//
// Slot 0 is permanently reserved so that NullPtr is never issued.
type Table struct {
	mu sync.Mutex

	// slots tracks which indices are in use. Protected by mu.
	slots bitmap.Bitmap

	// entries maps issued pointers to their resource. Protected by mu.
	entries map[Ptr]entry

	// closed is set once the owning task is gone. Protected by mu.
	closed bool
}

// NewTable returns an empty table.
func NewTable() *Table {
	t := &Table{
		slots:   bitmap.New(defaultSlots),
		entries: make(map[Ptr]entry),
	}
	t.slots.Add(uint32(NullPtr))
	return t
}

// Insert adds a capability for r and returns it.
func (t *Table) Insert(r Resource, rights Rights) (Capability, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.insertLocked(r, rights)
}

// +checklocks:t.mu
func (t *Table) insertLocked(r Resource, rights Rights) (Capability, error) {
	if t.closed {
		return Capability{}, kernerr.InvalidTask
	}
	idx, err := t.slots.FirstZero(0)
	if err != nil {
		idx = uint32(t.slots.Size())
		if err := t.slots.Grow(defaultSlots); err != nil {
			return Capability{}, kernerr.NoMemory
		}
	}
	t.slots.Add(idx)
	p := Ptr(idx)
	rights &= AllRights
	t.entries[p] = entry{resource: r, rights: rights}
	return Capability{Ptr: p, Rights: rights}, nil
}

// Lookup returns the resource and rights behind p.
func (t *Table) Lookup(p Ptr) (Resource, Rights, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[p]
	if !ok {
		return nil, NoRights, kernerr.InvalidCapability
	}
	return e.resource, e.rights, nil
}

// LookupWith returns the resource behind p if p carries at least want.
func (t *Table) LookupWith(p Ptr, want Rights) (Resource, error) {
	r, rights, err := t.Lookup(p)
	if err != nil {
		return nil, err
	}
	if !rights.IsSuperset(want) {
		return nil, kernerr.InsufficientRights
	}
	return r, nil
}

// Grant copies the capability at from into the table to, restricted to
// rights. The source must carry Grant and every right being granted.
// Granting into the same table is permitted.
func (t *Table) Grant(from Ptr, to *Table, rights Rights) (Capability, error) {
	if rights&^AllRights != 0 {
		return Capability{}, kernerr.InvalidArgument
	}
	t.mu.Lock()
	e, ok := t.entries[from]
	t.mu.Unlock()
	if !ok {
		return Capability{}, kernerr.InvalidCapability
	}
	if !e.rights.Contains(Grant) || !e.rights.IsSuperset(rights) {
		return Capability{}, kernerr.InsufficientRights
	}
	return to.Insert(e.resource, rights)
}

// Revoke removes p from the table and returns the resource it referred to.
func (t *Table) Revoke(p Ptr) (Resource, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[p]
	if !ok {
		return nil, kernerr.InvalidCapability
	}
	delete(t.entries, p)
	t.slots.Remove(uint32(p))
	return e.resource, nil
}

// Clear revokes every capability.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
}

// +checklocks:t.mu
func (t *Table) clearLocked() {
	clear(t.entries)
	t.slots.Reset()
	t.slots.Add(uint32(NullPtr))
}

// Close revokes every capability and makes later inserts fail with
// InvalidTask. It is called when the owning task is released.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
	t.closed = true
}

// Len returns the number of live capabilities.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Capabilities returns every live capability in index order.
func (t *Table) Capabilities() []Capability {
	t.mu.Lock()
	defer t.mu.Unlock()
	var caps []Capability
	for _, idx := range t.slots.ToSlice() {
		p := Ptr(idx)
		if e, ok := t.entries[p]; ok {
			caps = append(caps, Capability{Ptr: p, Rights: e.rights})
		}
	}
	return caps
}

// String implements fmt.Stringer.String.
func (t *Table) String() string {
	var s string
	for _, c := range t.Capabilities() {
		r, _, err := t.Lookup(c.Ptr)
		if err != nil {
			continue
		}
		s += fmt.Sprintf("%d: %s %s\n", c.Ptr, c.Rights, r.Describe())
	}
	return s
}
