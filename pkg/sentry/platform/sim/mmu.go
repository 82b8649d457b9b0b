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

package sim

import (
	"encoding/binary"

	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/ring0/pagetables"
)

// tlbEntry is a cached leaf.
type tlbEntry struct {
	pte  pagetables.PTE
	size hostarch.LeafSize
}

// translate translates a user-mode access the way an Sv39 MMU without
// hardware A/D updates does: the leaf must be user accessible, permit at,
// and already have A set, and D set for stores.
//
// A cached leaf is used as is, without re-walking the tables, until the
// kernel fences it.
func (h *Hart) translate(va hostarch.VirtualAddress, at hostarch.AccessType) (hostarch.PhysicalAddress, bool) {
	if !canonical(va) {
		return 0, false
	}
	e, ok := h.lookupTLB(va)
	if !ok {
		e, ok = h.walk(va)
		if !ok || !permits(e.pte, at) {
			return 0, false
		}
		h.tlb[va.RoundDownTo(e.size)] = e
	}
	if !permits(e.pte, at) {
		return 0, false
	}
	return e.pte.Address() + hostarch.PhysicalAddress(uintptr(va)&(e.size.Bytes()-1)), true
}

func (h *Hart) lookupTLB(va hostarch.VirtualAddress) (tlbEntry, bool) {
	for ls := hostarch.Kilopage; ls < hostarch.NumLeafSizes; ls++ {
		if e, ok := h.tlb[va.RoundDownTo(ls)]; ok && e.size == ls {
			return e, true
		}
	}
	return tlbEntry{}, false
}

// walk reads the tables rooted at satp from physical memory.
func (h *Hart) walk(va hostarch.VirtualAddress) (tlbEntry, bool) {
	if h.satp == 0 {
		return tlbEntry{}, false
	}
	table := h.satp
	for level := hostarch.Levels - 1; level >= 0; level-- {
		pte, ok := h.m.readPTE(table.Offset(va.VPN(level) * 8))
		if !ok {
			return tlbEntry{}, false
		}
		switch pte.Kind() {
		case pagetables.NotValid:
			return tlbEntry{}, false
		case pagetables.Leaf:
			size := hostarch.LeafSizeForLevel(level)
			if !pte.Address().IsAlignedTo(size) {
				// Misaligned superpage.
				return tlbEntry{}, false
			}
			return tlbEntry{pte: pte, size: size}, true
		}
		table = pte.Address()
	}
	// A branch at the last level.
	return tlbEntry{}, false
}

// readPTE reads the entry at pa. ok is false if pa is not RAM.
func (m *Machine) readPTE(pa hostarch.PhysicalAddress) (pagetables.PTE, bool) {
	b, err := m.mf.Bytes(pa, 8)
	if err != nil {
		return 0, false
	}
	return pagetables.PTE(binary.NativeEndian.Uint64(b)), true
}

func permits(pte pagetables.PTE, at hostarch.AccessType) bool {
	switch {
	case pte&pagetables.User == 0, pte&pagetables.Accessed == 0:
		return false
	case at.Read && pte&pagetables.Readable == 0:
		return false
	case at.Write && (pte&pagetables.Writable == 0 || pte&pagetables.Dirty == 0):
		return false
	case at.Execute && pte&pagetables.Executable == 0:
		return false
	}
	return true
}

// canonical returns true if bits 63 through 39 of va equal bit 38.
func canonical(va hostarch.VirtualAddress) bool {
	top := uint64(va) >> 38
	return top == 0 || top == 1<<26-1
}
