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
	"io"

	"tessera.dev/tessera/pkg/hostarch"
)

// Visitor is called for every leaf during a walk. Returning false stops the
// walk.
type Visitor func(virt hostarch.VirtualAddress, size hostarch.LeafSize, pte *PTE) bool

// Walk visits every leaf in ascending virtual address order, kernel half
// included.
//
// A branch entry in a last-level table cannot be produced by this package
// and is a fatal inconsistency.
func (p *PageTables) Walk(fn Visitor) {
	p.walkLevel(p.root, hostarch.Levels-1, [hostarch.Levels]uintptr{}, fn)
}

func (p *PageTables) walkLevel(entries *PTEs, level int, vpns [hostarch.Levels]uintptr, fn Visitor) bool {
	for i := range entries {
		pte := &entries[i]
		vpns[level] = uintptr(i)
		switch pte.Kind() {
		case NotValid:
			continue
		case Leaf:
			virt := hostarch.FromVPNs(vpns[2], vpns[1], vpns[0])
			if !fn(virt, hostarch.LeafSizeForLevel(level), pte) {
				return false
			}
		case Branch:
			if level == 0 {
				virt := hostarch.FromVPNs(vpns[2], vpns[1], vpns[0])
				panic(fmt.Sprintf("[KERNEL BUG] branch entry at the last level for %v", virt))
			}
			if !p.walkLevel(p.Allocator.LookupPTEs(pte.Address()), level-1, vpns, fn) {
				return false
			}
		}
	}
	return true
}

// Dump writes every leaf as "[G|M|K] virt => phys flags".
func (p *PageTables) Dump(w io.Writer) error {
	var err error
	p.Walk(func(virt hostarch.VirtualAddress, size hostarch.LeafSize, pte *PTE) bool {
		_, err = fmt.Fprintf(w, "[%s] %#016x => %#x %s\n", size.ShortString(), uintptr(virt), uintptr(pte.Address()), pte.flagString())
		return err == nil
	})
	return err
}
