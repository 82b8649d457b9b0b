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
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"tessera.dev/tessera/pkg/errors/kernerr"
	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/sentry/pgalloc"
)

const (
	pteSize = hostarch.PageSize
	pmdSize = 1 << hostarch.MegaPageShift
	pudSize = 1 << hostarch.GigaPageShift
)

var (
	readOnly  = MapOpts{AccessType: hostarch.Read, User: true}
	readWrite = MapOpts{AccessType: hostarch.ReadWrite, User: true}
)

type mapping struct {
	Start uintptr
	Size  hostarch.LeafSize
	Addr  uintptr
	Opts  MapOpts
}

func checkMappings(t *testing.T, pt *PageTables, want []mapping) {
	t.Helper()
	var found []mapping
	pt.Walk(func(virt hostarch.VirtualAddress, size hostarch.LeafSize, pte *PTE) bool {
		found = append(found, mapping{
			Start: uintptr(virt),
			Size:  size,
			Addr:  uintptr(pte.Address()),
			Opts:  pte.Opts(),
		})
		return true
	})
	if diff := cmp.Diff(want, found); diff != "" {
		t.Errorf("mappings mismatch (-want +got):\n%s", diff)
	}
}

func newTables(t *testing.T) (*PageTables, *RuntimeAllocator) {
	t.Helper()
	a := NewRuntimeAllocator()
	pt, err := New(a)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return pt, a
}

func mustMap(t *testing.T, pt *PageTables, virt uintptr, size hostarch.LeafSize, opts MapOpts, phys uintptr) {
	t.Helper()
	if err := pt.Map(hostarch.VirtualAddress(virt), size, opts, hostarch.PhysicalAddress(phys)); err != nil {
		t.Fatalf("Map(%#x, %v): %v", virt, size, err)
	}
}

func TestUnmap(t *testing.T) {
	pt, a := newTables(t)

	// Map and unmap one entry.
	mustMap(t, pt, 0x400000, hostarch.Kilopage, readWrite, pteSize*42)
	phys, size, ok := pt.Unmap(0x400000)
	if !ok || phys != pteSize*42 || size != hostarch.Kilopage {
		t.Errorf("Unmap = %v, %v, %t", phys, size, ok)
	}

	checkMappings(t, pt, nil)
	if got := a.Used(); got != 1 {
		t.Errorf("%d tables live after unmapping the only page, want just the root", got)
	}
	if _, _, ok := pt.Unmap(0x400000); ok {
		t.Errorf("second Unmap reported a mapping")
	}
}

func TestReadOnly(t *testing.T) {
	pt, _ := newTables(t)
	mustMap(t, pt, 0x400000, hostarch.Kilopage, readOnly, pteSize*42)
	checkMappings(t, pt, []mapping{
		{0x400000, hostarch.Kilopage, pteSize * 42, readOnly},
	})
}

func TestWriteImpliesRead(t *testing.T) {
	pt, _ := newTables(t)
	mustMap(t, pt, 0x400000, hostarch.Kilopage, MapOpts{AccessType: hostarch.Write}, pteSize*42)
	checkMappings(t, pt, []mapping{
		{0x400000, hostarch.Kilopage, pteSize * 42, MapOpts{AccessType: hostarch.ReadWrite}},
	})
}

func TestSerialEntries(t *testing.T) {
	pt, _ := newTables(t)
	mustMap(t, pt, 0x400000, hostarch.Kilopage, readWrite, pteSize*42)
	mustMap(t, pt, 0x401000, hostarch.Kilopage, readWrite, pteSize*47)
	checkMappings(t, pt, []mapping{
		{0x400000, hostarch.Kilopage, pteSize * 42, readWrite},
		{0x401000, hostarch.Kilopage, pteSize * 47, readWrite},
	})
}

func TestSpanningEntries(t *testing.T) {
	pt, _ := newTables(t)

	// Two pages either side of a root entry boundary.
	mustMap(t, pt, pudSize-pteSize, hostarch.Kilopage, readOnly, pteSize*42)
	mustMap(t, pt, pudSize, hostarch.Kilopage, readOnly, pteSize*43)
	checkMappings(t, pt, []mapping{
		{pudSize - pteSize, hostarch.Kilopage, pteSize * 42, readOnly},
		{pudSize, hostarch.Kilopage, pteSize * 43, readOnly},
	})
}

func TestLargePages(t *testing.T) {
	pt, _ := newTables(t)
	mustMap(t, pt, 0x400000, hostarch.Kilopage, readWrite, pteSize*42)
	// 0x400000 is 2*pmdSize, so the megapage goes further up.
	mustMap(t, pt, 4*pmdSize, hostarch.Megapage, readOnly, pmdSize*47)
	mustMap(t, pt, 3*pudSize, hostarch.Gigapage, readOnly, pudSize*5)
	checkMappings(t, pt, []mapping{
		{0x400000, hostarch.Kilopage, pteSize * 42, readWrite},
		{4 * pmdSize, hostarch.Megapage, pmdSize * 47, readOnly},
		{3 * pudSize, hostarch.Gigapage, pudSize * 5, readOnly},
	})

	phys, ok := pt.Translate(hostarch.VirtualAddress(4*pmdSize + 0x12345))
	if want := hostarch.PhysicalAddress(pmdSize*47 + 0x12345); !ok || phys != want {
		t.Errorf("Translate inside megapage = %v, %t, want %v", phys, ok, want)
	}
	if _, ok := pt.Translate(0x401000); ok {
		t.Errorf("Translate of an unmapped page succeeded")
	}
}

func TestMapConflicts(t *testing.T) {
	pt, _ := newTables(t)
	mustMap(t, pt, 0, hostarch.Megapage, readOnly, pmdSize)
	mustMap(t, pt, pmdSize, hostarch.Kilopage, readOnly, pteSize)

	for _, tc := range []struct {
		name string
		virt uintptr
		size hostarch.LeafSize
		opts MapOpts
		phys uintptr
		want error
	}{
		{"inside a megapage", 0x1000, hostarch.Kilopage, readOnly, 0, kernerr.NotAvailable},
		{"over a table", pmdSize, hostarch.Megapage, readOnly, 0, kernerr.NotAvailable},
		{"unaligned virtual", 0x1234, hostarch.Kilopage, readOnly, 0, kernerr.InvalidArgument},
		{"unaligned physical", 4 * pmdSize, hostarch.Megapage, readOnly, pteSize, kernerr.InvalidArgument},
		{"no access", 0x800000, hostarch.Kilopage, MapOpts{}, 0, kernerr.InvalidArgument},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := pt.Map(hostarch.VirtualAddress(tc.virt), tc.size, tc.opts, hostarch.PhysicalAddress(tc.phys))
			if err != tc.want {
				t.Errorf("Map = %v, want %v", err, tc.want)
			}
		})
	}

	// Remapping a leaf of the same size replaces it.
	mustMap(t, pt, 0, hostarch.Megapage, readWrite, 3*pmdSize)
	checkMappings(t, pt, []mapping{
		{0, hostarch.Megapage, 3 * pmdSize, readWrite},
		{pmdSize, hostarch.Kilopage, pteSize, readOnly},
	})
}

func TestSetFlags(t *testing.T) {
	pt, _ := newTables(t)
	mustMap(t, pt, 0x5000, hostarch.Kilopage, readOnly, pteSize*9)
	pte, size, ok := pt.Entry(0x5abc)
	if !ok || size != hostarch.Kilopage {
		t.Fatalf("Entry = %v, %v, %t", pte, size, ok)
	}
	pte.SetFlags(pte.Flags() | Accessed | Dirty)
	if pte.Address() != pteSize*9 {
		t.Errorf("SetFlags moved the entry to %v", pte.Address())
	}
	if got := pte.Flags(); got != Valid|Readable|User|Accessed|Dirty {
		t.Errorf("Flags() = %v", got)
	}
}

func TestKernelEntries(t *testing.T) {
	kernel, a := newTables(t)
	kernelOpts := MapOpts{AccessType: hostarch.ReadWrite, Global: true}
	mustMap(t, kernel, uintptr(hostarch.KernelRegionStart), hostarch.Gigapage, kernelOpts, uintptr(pgalloc.DefaultBase)&^(pudSize-1))
	mustMap(t, kernel, uintptr(hostarch.KernelRegionStart)+pudSize, hostarch.Kilopage, kernelOpts, pteSize)

	// Both hierarchies come from one allocator, so that physical addresses
	// in the shared kernel entries resolve to the kernel's tables.
	task, err := New(a)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	used := a.Used() - 1
	mustMap(t, task, 0x1000, hostarch.Kilopage, readWrite, pteSize*3)
	task.CopyKernelEntries(kernel)
	checkMappings(t, task, []mapping{
		{0x1000, hostarch.Kilopage, pteSize * 3, readWrite},
		{uintptr(hostarch.KernelRegionStart), hostarch.Gigapage, uintptr(pgalloc.DefaultBase) &^ (pudSize - 1), kernelOpts},
		{uintptr(hostarch.KernelRegionStart) + pudSize, hostarch.Kilopage, pteSize, kernelOpts},
	})

	// Releasing the task must not touch the shared kernel tables.
	task.Release()
	if got := a.Used(); got != used {
		t.Errorf("%d tables live after Release, want the kernel's %d", got, used)
	}
	if _, ok := kernel.Translate(hostarch.KernelRegionStart.Offset(pudSize)); !ok {
		t.Errorf("kernel mapping lost after releasing a task")
	}
}

func TestDump(t *testing.T) {
	pt, _ := newTables(t)
	mustMap(t, pt, 0x1000, hostarch.Kilopage, readWrite, 0x80001000)
	mustMap(t, pt, 4*pmdSize, hostarch.Megapage, MapOpts{AccessType: hostarch.ReadExec}, 0x80200000)
	var b strings.Builder
	if err := pt.Dump(&b); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	want := "[K] 0x0000000000001000 => 0x80001000 ---U-WRV\n" +
		"[M] 0x0000000000800000 => 0x80200000 ----X-RV\n"
	if diff := cmp.Diff(want, b.String()); diff != "" {
		t.Errorf("Dump mismatch (-want +got):\n%s", diff)
	}
}

func TestBranchAtLastLevelPanics(t *testing.T) {
	pt, a := newTables(t)
	mustMap(t, pt, 0x1000, hostarch.Kilopage, readOnly, pteSize)
	pte, _, _ := pt.Entry(0x1000)
	bogus, _ := a.NewPTEs()
	pte.setPageTable(a.PhysicalFor(bogus))

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("Walk did not panic")
		}
		if !strings.Contains(r.(string), "[KERNEL BUG]") {
			t.Errorf("panic %q is not a kernel bug report", r)
		}
	}()
	pt.Walk(func(hostarch.VirtualAddress, hostarch.LeafSize, *PTE) bool { return true })
}

func TestPhysicalAllocator(t *testing.T) {
	mf, err := pgalloc.New(pgalloc.DefaultBase, 16*pteSize)
	if err != nil {
		t.Fatalf("pgalloc.New: %v", err)
	}
	defer mf.Release()

	pt, err := New(NewPhysicalAllocator(mf))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !mf.Contains(pt.RootPhysical()) {
		t.Errorf("root %v is not in physical memory", pt.RootPhysical())
	}
	mustMap(t, pt, 0x1000, hostarch.Kilopage, readWrite, uintptr(pgalloc.DefaultBase)+8*pteSize)
	if got := mf.FreeFrames(); got != 13 {
		t.Errorf("FreeFrames() = %d after one mapping, want 13", got)
	}

	// The root lives in physical memory; read the entry back raw.
	b, _ := mf.Bytes(pt.RootPhysical(), 8)
	if b[0]&byte(Valid) == 0 {
		t.Errorf("root entry 0 is not valid in physical memory")
	}

	pt.Release()
	if got := mf.FreeFrames(); got != 16 {
		t.Errorf("FreeFrames() = %d after Release, want 16", got)
	}
}
