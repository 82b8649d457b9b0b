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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/ring0/pagetables"
	"tessera.dev/tessera/pkg/sentry/arch"
	"tessera.dev/tessera/pkg/sentry/platform"
)

func newTestMachine(t *testing.T, harts int) *Machine {
	t.Helper()
	m, err := New(Config{Harts: harts, MemorySize: 4 << 20})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Release() })
	return m
}

type trapRecord struct {
	Sepc, Scause, Stval uint64
	Masked              bool
}

func TestTrampolineSavesAndRestores(t *testing.T) {
	m := newTestMachine(t, 1)
	h := m.SimHart(0)
	for n := 1; n <= arch.GPRCount; n++ {
		h.SetReg(n, 0x1000+uint64(n))
	}
	for n := range arch.FPRCount {
		h.SetFReg(n, 0x2000+uint64(n))
	}
	h.SetReg(0, 42)
	h.SetPC(0x4000)

	var got []trapRecord
	kernelSP := uint64(h.stackTop) - arch.TrapFrameSize
	m.SetTrapHandler(func(ph platform.Hart, frame *arch.TrapFrame, sepc, scause, stval uint64) uint64 {
		got = append(got, trapRecord{sepc, scause, stval, !h.InterruptsEnabled()})
		if ph != platform.Hart(h) {
			t.Errorf("handler called for %v, want %v", ph, h)
		}
		if h.Reg(2) != kernelSP || h.Reg(4) != 0 {
			t.Errorf("handler runs with sp %#x tp %d, want %#x 0", h.Reg(2), h.Reg(4), kernelSP)
		}

		// The frame sits at the kernel sp with the fixed layout.
		raw, err := m.mf.Bytes(hostarch.PhysicalAddress(kernelSP), arch.TrapFrameSize)
		if err != nil {
			t.Fatalf("Bytes: %v", err)
		}
		for n := 1; n <= arch.GPRCount; n++ {
			if v := binary.NativeEndian.Uint64(raw[arch.GPROffset(n):]); v != 0x1000+uint64(n) {
				t.Errorf("frame %s = %#x, want %#x", arch.GPRName(n), v, 0x1000+uint64(n))
			}
		}
		if v := binary.NativeEndian.Uint64(raw[arch.FPROffset(31):]); v != 0x2000+31 {
			t.Errorf("frame f31 = %#x", v)
		}
		if frame.Registers.A0 != 0x1000+10 {
			t.Errorf("frame.Registers.A0 = %#x", frame.Registers.A0)
		}

		frame.Registers.A0 = 7
		frame.Registers.SP = 0x9000
		frame.FPRegisters.F[1] = 0x77
		return sepc + 4
	})

	h.Ecall()

	want := []trapRecord{{Sepc: 0x4000, Scause: uint64(arch.UserModeEnvironmentCall), Masked: true}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("traps (-want +got):\n%s", diff)
	}
	if h.PC() != 0x4004 {
		t.Errorf("pc = %#x, want 0x4004", h.PC())
	}
	if h.Reg(10) != 7 || h.Reg(2) != 0x9000 || h.FReg(1) != 0x77 {
		t.Errorf("a0 %#x sp %#x f1 %#x after return, want 7 0x9000 0x77", h.Reg(10), h.Reg(2), h.FReg(1))
	}
	if h.Reg(0) != 0 || h.Reg(4) != 0x1004 || h.Reg(31) != 0x1000+31 {
		t.Errorf("x0 %#x tp %#x t6 %#x after return", h.Reg(0), h.Reg(4), h.Reg(31))
	}
	if !h.InterruptsEnabled() {
		t.Errorf("interrupts still disabled after return")
	}
	if h.loadScratch(scratchKernelSP) != uint64(h.stackTop) {
		t.Errorf("kernel sp in scratch clobbered")
	}
	if h.Traps() != 1 {
		t.Errorf("Traps() = %d, want 1", h.Traps())
	}
}

func TestContextRoundTrip(t *testing.T) {
	m := newTestMachine(t, 1)
	h := m.SimHart(0)
	c := arch.Context{PC: 0x1234}
	c.GPRegs.SP = 0x8000
	c.GPRegs.A7 = 3
	c.FPRegs.F[5] = 5
	c.FPRegs.FCSR = 1
	h.LoadContext(&c)
	if h.Reg(2) != 0x8000 || h.Reg(17) != 3 || h.FReg(5) != 5 || h.PC() != 0x1234 {
		t.Errorf("register file does not hold the context")
	}
	if diff := cmp.Diff(c, h.Context()); diff != "" {
		t.Errorf("Context() (-want +got):\n%s", diff)
	}
}

func TestInterruptsMasked(t *testing.T) {
	m := newTestMachine(t, 1)
	h := m.SimHart(0)
	m.SetTrapHandler(func(_ platform.Hart, _ *arch.TrapFrame, sepc, _, _ uint64) uint64 { return sepc })

	restore := h.DisableInterrupts()
	inner := h.DisableInterrupts()
	inner()
	if h.Timer() {
		t.Errorf("timer delivered with interrupts disabled")
	}
	restore()
	if !h.Timer() {
		t.Errorf("timer not delivered with interrupts enabled")
	}
	if h.External() {
		t.Errorf("external interrupt delivered with nothing pending")
	}
}

// testTables builds user page tables in machine memory and activates them.
func testTables(t *testing.T, m *Machine, h *Hart) *pagetables.PageTables {
	t.Helper()
	pt, err := pagetables.New(pagetables.NewPhysicalAllocator(m.mf))
	if err != nil {
		t.Fatalf("pagetables.New: %v", err)
	}
	h.ActivateTable(pt.RootPhysical())
	return pt
}

func TestPageFaultsSetAccessedAndDirty(t *testing.T) {
	m := newTestMachine(t, 1)
	h := m.SimHart(0)
	pt := testTables(t, m, h)
	pa, err := m.mf.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	const va = hostarch.VirtualAddress(0x10000)
	if err := pt.Map(va, hostarch.Kilopage, pagetables.MapOpts{AccessType: hostarch.ReadWrite, User: true}, pa); err != nil {
		t.Fatalf("Map: %v", err)
	}

	var causes []arch.Trap
	fence := true
	m.SetTrapHandler(func(ph platform.Hart, _ *arch.TrapFrame, sepc, scause, stval uint64) uint64 {
		trap := arch.TrapFromCause(scause)
		causes = append(causes, trap)
		pte, _, ok := pt.Entry(hostarch.VirtualAddress(stval))
		if !ok {
			t.Fatalf("fault at unmapped %#x", stval)
		}
		flags := pte.Flags() | pagetables.Accessed
		if trap == arch.StorePageFault {
			flags |= pagetables.Dirty
		}
		pte.SetFlags(flags)
		if fence {
			addr := hostarch.VirtualAddress(stval)
			ph.SFence(&addr)
		}
		return sepc
	})

	if err := h.Store(va+8, []byte("written")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, err := h.Load(va+8, 7)
	if err != nil || string(got) != "written" {
		t.Fatalf("Load = %q, %v", got, err)
	}
	// One fault sets both bits.
	if diff := cmp.Diff([]arch.Trap{arch.StorePageFault}, causes); diff != "" {
		t.Errorf("faults (-want +got):\n%s", diff)
	}

	// Fetch from a non-executable page faults until the retry limit.
	fence = false
	causes = nil
	var loop *FaultLoopError
	if err := h.Fetch(va); !errors.As(err, &loop) || loop.Trap != arch.InstructionPageFault {
		t.Errorf("Fetch from a data page = %v", err)
	}
	if len(causes) != maxFaultRetries {
		t.Errorf("took %d faults, want %d", len(causes), maxFaultRetries)
	}
}

func TestStaleTranslationNeedsFence(t *testing.T) {
	m := newTestMachine(t, 1)
	h := m.SimHart(0)
	pt := testTables(t, m, h)
	pa, err := m.mf.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	const va = hostarch.VirtualAddress(0x20000)
	if err := pt.Map(va, hostarch.Kilopage, pagetables.MapOpts{AccessType: hostarch.ReadWrite, User: true}, pa); err != nil {
		t.Fatalf("Map: %v", err)
	}
	pte, _, _ := pt.Entry(va)
	pte.SetFlags(pte.Flags() | pagetables.Accessed)

	faults := 0
	m.SetTrapHandler(func(ph platform.Hart, _ *arch.TrapFrame, sepc, _, stval uint64) uint64 {
		faults++
		pte.SetFlags(pte.Flags() | pagetables.Dirty)
		if faults == 2 {
			addr := hostarch.VirtualAddress(stval)
			ph.SFence(&addr)
		}
		return sepc
	})

	// Cache the clean translation.
	if _, err := h.Load(va, 1); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := h.Store(va, []byte{1}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if faults != 2 {
		t.Errorf("store took %d faults, want 2", faults)
	}
}

func TestRescheduledAccess(t *testing.T) {
	m := newTestMachine(t, 1)
	h := m.SimHart(0)
	testTables(t, m, h)
	h.SetPC(0x1000)
	m.SetTrapHandler(func(_ platform.Hart, _ *arch.TrapFrame, _, _, _ uint64) uint64 { return 0x5000 })
	if _, err := h.Load(0x30000, 8); err != ErrRescheduled {
		t.Errorf("Load from an unmapped page = %v, want %v", err, ErrRescheduled)
	}
	if h.PC() != 0x5000 {
		t.Errorf("pc = %#x, want 0x5000", h.PC())
	}
}

func TestTranslateSuperpageAndCanonical(t *testing.T) {
	m := newTestMachine(t, 1)
	h := m.SimHart(0)
	pt := testTables(t, m, h)
	opts := pagetables.MapOpts{AccessType: hostarch.Read, User: true}
	if err := pt.Map(0x4000_0000, hostarch.Gigapage, opts, 0); err != nil {
		t.Fatalf("Map: %v", err)
	}
	pte, _, _ := pt.Entry(0x4000_0000)
	pte.SetFlags(pte.Flags() | pagetables.Accessed)

	if pa, ok := h.translate(0x4012_3456, hostarch.Read); !ok || pa != 0x12_3456 {
		t.Errorf("translate in gigapage = %#x, %t", pa, ok)
	}
	if _, ok := h.translate(0x4000_0000, hostarch.Write); ok {
		t.Errorf("write through a read-only gigapage translated")
	}
	if _, ok := h.translate(0x0000_8000_0000_0000, hostarch.Read); ok {
		t.Errorf("non-canonical address translated")
	}
	if !canonical(hostarch.KernelRegionStart) {
		t.Errorf("kernel region start is not canonical")
	}
}

func TestPLIC(t *testing.T) {
	p := NewPLIC(16)
	if _, ok := p.Claim(0); ok {
		t.Fatalf("Claim with nothing enabled succeeded")
	}
	for _, id := range []uint32{3, 5, 9} {
		p.Enable(0, id)
	}
	p.SetPriority(3, 1)
	p.SetPriority(5, 6)
	p.SetPriority(9, 200)
	p.Enable(1, 3)

	for _, id := range []uint32{3, 5, 9, 11} {
		p.Raise(id)
	}
	p.Raise(0)
	p.Raise(16)

	var order []uint32
	for {
		id, ok := p.Claim(0)
		if !ok {
			break
		}
		order = append(order, id)
	}
	// 9 is clamped to the maximum; 11 is not enabled.
	if diff := cmp.Diff([]uint32{9, 5, 3}, order); diff != "" {
		t.Errorf("claim order (-want +got):\n%s", diff)
	}

	// A claimed source is not redelivered until completed.
	p.Raise(3)
	if p.Pending(1) {
		t.Errorf("claimed source pending for hart 1")
	}
	p.Complete(1, 3)
	if id, ok := p.Claim(1); !ok || id != 3 {
		t.Errorf("Claim(1) = %d, %t; want 3, true", id, ok)
	}

	// Priority zero disables a source.
	p.SetPriority(5, 0)
	p.Complete(0, 5)
	p.Raise(5)
	if _, ok := p.Claim(0); ok {
		t.Errorf("claimed a source with priority zero")
	}
	if Context(0) != 1 || Context(2) != 5 {
		t.Errorf("Context(0), Context(2) = %d, %d; want 1, 5", Context(0), Context(2))
	}
}

func TestExternalInterrupt(t *testing.T) {
	m := newTestMachine(t, 2)
	var claimed []uint32
	m.SetTrapHandler(func(ph platform.Hart, _ *arch.TrapFrame, sepc, _, _ uint64) uint64 {
		ic := m.InterruptController()
		if id, ok := ic.Claim(ph.ID()); ok {
			claimed = append(claimed, id)
			ic.Complete(ph.ID(), id)
		}
		return sepc
	})
	m.PLIC().Enable(1, 10)
	m.PLIC().SetPriority(10, 1)
	m.PLIC().Raise(10)
	if m.SimHart(0).External() {
		t.Errorf("hart 0 took an interrupt routed to hart 1")
	}
	if !m.SimHart(1).External() {
		t.Errorf("hart 1 did not take its interrupt")
	}
	if diff := cmp.Diff([]uint32{10}, claimed); diff != "" {
		t.Errorf("claimed (-want +got):\n%s", diff)
	}
}

func TestFinisher(t *testing.T) {
	m := newTestMachine(t, 1)
	if _, ok := m.ExitStatus(); ok {
		t.Fatalf("fresh machine has exited")
	}
	if err := m.WriteFinisher(0x1234); err == nil {
		t.Errorf("WriteFinisher accepted an invalid word")
	}
	if err := m.WriteFinisher(platform.ExitStatus{Kind: platform.ExitFail, Code: 3}.Word()); err != nil {
		t.Fatalf("WriteFinisher: %v", err)
	}
	m.Exit(platform.ExitStatus{Kind: platform.ExitPass})
	select {
	case <-m.Done():
	default:
		t.Fatalf("Done not closed")
	}
	want := platform.ExitStatus{Kind: platform.ExitFail, Code: 3}
	if got, ok := m.ExitStatus(); !ok || got != want {
		t.Errorf("ExitStatus() = %v, %t; want %v", got, ok, want)
	}
}
