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
	"errors"
	"fmt"
	"sync/atomic"

	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/sentry/arch"
	"tessera.dev/tessera/pkg/sentry/platform"
)

// ErrRescheduled is returned by a user access when the trap it took resumed
// the hart somewhere else, typically in another task.
var ErrRescheduled = errors.New("hart resumed at a different pc")

// maxFaultRetries bounds how often one access may fault before the hart
// gives up on it.
const maxFaultRetries = 4

// FaultLoopError is returned when an access keeps faulting although the trap
// vector resumed it each time.
type FaultLoopError struct {
	Addr hostarch.VirtualAddress
	Trap arch.Trap
}

// Error implements error.Error.
func (e *FaultLoopError) Error() string {
	return fmt.Sprintf("%s at %v repeated %d times", e.Trap, e.Addr, maxFaultRetries)
}

// Hart is a simulated hart.
//
// A Hart is driven by a single goroutine: the driver calling the access and
// trap methods, and the kernel code the trap vector runs on its behalf.
type Hart struct {
	m  *Machine
	id int

	// x holds x0 through x31; x[0] is always zero.
	x [32]uint64

	// f and fcsr are the floating point registers.
	f    [32]uint64
	fcsr uint64

	// pc is the user pc.
	pc uint64

	// sie is sstatus.SIE.
	sie bool

	// satp is the active root page table.
	satp hostarch.PhysicalAddress

	// tlb caches completed translations, keyed by leaf base.
	tlb map[hostarch.VirtualAddress]tlbEntry

	// scratch is the area sscratch points at.
	scratch [scratchSize]byte

	// stackTop is the physical address of the top of the kernel stack.
	stackTop hostarch.PhysicalAddress

	// traps and fences count events for observers on other goroutines.
	traps  atomic.Uint64
	fences atomic.Uint64
}

var _ platform.Hart = (*Hart)(nil)

func newHart(m *Machine, id, stackPages int) (*Hart, error) {
	base, err := m.mf.AllocContiguous(uint(stackPages), 1)
	if err != nil {
		return nil, err
	}
	h := &Hart{
		m:        m,
		id:       id,
		sie:      true,
		tlb:      make(map[hostarch.VirtualAddress]tlbEntry),
		stackTop: base.Offset(uintptr(stackPages) * hostarch.PageSize),
	}
	h.storeScratch(scratchKernelSP, uint64(h.stackTop))
	h.storeScratch(scratchKernelTP, uint64(id))
	return h, nil
}

// ID implements platform.Hart.ID.
func (h *Hart) ID() int {
	return h.id
}

// DisableInterrupts implements platform.Hart.DisableInterrupts.
func (h *Hart) DisableInterrupts() func() {
	prev := h.sie
	h.sie = false
	return func() { h.sie = prev }
}

// InterruptsEnabled returns sstatus.SIE.
func (h *Hart) InterruptsEnabled() bool {
	return h.sie
}

// SFence implements platform.Hart.SFence.
func (h *Hart) SFence(addr *hostarch.VirtualAddress) {
	h.fences.Add(1)
	if addr == nil {
		clear(h.tlb)
		return
	}
	for ls := hostarch.Kilopage; ls < hostarch.NumLeafSizes; ls++ {
		base := addr.RoundDownTo(ls)
		if e, ok := h.tlb[base]; ok && e.size == ls {
			delete(h.tlb, base)
		}
	}
}

// ActivateTable implements platform.Hart.ActivateTable. Without address
// space identifiers a root switch drops every cached translation.
func (h *Hart) ActivateTable(root hostarch.PhysicalAddress) {
	h.satp = root
	clear(h.tlb)
}

// Satp returns the active root page table.
func (h *Hart) Satp() hostarch.PhysicalAddress {
	return h.satp
}

// Traps returns the number of traps taken.
func (h *Hart) Traps() uint64 {
	return h.traps.Load()
}

// Fences returns the number of SFence calls.
func (h *Hart) Fences() uint64 {
	return h.fences.Load()
}

// Reg returns xn.
func (h *Hart) Reg(n int) uint64 {
	return h.x[n]
}

// SetReg sets xn. Writes to x0 are discarded.
func (h *Hart) SetReg(n int, v uint64) {
	if n != 0 {
		h.x[n] = v
	}
}

// FReg returns fn.
func (h *Hart) FReg(n int) uint64 {
	return h.f[n]
}

// SetFReg sets fn.
func (h *Hart) SetFReg(n int, v uint64) {
	h.f[n] = v
}

// PC returns the user pc.
func (h *Hart) PC() uint64 {
	return h.pc
}

// SetPC sets the user pc.
func (h *Hart) SetPC(pc uint64) {
	h.pc = pc
}

// LoadContext puts c in the register file, as the return to user mode of a
// freshly scheduled task does.
func (h *Hart) LoadContext(c *arch.Context) {
	var frame arch.TrapFrame
	h.pc = c.Load(&frame)
	for n := 1; n <= arch.GPRCount; n++ {
		h.x[n] = *frame.GPR(n)
	}
	for n := range arch.FPRCount {
		h.f[n] = *frame.FPR(n)
	}
	h.fcsr = *frame.FCSR()
}

// Context returns a snapshot of the register file.
func (h *Hart) Context() arch.Context {
	var frame arch.TrapFrame
	for n := 1; n <= arch.GPRCount; n++ {
		*frame.GPR(n) = h.x[n]
	}
	for n := range arch.FPRCount {
		*frame.FPR(n) = h.f[n]
	}
	*frame.FCSR() = h.fcsr
	var c arch.Context
	c.Save(h.pc, &frame)
	return c
}

// Ecall executes an environment call from user mode.
func (h *Hart) Ecall() {
	h.trap(uint64(arch.UserModeEnvironmentCall), 0)
}

// Interrupt raises an asynchronous interrupt. It returns false, leaving the
// interrupt pending on the caller, if interrupts are disabled.
func (h *Hart) Interrupt(cause arch.Trap) bool {
	if !cause.IsInterrupt() {
		panic(fmt.Sprintf("%s is not an interrupt", cause))
	}
	if !h.sie {
		return false
	}
	h.trap(uint64(cause), 0)
	return true
}

// Timer delivers a supervisor timer interrupt.
func (h *Hart) Timer() bool {
	return h.Interrupt(arch.SupervisorTimerInterrupt)
}

// External delivers a supervisor external interrupt if the PLIC has one
// pending for this hart.
func (h *Hart) External() bool {
	if !h.m.plic.Pending(h.id) {
		return false
	}
	return h.Interrupt(arch.SupervisorExternalInterrupt)
}

// Load performs a user-mode load of n bytes at va.
func (h *Hart) Load(va hostarch.VirtualAddress, n uintptr) ([]byte, error) {
	dst := make([]byte, 0, n)
	err := h.access(va, n, hostarch.Read, func(b []byte) {
		dst = append(dst, b...)
	})
	return dst, err
}

// Store performs a user-mode store of data at va.
func (h *Hart) Store(va hostarch.VirtualAddress, data []byte) error {
	return h.access(va, uintptr(len(data)), hostarch.Write, func(b []byte) {
		n := copy(b, data)
		data = data[n:]
	})
}

// Fetch performs a user-mode instruction fetch at va.
func (h *Hart) Fetch(va hostarch.VirtualAddress) error {
	return h.access(va, 4, hostarch.Execute, func([]byte) {})
}

// access splits a user access at page boundaries and translates each piece,
// taking page faults through the trap vector.
func (h *Hart) access(va hostarch.VirtualAddress, n uintptr, at hostarch.AccessType, fn func([]byte)) error {
	for n > 0 {
		chunk := min(n, hostarch.PageSize-va.PageOffset())
		pa, err := h.translateOrFault(va, at)
		if err != nil {
			return err
		}
		b, err := h.m.mf.Bytes(pa, uint64(chunk))
		if err != nil {
			return fmt.Errorf("%s at %v: %w", accessFault(at), va, err)
		}
		fn(b)
		va += hostarch.VirtualAddress(chunk)
		n -= chunk
	}
	return nil
}

func (h *Hart) translateOrFault(va hostarch.VirtualAddress, at hostarch.AccessType) (hostarch.PhysicalAddress, error) {
	for range maxFaultRetries {
		if pa, ok := h.translate(va, at); ok {
			return pa, nil
		}
		pc := h.pc
		h.trap(uint64(pageFault(at)), uint64(va))
		if h.pc != pc {
			return 0, ErrRescheduled
		}
	}
	return 0, &FaultLoopError{Addr: va, Trap: pageFault(at)}
}

func pageFault(at hostarch.AccessType) arch.Trap {
	switch {
	case at.Write:
		return arch.StorePageFault
	case at.Execute:
		return arch.InstructionPageFault
	default:
		return arch.LoadPageFault
	}
}

func accessFault(at hostarch.AccessType) arch.Trap {
	switch {
	case at.Write:
		return arch.StoreAccessFault
	case at.Execute:
		return arch.InstructionAccessFault
	default:
		return arch.LoadAccessFault
	}
}
