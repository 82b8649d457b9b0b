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
	"fmt"

	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/sentry/arch"
)

// Layout of the per-hart area sscratch points at.
const (
	// scratchKernelSP is the top of the hart's kernel stack.
	scratchKernelSP = 0

	// scratchKernelTP is the kernel thread pointer.
	scratchKernelTP = 8

	// scratchSavedSP holds the interrupted sp while the handler runs.
	scratchSavedSP = 16

	// scratchSavedTP holds the interrupted tp while the handler runs.
	scratchSavedTP = 24

	scratchSize = 32
)

func (h *Hart) loadScratch(off int) uint64 {
	return binary.NativeEndian.Uint64(h.scratch[off:])
}

func (h *Hart) storeScratch(off int, v uint64) {
	binary.NativeEndian.PutUint64(h.scratch[off:], v)
}

// frameAt returns the trap frame at kernel stack address sp.
func (h *Hart) frameAt(sp uint64) *arch.TrapFrame {
	b, err := h.m.mf.Bytes(hostarch.PhysicalAddress(sp), arch.TrapFrameSize)
	if err != nil {
		panic(fmt.Sprintf("hart %d: kernel stack %#x is not RAM: %v", h.id, sp, err))
	}
	return arch.FrameAt(b)
}

// trap enters the trap vector the way the stvec entry does:
//
//  1. Mask interrupts.
//  2. Park the interrupted sp and tp in the scratch area and switch to the
//     kernel sp and tp.
//  3. Push a TrapFrame holding x1-x31 (x2 and x4 as interrupted), f0-f31
//     and fcsr.
//  4. Call the handler with the frame, sepc, scause and stval, and resume
//     at the pc it returns.
//  5. Reload x1 and x3-x31 from the frame, and sp through the scratch area
//     from the frame's sp slot, so that a context switched into the frame
//     carries its own stack.
//  6. Restore the interrupt enable bit, as sret does from SPIE.
func (h *Hart) trap(scause, stval uint64) {
	handler := h.m.trapHandler()
	if handler == nil {
		panic(fmt.Sprintf("hart %d: %s with no trap vector", h.id, arch.TrapFromCause(scause)))
	}
	h.traps.Add(1)
	sepc := h.pc
	restore := h.DisableInterrupts()

	h.storeScratch(scratchSavedSP, h.x[2])
	h.storeScratch(scratchSavedTP, h.x[4])
	sp := h.loadScratch(scratchKernelSP) - arch.TrapFrameSize
	tp := h.loadScratch(scratchKernelTP)

	frame := h.frameAt(sp)
	for n := 1; n <= arch.GPRCount; n++ {
		*frame.GPR(n) = h.x[n]
	}
	for n := range arch.FPRCount {
		*frame.FPR(n) = h.f[n]
	}
	*frame.FCSR() = h.fcsr
	h.x[2], h.x[4] = sp, tp

	h.pc = handler(h, frame, sepc, scause, stval)

	for n := 1; n <= arch.GPRCount; n++ {
		if n == 2 {
			continue
		}
		h.x[n] = *frame.GPR(n)
	}
	for n := range arch.FPRCount {
		h.f[n] = *frame.FPR(n)
	}
	h.fcsr = *frame.FCSR()
	h.storeScratch(scratchSavedSP, *frame.GPR(2))
	h.x[2] = h.loadScratch(scratchSavedSP)

	restore()
}
