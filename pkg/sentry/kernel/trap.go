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

package kernel

import (
	"time"

	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/sentry/arch"
	"tessera.dev/tessera/pkg/sentry/platform"
)

// ecallSize is the length of the ecall instruction.
const ecallSize = 4

// isrLog reports ISR failures, at most about once a second.
var isrLog = log.BasicRateLimitedLogger(time.Second)

// HandleTrap is the trap dispatcher. The trap vector calls it with
// interrupts disabled and the interrupted registers saved in frame. It
// returns the pc to resume at, with frame holding the registers to resume
// with.
func (k *Kernel) HandleTrap(h platform.Hart, frame *arch.TrapFrame, sepc, scause, stval uint64) uint64 {
	trap := arch.TrapFromCause(scause)
	trapCount.Increment(trap.String())

	switch {
	case trap == arch.SupervisorTimerInterrupt:
		if t := k.tasks.ActiveOnHart(h.ID()); t != nil {
			t.mu.Lock()
			t.context.Save(sepc, frame)
			t.mu.Unlock()
		}
		return k.scheduler.Schedule(h, frame)

	case trap == arch.UserModeEnvironmentCall:
		t := k.activeTask(h, trap, sepc)
		k.executeSyscall(t, &frame.Registers)
		t.mu.Lock()
		t.context.Save(sepc+ecallSize, frame)
		t.mu.Unlock()
		return k.scheduler.Schedule(h, frame)

	case trap == arch.SupervisorExternalInterrupt:
		k.handleExternalInterrupt(h)
		return sepc

	case trap.IsPageFault():
		return k.handlePageFault(h, frame, trap, sepc, hostarch.VirtualAddress(stval))

	default:
		k.Panic("Ignoring trap: %s, sepc: %#x, stval: %#x", trap, sepc, stval)
		panic("unreachable")
	}
}

// activeTask returns the task running on h. A trap that can only come from
// a task, taken while none is running, is a kernel bug.
func (k *Kernel) activeTask(h platform.Hart, trap arch.Trap, sepc uint64) *Task {
	t := k.tasks.ActiveOnHart(h.ID())
	if t == nil {
		k.Panic("[KERNEL BUG] %s on hart %d with no active task, sepc: %#x", trap, h.ID(), sepc)
	}
	return t
}

// handleExternalInterrupt claims the pending interrupt for h, runs its ISR
// and completes it. ISR failures are logged; the claim is completed either
// way.
func (k *Kernel) handleExternalInterrupt(h platform.Hart) {
	id, ok := k.intc.Claim(h.ID())
	if !ok {
		return
	}
	if fn, private, ok := k.ISREntry(id); ok {
		if err := fn(id, private); err != nil {
			isrLog.Warningf("Hart %d: ISR for interrupt %d: %v", h.ID(), id, err)
		}
	} else {
		isrLog.Warningf("Hart %d: no ISR for interrupt %d", h.ID(), id)
	}
	k.intc.Complete(h.ID(), id)
}

// handlePageFault records the access on the faulting page and resumes the
// faulting instruction. A fault on a page the task cannot access kills the
// task.
func (k *Kernel) handlePageFault(h platform.Hart, frame *arch.TrapFrame, trap arch.Trap, sepc uint64, addr hostarch.VirtualAddress) uint64 {
	if addr.IsKernelRegion() {
		k.Panic("[KERNEL BUG] %s in the kernel region at %v, sepc: %#x", trap, addr, sepc)
	}
	t := k.activeTask(h, trap, sepc)
	if t.mm.ModifyPageFlags(addr, faultAccess(trap)) {
		return sepc
	}

	log.Warningf("Task %v: %s at %v, sepc: %#x", t, trap, addr, sepc)
	t.mu.Lock()
	t.context.Save(sepc, frame)
	t.killLocked(DeathPageFault)
	t.mu.Unlock()
	return k.scheduler.Schedule(h, frame)
}

// faultAccess returns the access a page fault was taken for.
func faultAccess(trap arch.Trap) hostarch.AccessType {
	switch trap {
	case arch.StorePageFault:
		return hostarch.Write
	case arch.InstructionPageFault:
		return hostarch.Execute
	default:
		return hostarch.Read
	}
}
