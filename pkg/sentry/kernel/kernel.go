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

// Package kernel provides an emulation of a microkernel's task and trap
// machinery.
//
// The Kernel is the single structure holding every process-wide resource:
// the console and its input queue, the interrupt controller and the ISRs
// registered with it, physical memory and the kernel page tables, the task
// set, the scheduler and the syscall table. Each resource is guarded by its
// own lock, taken for the shortest span that serves the operation.
//
// Lock order:
//
//	TaskSet.mu
//		Task.mu
//			mm.MemoryManager.mu
//
// Kernel.isrMu and console locks are leaves.
package kernel

import (
	"fmt"

	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/ring0/pagetables"
	"tessera.dev/tessera/pkg/sentry/console"
	"tessera.dev/tessera/pkg/sentry/mm"
	"tessera.dev/tessera/pkg/sentry/pgalloc"
	"tessera.dev/tessera/pkg/sentry/platform"
	"tessera.dev/tessera/pkg/sync"
)

// Config configures a Kernel.
type Config struct {
	// Platform is the machine the kernel runs on. Required.
	Platform platform.Platform

	// Syscalls is the syscall table tasks call into. Required.
	Syscalls *SyscallTable

	// Console is the console device. If nil, console output is discarded
	// and read_stdin never returns data.
	Console console.Device

	// ConsoleInterrupt is the interrupt source of the console device, or
	// zero if it does not interrupt.
	ConsoleInterrupt uint32

	// InputQueueSize is the capacity of the console input queue. Zero
	// selects console.DefaultInputQueueSize.
	InputQueueSize int

	// NewScheduler constructs the scheduler. If nil, RoundRobin is used.
	NewScheduler func(k *Kernel) Scheduler
}

// Kernel represents an emulated microkernel. It must be constructed by New.
type Kernel struct {
	// All of the following fields are immutable after New.

	platform  platform.Platform
	mf        *pgalloc.MemoryFile
	ptAlloc   pagetables.Allocator
	intc      platform.InterruptController
	syscalls  *SyscallTable
	scheduler Scheduler
	tasks     *TaskSet

	// kernelPT maps physical memory into the kernel half of every address
	// space. Only its root entries are used after New.
	kernelPT *mm.PageTableManager

	console console.Console
	input   *console.InputQueue

	isrMu sync.Mutex

	// isrs maps interrupt sources to their routines. Protected by isrMu.
	isrs map[uint32]isrEntry
}

// New constructs a Kernel: it builds the kernel page tables, attaches the
// console and registers the console interrupt.
func New(c Config) (*Kernel, error) {
	if c.Platform == nil || c.Syscalls == nil {
		return nil, fmt.Errorf("kernel config needs a platform and a syscall table")
	}
	if c.Platform.NumHarts() == 0 {
		return nil, fmt.Errorf("platform has no harts")
	}
	size := c.InputQueueSize
	if size == 0 {
		size = console.DefaultInputQueueSize
	}
	k := &Kernel{
		platform: c.Platform,
		mf:       c.Platform.Memory(),
		intc:     c.Platform.InterruptController(),
		syscalls: c.Syscalls,
		tasks:    newTaskSet(),
		input:    console.NewInputQueue(size),
		isrs:     make(map[uint32]isrEntry),
	}
	k.ptAlloc = pagetables.NewPhysicalAllocator(k.mf)

	kpt, err := mm.NewPageTableManager(k.mf, k.ptAlloc, c.Platform.Hart(0))
	if err != nil {
		return nil, fmt.Errorf("allocating kernel page tables: %w", err)
	}
	if err := mapPhysicalMemory(kpt, k.mf); err != nil {
		kpt.Release()
		return nil, err
	}
	k.kernelPT = kpt

	if c.Console != nil {
		if err := k.console.SetDevice(c.Console); err != nil {
			return nil, fmt.Errorf("initializing console: %w", err)
		}
	}
	if c.ConsoleInterrupt != 0 {
		if err := k.RegisterISR(c.ConsoleInterrupt, 0, console.ISR(&k.console, k.input)); err != nil {
			return nil, err
		}
		k.EnableInterrupt(c.ConsoleInterrupt, 1)
	}

	if c.NewScheduler != nil {
		k.scheduler = c.NewScheduler(k)
	} else {
		k.scheduler = NewRoundRobin(k)
	}
	log.Infof("Kernel: %d harts, %d syscalls, scheduler %T", c.Platform.NumHarts(), len(c.Syscalls.Table), k.scheduler)
	return k, nil
}

// KernelWindow returns the kernel virtual address of physical address pa.
func KernelWindow(pa hostarch.PhysicalAddress) hostarch.VirtualAddress {
	return hostarch.KernelRegionStart + hostarch.VirtualAddress(pa)
}

// mapPhysicalMemory maps every gigabyte of RAM into the kernel region with
// global, supervisor-only gigapages.
func mapPhysicalMemory(kpt *mm.PageTableManager, mf *pgalloc.MemoryFile) error {
	giga := hostarch.Gigapage.Bytes()
	start := uintptr(mf.Base()) &^ (giga - 1)
	end := uintptr(mf.Base()) + uintptr(mf.Size())
	opts := pagetables.MapOpts{AccessType: hostarch.ReadWrite, Global: true}
	for pa := start; pa < end; pa += giga {
		phys := hostarch.PhysicalAddress(pa)
		if err := kpt.MapDirect(phys, KernelWindow(phys), hostarch.Gigapage, opts); err != nil {
			return fmt.Errorf("mapping RAM at %v: %w", phys, err)
		}
	}
	return nil
}

// Platform returns the platform the kernel runs on.
func (k *Kernel) Platform() platform.Platform {
	return k.platform
}

// MemoryFile returns physical memory.
func (k *Kernel) MemoryFile() *pgalloc.MemoryFile {
	return k.mf
}

// KernelPageTables returns the kernel page tables.
func (k *Kernel) KernelPageTables() *mm.PageTableManager {
	return k.kernelPT
}

// TaskSet returns the kernel's tasks.
func (k *Kernel) TaskSet() *TaskSet {
	return k.tasks
}

// Scheduler returns the kernel's scheduler.
func (k *Kernel) Scheduler() Scheduler {
	return k.scheduler
}

// SyscallTable returns the table tasks call into.
func (k *Kernel) SyscallTable() *SyscallTable {
	return k.syscalls
}

// Console returns the kernel console.
func (k *Kernel) Console() *console.Console {
	return &k.console
}

// InputQueue returns the console input queue.
func (k *Kernel) InputQueue() *console.InputQueue {
	return k.input
}

// Exit powers the machine off.
func (k *Kernel) Exit(status platform.ExitStatus) {
	log.Infof("Kernel exit: %s", status)
	k.platform.Exit(status)
}

// KernelBug is the value the kernel panics with when one of its own
// invariants is broken.
type KernelBug struct {
	Message string
}

// Error implements error.Error.
func (b *KernelBug) Error() string {
	return b.Message
}

// Panic reports a broken kernel invariant: it logs the message, powers the
// machine off with a failure status and panics with a *KernelBug.
func (k *Kernel) Panic(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	log.Warningf("Kernel panic: %s", msg)
	k.platform.Exit(platform.ExitStatus{Kind: platform.ExitFail, Code: 1})
	panic(&KernelBug{Message: msg})
}

// Release frees every task and the kernel page tables. The kernel may not
// be used afterwards.
func (k *Kernel) Release() {
	for _, t := range k.tasks.Tasks() {
		t.Kill(DeathKilled)
	}
	h := k.platform.Hart(0)
	for _, t := range k.tasks.reapAll() {
		t.release(h)
	}
	h.ActivateTable(k.kernelPT.RootPhysical())
	k.kernelPT.Release()
}

// EnableInterrupt sets the priority of source id and enables it on every
// hart.
func (k *Kernel) EnableInterrupt(id uint32, priority uint8) {
	k.intc.SetPriority(id, priority)
	for hart := 0; hart < k.platform.NumHarts(); hart++ {
		k.intc.Enable(hart, id)
	}
}
