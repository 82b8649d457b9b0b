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

// Package sim provides a simulated RV64 machine implementing
// platform.Platform.
//
// The machine has no instruction interpreter. A driver moves each hart
// through user-visible events (loads, stores, ecalls, interrupts), and the
// machine delivers the resulting traps through the same trampoline the
// kernel's stvec entry uses, with translation done by a software Sv39 walker
// over simulated physical memory.
package sim

import (
	"fmt"

	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/sentry/arch"
	"tessera.dev/tessera/pkg/sentry/pgalloc"
	"tessera.dev/tessera/pkg/sentry/platform"
	"tessera.dev/tessera/pkg/sync"
)

// TrapHandler is the supervisor trap vector. It receives the frame the
// trampoline saved on the kernel stack and returns the pc to resume at.
type TrapHandler func(h platform.Hart, frame *arch.TrapFrame, sepc, scause, stval uint64) uint64

// Config configures a Machine.
type Config struct {
	// Harts is the number of harts.
	Harts int

	// MemoryBase is the physical address of RAM.
	MemoryBase hostarch.PhysicalAddress

	// MemorySize is the size of RAM in bytes.
	MemorySize uint64

	// InterruptSources is the number of PLIC sources, including the
	// reserved source 0.
	InterruptSources int

	// KernelStackPages is the size of each hart's kernel stack.
	KernelStackPages int
}

// DefaultConfig matches a small virt board.
var DefaultConfig = Config{
	Harts:            1,
	MemoryBase:       pgalloc.DefaultBase,
	MemorySize:       32 << 20,
	InterruptSources: 64,
	KernelStackPages: 4,
}

// Machine is a simulated machine.
type Machine struct {
	// mf is RAM. Immutable.
	mf *pgalloc.MemoryFile

	// harts are indexed by hart ID. Immutable.
	harts []*Hart

	// plic is the interrupt controller. Immutable.
	plic *PLIC

	// mu protects the fields below.
	mu sync.Mutex

	// handler is the installed trap vector.
	handler TrapHandler

	// exited is set by the first Exit.
	exited bool
	status platform.ExitStatus

	// done is closed by the first Exit.
	done chan struct{}
}

var _ platform.Platform = (*Machine)(nil)

// New returns a new machine. Zero fields of c take their values from
// DefaultConfig.
func New(c Config) (*Machine, error) {
	if c.Harts == 0 {
		c.Harts = DefaultConfig.Harts
	}
	if c.MemoryBase == 0 {
		c.MemoryBase = DefaultConfig.MemoryBase
	}
	if c.MemorySize == 0 {
		c.MemorySize = DefaultConfig.MemorySize
	}
	if c.InterruptSources == 0 {
		c.InterruptSources = DefaultConfig.InterruptSources
	}
	if c.KernelStackPages == 0 {
		c.KernelStackPages = DefaultConfig.KernelStackPages
	}
	if c.Harts < 0 || c.KernelStackPages < 0 || c.InterruptSources < 2 {
		return nil, fmt.Errorf("invalid machine configuration %+v", c)
	}

	mf, err := pgalloc.New(c.MemoryBase, c.MemorySize)
	if err != nil {
		return nil, err
	}
	m := &Machine{
		mf:   mf,
		plic: NewPLIC(c.InterruptSources),
		done: make(chan struct{}),
	}
	for id := 0; id < c.Harts; id++ {
		h, err := newHart(m, id, c.KernelStackPages)
		if err != nil {
			mf.Release()
			return nil, fmt.Errorf("hart %d: %w", id, err)
		}
		m.harts = append(m.harts, h)
	}
	log.Infof("Machine: %d harts, %d MiB RAM at %v, %d interrupt sources", c.Harts, c.MemorySize>>20, c.MemoryBase, c.InterruptSources)
	return m, nil
}

// NumHarts implements platform.Platform.NumHarts.
func (m *Machine) NumHarts() int {
	return len(m.harts)
}

// Hart implements platform.Platform.Hart.
func (m *Machine) Hart(id int) platform.Hart {
	return m.harts[id]
}

// SimHart returns hart id with its simulation controls.
func (m *Machine) SimHart(id int) *Hart {
	return m.harts[id]
}

// InterruptController implements platform.Platform.InterruptController.
func (m *Machine) InterruptController() platform.InterruptController {
	return m.plic
}

// PLIC returns the interrupt controller with its device side.
func (m *Machine) PLIC() *PLIC {
	return m.plic
}

// Memory implements platform.Platform.Memory.
func (m *Machine) Memory() *pgalloc.MemoryFile {
	return m.mf
}

// SetTrapHandler installs the trap vector on every hart.
func (m *Machine) SetTrapHandler(fn TrapHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

func (m *Machine) trapHandler() TrapHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

// Exit implements platform.Platform.Exit. Only the first call has an effect.
func (m *Machine) Exit(status platform.ExitStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exited {
		return
	}
	m.exited = true
	m.status = status
	close(m.done)
	log.Infof("Machine exit: %s", status)
}

// WriteFinisher emulates a 32-bit store to the test finisher device.
func (m *Machine) WriteFinisher(w uint32) error {
	status, ok := platform.ExitStatusFromWord(w)
	if !ok {
		return fmt.Errorf("invalid finisher word %#x", w)
	}
	m.Exit(status)
	return nil
}

// Done returns a channel closed when the machine exits.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// ExitStatus returns the exit status, if the machine has exited.
func (m *Machine) ExitStatus() (platform.ExitStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.exited
}

// Release frees RAM. The machine may not be used afterwards.
func (m *Machine) Release() error {
	return m.mf.Release()
}
