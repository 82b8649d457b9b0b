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


package boot

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"
	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/metric"
	"tessera.dev/tessera/pkg/sentry/arch"
	"tessera.dev/tessera/pkg/sentry/console"
	"tessera.dev/tessera/pkg/sentry/kernel"
	"tessera.dev/tessera/pkg/sentry/mm"
	"tessera.dev/tessera/pkg/sentry/platform"
	"tessera.dev/tessera/pkg/sentry/platform/sim"
	"tessera.dev/tessera/pkg/sentry/syscalls/tessera"
	"tessera.dev/tessera/pkg/sync"
	"tessera.dev/tessera/tessera/config"
)

// regA0 is the register number of a0.
const regA0 = 10

// Args are the arguments for New.
type Args struct {
	// Conf is the machine and kernel configuration. Required.
	Conf *config.Config

	// Scenario is what runs. Required.
	Scenario *Scenario

	// Output receives console output. If nil, it is discarded.
	Output io.Writer

	// Input, if set, is read as console input instead of the input steps
	// of the scenario. Each byte raises the console interrupt; external
	// steps deliver it.
	Input io.Reader
}

// Runner boots a scenario on a simulated machine.
type Runner struct {
	sc *Scenario

	// All of the following fields are immutable after New.
	machine *sim.Machine
	kernel  *kernel.Kernel
	irq     uint32
	tasks   []*kernel.Task

	// buffer is the console device if Args.Input was nil.
	buffer *console.BufferDevice

	// stream is the console device if Args.Input was set.
	stream *console.StreamDevice

	mu     sync.Mutex
	result Result
}

// Result is the outcome of a run.
type Result struct {
	// Status is the machine's exit status. Only meaningful if Exited.
	Status platform.ExitStatus
	Exited bool

	// Tasks holds the final state of every task, by ID.
	Tasks []TaskResult

	// Syscalls are the syscalls made, in order per hart.
	Syscalls []SyscallResult

	// Loads are the successful loads, in order per hart.
	Loads []LoadResult
}

// TaskResult is the final state of a task.
type TaskResult struct {
	ID     kernel.ThreadID
	Name   string
	State  kernel.TaskState
	Reason kernel.DeathReason
}

// SyscallResult is a syscall made by a task and the registers it returned
// with.
type SyscallResult struct {
	Hart int
	Task string
	No   uint64

	// Regs are a0 through a3 after the call.
	Regs [4]uint64
}

// LoadResult is the data a load step read.
type LoadResult struct {
	Hart int
	Addr hostarch.VirtualAddress
	Data []byte
}

// New creates the machine, the kernel and the tasks of a scenario.
func New(args Args) (*Runner, error) {
	conf, sc := args.Conf, args.Scenario
	mc := conf.Machine()
	if sc.Harts > 0 {
		mc.Harts = sc.Harts
	}
	for _, s := range sc.Scripts {
		if s.Hart >= mc.Harts {
			return nil, fmt.Errorf("script for hart %d, machine has %d harts", s.Hart, mc.Harts)
		}
	}
	out := args.Output
	if out == nil {
		out = io.Discard
	}

	m, err := sim.New(mc)
	if err != nil {
		return nil, fmt.Errorf("creating machine: %w", err)
	}
	r := &Runner{
		sc:      sc,
		machine: m,
		irq:     uint32(conf.ConsoleInterrupt),
	}
	var dev console.Device
	if args.Input != nil {
		r.stream = console.NewStreamDevice(args.Input, out, r.raiseConsole)
		dev = r.stream
	} else {
		r.buffer = console.NewBufferDevice(out)
		dev = r.buffer
	}
	k, err := kernel.New(kernel.Config{
		Platform:         m,
		Syscalls:         tessera.RV64,
		Console:          dev,
		ConsoleInterrupt: r.irq,
		InputQueueSize:   conf.InputQueueSize,
	})
	if err != nil {
		m.Release()
		return nil, fmt.Errorf("creating kernel: %w", err)
	}
	m.SetTrapHandler(k.HandleTrap)
	r.kernel = k

	for _, ts := range sc.Tasks {
		t, err := r.createTask(ts)
		if err != nil {
			r.Release()
			return nil, fmt.Errorf("task %q: %w", ts.Name, err)
		}
		r.tasks = append(r.tasks, t)
	}
	return r, nil
}

// createTask creates a task and maps its regions.
func (r *Runner) createTask(ts *TaskSpec) (*kernel.Task, error) {
	var frame arch.TrapFrame
	for reg, v := range ts.Registers {
		*frame.GPR(reg) = v
	}
	var c arch.Context
	c.Save(ts.PC, &frame)
	t, err := r.kernel.NewTask(kernel.TaskConfig{Name: ts.Name, Context: c})
	if err != nil {
		return nil, err
	}
	m := t.MemoryManager()
	for _, rs := range ts.Regions {
		kind, at, err := rs.resolve()
		if err != nil {
			return nil, err
		}
		addr := hostarch.VirtualAddress(rs.At)
		var ar hostarch.AddrRange
		switch {
		case rs.Reserve:
			var ok bool
			ar, ok = hostarch.RangeOf(addr, uintptr(rs.Size))
			if ok {
				err = m.Reserve(ar, kind)
			} else {
				err = fmt.Errorf("range at %v of size %#x overflows", addr, rs.Size)
			}
		case rs.Size == 0:
			ar, err = m.AllocRegionWithData(&addr, kind, at, []byte(rs.Data))
		default:
			ar, err = m.AllocRegion(&addr, uintptr(rs.Size), kind, at, rs.options())
			if err == nil && rs.Data != "" {
				err = m.CopyOut(ar.Start, []byte(rs.Data))
				if errors.As(err, new(platform.SegmentationFault)) {
					// Read-only regions are filled through their backing
					// memory.
					err = r.fill(m, ar.Start, []byte(rs.Data))
				}
			}
		}
		if err != nil {
			return nil, fmt.Errorf("region at %v: %w", addr, err)
		}
		log.Debugf("Task %v: %s region %v %s", t, kind, ar, at)
	}
	return t, nil
}

// fill copies data to the start of the region at addr regardless of its
// permissions.
func (r *Runner) fill(m *mm.MemoryManager, addr hostarch.VirtualAddress, data []byte) error {
	region, ok := m.Find(addr)
	if !ok || region.Region == nil {
		return fmt.Errorf("no region at %v", addr)
	}
	return region.Region.CopyIn(0, data)
}

// raiseConsole is called by the stream device for each input byte.
func (r *Runner) raiseConsole() {
	if r.irq != 0 {
		r.machine.PLIC().Raise(r.irq)
	}
}

// Kernel returns the kernel.
func (r *Runner) Kernel() *kernel.Kernel {
	return r.kernel
}

// Machine returns the machine.
func (r *Runner) Machine() *sim.Machine {
	return r.machine
}

// Run runs every hart script concurrently, each on its own goroutine, until
// the scripts end or the machine exits. A kernel panic stops the run with
// the *kernel.KernelBug as error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range r.sc.Scripts {
		g.Go(func() error {
			return r.runScript(ctx, s)
		})
	}
	err := g.Wait()
	if r.stream != nil {
		if ferr := r.stream.Flush(); ferr != nil && err == nil {
			err = ferr
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.result
	res.Status, res.Exited = r.machine.ExitStatus()
	for _, t := range r.tasks {
		reason, _ := t.DeathReason()
		res.Tasks = append(res.Tasks, TaskResult{
			ID:     t.ID(),
			Name:   t.Name(),
			State:  t.State(),
			Reason: reason,
		})
	}
	return &res, err
}

// runScript drives one hart.
func (r *Runner) runScript(ctx context.Context, s *Script) (err error) {
	h := r.machine.SimHart(s.Hart)
	defer func() {
		if p := recover(); p != nil {
			bug, ok := p.(*kernel.KernelBug)
			if !ok {
				panic(p)
			}
			err = fmt.Errorf("hart %d: kernel panic: %w", s.Hart, bug)
		}
	}()

	if c, ok := r.kernel.Start(h); ok {
		h.LoadContext(&c)
	}
	for i, st := range s.Steps {
		n := max(st.Repeat, 1)
		for j := 0; j < n; j++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.machine.Done():
				log.Infof("Hart %d: machine exited, stopping at step %d", s.Hart, i)
				return nil
			default:
			}
			if err := r.step(h, &st); err != nil {
				return fmt.Errorf("hart %d step %d (%s): %w", s.Hart, i, st.Op, err)
			}
		}
	}
	return nil
}

// step runs one event on h.
func (r *Runner) step(h *sim.Hart, st *Step) error {
	switch st.Op {
	case OpTimer:
		h.Timer()
		return nil
	case OpExternal:
		if st.Source != 0 {
			r.machine.PLIC().Raise(st.Source)
		}
		h.External()
		return nil
	case OpInput:
		if r.buffer == nil {
			log.Infof("Hart %d: console reads from a stream, ignoring input step", h.ID())
			return nil
		}
		r.buffer.Feed([]byte(st.Data))
		r.raiseConsole()
		h.External()
		return nil
	case OpFinisher:
		return r.machine.WriteFinisher(uint32(st.Value))
	}

	t := r.kernel.TaskSet().ActiveOnHart(h.ID())
	if t == nil {
		log.Infof("Hart %d: idle, skipping %s", h.ID(), st.Op)
		return nil
	}
	switch st.Op {
	case OpSet:
		h.SetReg(st.Reg, st.Value)
		return nil
	case OpSyscall:
		for i, a := range st.Args {
			h.SetReg(regA0+i, a)
		}
		h.Ecall()
		regs := t.Context().GPRegs
		r.record(func(res *Result) {
			res.Syscalls = append(res.Syscalls, SyscallResult{
				Hart: h.ID(),
				Task: t.Name(),
				No:   st.Args[0],
				Regs: [4]uint64{regs.A0, regs.A1, regs.A2, regs.A3},
			})
		})
		return nil
	case OpLoad:
		addr := hostarch.VirtualAddress(st.Addr)
		data, err := h.Load(addr, uintptr(st.Len))
		if err != nil {
			return accessError(h, t, err)
		}
		r.record(func(res *Result) {
			res.Loads = append(res.Loads, LoadResult{Hart: h.ID(), Addr: addr, Data: data})
		})
		return nil
	case OpStore:
		return accessError(h, t, h.Store(hostarch.VirtualAddress(st.Addr), []byte(st.Data)))
	case OpFetch:
		return accessError(h, t, h.Fetch(hostarch.VirtualAddress(st.Addr)))
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
}

// accessError logs the user access errors that end an access without ending
// the run.
func accessError(h *sim.Hart, t *kernel.Task, err error) error {
	var loop *sim.FaultLoopError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sim.ErrRescheduled):
		log.Debugf("Hart %d: task %v: access abandoned: %v", h.ID(), t, err)
		return nil
	case errors.As(err, &loop):
		log.Warningf("Hart %d: task %v: %v", h.ID(), t, err)
		return nil
	default:
		return err
	}
}

func (r *Runner) record(fn func(*Result)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.result)
}

// Dump writes the address space of every live task.
func (r *Runner) Dump(w io.Writer) error {
	for _, t := range r.tasks {
		if t.State() == kernel.TaskDead {
			continue
		}
		if _, err := fmt.Fprintf(w, "Task %v (%s):\n", t, t.State()); err != nil {
			return err
		}
		if err := t.MemoryManager().DebugDump(w); err != nil {
			return err
		}
	}
	return nil
}

// WriteMetrics writes the kernel metrics in the Prometheus text format.
func (r *Runner) WriteMetrics(w io.Writer) error {
	return metric.WritePrometheus(w)
}

// Release frees the kernel and the machine.
func (r *Runner) Release() {
	r.kernel.Release()
	if err := r.machine.Release(); err != nil {
		log.Warningf("Releasing machine: %v", err)
	}
}
