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
	"fmt"

	"tessera.dev/tessera/pkg/capability"
	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/sentry/arch"
	"tessera.dev/tessera/pkg/sentry/mm"
	"tessera.dev/tessera/pkg/sentry/platform"
	"tessera.dev/tessera/pkg/sync"
)

// ThreadID is a task identifier. IDs are never reused within a kernel.
type ThreadID int32

// TaskState is the scheduling state of a task.
type TaskState int

// Task states.
const (
	// TaskReady tasks are waiting for a hart.
	TaskReady TaskState = iota

	// TaskRunning tasks are active on exactly one hart.
	TaskRunning

	// TaskBlocked tasks are not eligible to run until woken.
	TaskBlocked

	// TaskDead tasks never run again. Their resources are released once no
	// hart has them active.
	TaskDead
)

// String implements fmt.Stringer.String.
func (s TaskState) String() string {
	switch s {
	case TaskReady:
		return "Ready"
	case TaskRunning:
		return "Running"
	case TaskBlocked:
		return "Blocked"
	case TaskDead:
		return "Dead"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// DeathReason records why a task died.
type DeathReason string

// Death reasons.
const (
	DeathExit           DeathReason = "exit"
	DeathInvalidSyscall DeathReason = "invalid_syscall"
	DeathBadMemory      DeathReason = "bad_memory"
	DeathPageFault      DeathReason = "page_fault"
	DeathKilled         DeathReason = "killed"
)

var deathReasons = []string{
	string(DeathExit),
	string(DeathInvalidSyscall),
	string(DeathBadMemory),
	string(DeathPageFault),
	string(DeathKilled),
}

// Task represents a thread of execution with its own address space and
// capability space.
type Task struct {
	k *Kernel

	// id and name are immutable.
	id   ThreadID
	name string

	// mm is the task's address space. The pointer is immutable; the
	// MemoryManager synchronizes itself.
	mm *mm.MemoryManager

	// caps is the task's capability space. The pointer is immutable; the
	// Table synchronizes itself.
	caps *capability.Table

	// mu protects the fields below. While a hart handles a trap for the
	// task it holds mu, so no two harts mutate the task at once.
	mu sync.Mutex

	// state is the scheduling state.
	state TaskState

	// reason is why the task died. Only meaningful if state is TaskDead.
	reason DeathReason

	// context is the saved user state, valid while the task is not running
	// on a hart.
	context arch.Context
}

// TaskConfig defines the configuration of a new Task.
type TaskConfig struct {
	// Name is used in logs.
	Name string

	// Context is the initial user state.
	Context arch.Context

	// Hart is the hart the task's page tables are built on. If nil, hart 0
	// is used.
	Hart platform.Hart
}

// NewTask creates a Ready task with an empty address space that shares the
// kernel half of the kernel page tables.
func (k *Kernel) NewTask(cfg TaskConfig) (*Task, error) {
	h := cfg.Hart
	if h == nil {
		h = k.platform.Hart(0)
	}
	m, err := mm.NewMemoryManager(k.mf, k.ptAlloc, k.kernelPT, h)
	if err != nil {
		return nil, fmt.Errorf("creating address space for %q: %w", cfg.Name, err)
	}
	t := &Task{
		k:       k,
		name:    cfg.Name,
		mm:      m,
		caps:    capability.NewTable(),
		state:   TaskReady,
		context: cfg.Context,
	}
	k.tasks.add(t)
	log.Infof("Task %d %q created", t.id, t.name)
	return t, nil
}

// ID returns the task ID.
func (t *Task) ID() ThreadID {
	return t.id
}

// Name returns the task name.
func (t *Task) Name() string {
	return t.name
}

// Kernel returns the kernel the task belongs to.
func (t *Task) Kernel() *Kernel {
	return t.k
}

// MemoryManager returns the task's address space.
func (t *Task) MemoryManager() *mm.MemoryManager {
	return t.mm
}

// Capabilities returns the task's capability space.
func (t *Task) Capabilities() *capability.Table {
	return t.caps
}

// State returns the task's scheduling state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// DeathReason returns why the task died, if it has.
func (t *Task) DeathReason() (DeathReason, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason, t.state == TaskDead
}

// Context returns a copy of the task's saved user state.
func (t *Task) Context() arch.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.context
}

// SetContext replaces the task's saved user state. It is used to set up a
// task before it first runs.
func (t *Task) SetContext(c arch.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.context = c
}

// Kill marks the task Dead. It does not run again; its resources are
// released by the scheduler once it is no longer active on any hart.
func (t *Task) Kill(reason DeathReason) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.killLocked(reason)
}

// Preconditions: t.mu is locked.
func (t *Task) killLocked(reason DeathReason) {
	if t.state == TaskDead {
		return
	}
	t.state = TaskDead
	t.reason = reason
	taskDeaths.Increment(string(reason))
	if reason == DeathExit {
		log.Infof("Task %d %q exited", t.id, t.name)
	} else {
		log.Warningf("Task %d %q killed: %s", t.id, t.name, reason)
	}
}

// Block marks a Ready task Blocked.
func (t *Task) Block() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TaskReady {
		t.state = TaskBlocked
	}
}

// Wake marks a Blocked task Ready.
func (t *Task) Wake() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == TaskBlocked {
		t.state = TaskReady
	}
}

// release frees the task's address space and capabilities on hart h.
//
// Preconditions: t is Dead and not active on any hart.
func (t *Task) release(h platform.Hart) {
	t.caps.Close()
	t.mm.Activate(h)
	t.mm.Release()
	log.Debugf("Task %d %q released", t.id, t.name)
}

// String implements fmt.Stringer.String.
func (t *Task) String() string {
	return fmt.Sprintf("%d:%s", t.id, t.name)
}
