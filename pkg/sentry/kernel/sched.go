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
	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/sentry/arch"
	"tessera.dev/tessera/pkg/sentry/platform"
)

// IdlePC is the pc Schedule returns when a hart has nothing to run. The
// frame is zeroed and the hart waits for its next interrupt.
const IdlePC = 0

// Scheduler selects the task a hart runs next.
type Scheduler interface {
	// Schedule is called by the trap dispatcher once the current task's
	// state has been saved. It switches h to the chosen task's address
	// space, loads the task's registers into frame and returns the pc to
	// resume at.
	Schedule(h platform.Hart, frame *arch.TrapFrame) uint64
}

// RoundRobin runs Ready tasks in ID order, starting after the task the hart
// ran last. Dead tasks are reaped on the way.
type RoundRobin struct {
	k *Kernel
}

var _ Scheduler = (*RoundRobin)(nil)

// NewRoundRobin returns a RoundRobin scheduler over k's tasks.
func NewRoundRobin(k *Kernel) *RoundRobin {
	return &RoundRobin{k: k}
}

// Schedule implements Scheduler.Schedule.
func (r *RoundRobin) Schedule(h platform.Hart, frame *arch.TrapFrame) uint64 {
	ts := r.k.tasks
	ts.mu.Lock()
	prev := ts.active[h.ID()]
	delete(ts.active, h.ID())
	var after ThreadID
	if prev != nil {
		prev.mu.Lock()
		if prev.state == TaskRunning {
			prev.state = TaskReady
		}
		prev.mu.Unlock()
		after = prev.id
	}
	next := ts.pickLocked(after)
	if next != nil {
		ts.active[h.ID()] = next
	}
	dead := ts.reapLocked()
	live := ts.liveLocked()
	ts.mu.Unlock()

	for _, t := range dead {
		t.release(h)
	}

	if next == nil {
		h.ActivateTable(r.k.kernelPT.RootPhysical())
		*frame = arch.TrapFrame{}
		if live == 0 {
			log.Infof("No tasks left")
			r.k.Exit(platform.ExitStatus{Kind: platform.ExitPass})
		}
		return IdlePC
	}
	if next != prev {
		log.Debugf("Hart %d: switching to task %v", h.ID(), next)
	}
	next.mm.Activate(h)
	next.mu.Lock()
	defer next.mu.Unlock()
	return next.context.Load(frame)
}

// pickLocked marks the first Ready task with an ID after the given one
// Running and returns it, wrapping around to the lowest IDs.
//
// Preconditions: ts.mu is locked.
func (ts *TaskSet) pickLocked(after ThreadID) *Task {
	start, _ := ts.indexLocked(after + 1)
	for i := range ts.tasks {
		t := ts.tasks[(start+i)%len(ts.tasks)]
		t.mu.Lock()
		if t.state == TaskReady {
			t.state = TaskRunning
			t.mu.Unlock()
			return t
		}
		t.mu.Unlock()
	}
	return nil
}

// liveLocked returns the number of tasks that are not Dead.
//
// Preconditions: ts.mu is locked.
func (ts *TaskSet) liveLocked() int {
	n := 0
	for _, t := range ts.tasks {
		if t.State() != TaskDead {
			n++
		}
	}
	return n
}

// Start schedules the first task on h and returns the user state the hart
// enters. ok is false if there is nothing to run.
func (k *Kernel) Start(h platform.Hart) (c arch.Context, ok bool) {
	var frame arch.TrapFrame
	pc := k.scheduler.Schedule(h, &frame)
	if k.tasks.ActiveOnHart(h.ID()) == nil {
		return arch.Context{}, false
	}
	c.Save(pc, &frame)
	return c, true
}
