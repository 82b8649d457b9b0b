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
	"sort"

	"tessera.dev/tessera/pkg/sync"
)

// TaskSet holds every task in the kernel and records which task each hart
// is running.
type TaskSet struct {
	mu sync.Mutex

	// nextID is the ID of the next task created. Protected by mu.
	nextID ThreadID

	// tasks holds every task that has not been reaped, in ID order.
	// Protected by mu.
	tasks []*Task

	// active maps hart IDs to the task running there. Protected by mu.
	active map[int]*Task
}

func newTaskSet() *TaskSet {
	return &TaskSet{
		nextID: 1,
		active: make(map[int]*Task),
	}
}

// add assigns t an ID and adds it to the set.
func (ts *TaskSet) add(t *Task) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t.id = ts.nextID
	ts.nextID++
	ts.tasks = append(ts.tasks, t)
}

// Lookup returns the task with the given ID, or nil.
func (ts *TaskSet) Lookup(id ThreadID) *Task {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	i, ok := ts.indexLocked(id)
	if !ok {
		return nil
	}
	return ts.tasks[i]
}

// Preconditions: ts.mu is locked.
func (ts *TaskSet) indexLocked(id ThreadID) (int, bool) {
	i := sort.Search(len(ts.tasks), func(i int) bool { return ts.tasks[i].id >= id })
	return i, i < len(ts.tasks) && ts.tasks[i].id == id
}

// Tasks returns every task that has not been reaped, in ID order.
func (ts *TaskSet) Tasks() []*Task {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]*Task(nil), ts.tasks...)
}

// Len returns the number of tasks that have not been reaped.
func (ts *TaskSet) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.tasks)
}

// ActiveOnHart returns the task running on the given hart, or nil.
func (ts *TaskSet) ActiveOnHart(hart int) *Task {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.active[hart]
}

// activeLocked returns true if t is running on some hart.
//
// Preconditions: ts.mu is locked.
func (ts *TaskSet) activeLocked(t *Task) bool {
	for _, a := range ts.active {
		if a == t {
			return true
		}
	}
	return false
}

// reapLocked removes every dead task that is not active on a hart and
// returns them.
//
// Preconditions: ts.mu is locked.
func (ts *TaskSet) reapLocked() []*Task {
	var dead []*Task
	live := ts.tasks[:0]
	for _, t := range ts.tasks {
		if t.State() == TaskDead && !ts.activeLocked(t) {
			dead = append(dead, t)
			continue
		}
		live = append(live, t)
	}
	clear(ts.tasks[len(live):])
	ts.tasks = live
	return dead
}

// reapAll deactivates every hart, then reaps.
func (ts *TaskSet) reapAll() []*Task {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	clear(ts.active)
	return ts.reapLocked()
}
