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


package tessera

import (
	"math"

	"tessera.dev/tessera/pkg/capability"
	"tessera.dev/tessera/pkg/errors/kernerr"
	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/sentry/arch"
	"tessera.dev/tessera/pkg/sentry/kernel"
	"tessera.dev/tessera/pkg/sentry/mm"
)

// GrantCapability implements syscall grant_capability(cptr, task, rights).
// It gives the task with the given ID a capability for the resource behind
// cptr, carrying rights, and returns the new capability in a1. The caller's
// capability must carry Grant and every right granted.
//
// Memory is mapped into the receiver's address space with the access the
// granted rights allow, and its address is returned in a2.
func GrantCapability(t *kernel.Task, args arch.SyscallArguments) ([]uint64, *kernel.SyscallControl, error) {
	from := capability.Ptr(args[0].Uint64())
	tid := args[1].Uint64()
	bits := args[2].Uint64()

	if bits&^capability.AllRights.Value() != 0 {
		return nil, nil, kernerr.InvalidArgument
	}
	rights := capability.NewRights(bits)
	if tid > math.MaxInt32 {
		return nil, nil, kernerr.InvalidTask
	}
	target := t.Kernel().TaskSet().Lookup(kernel.ThreadID(tid))
	if target == nil || target.State() == kernel.TaskDead {
		return nil, nil, kernerr.InvalidTask
	}

	res, err := t.Capabilities().LookupWith(from, rights.Or(capability.Grant))
	if err != nil {
		return nil, nil, err
	}
	mr, ok := res.(*mm.MemoryResource)
	if !ok {
		c, err := t.Capabilities().Grant(from, target.Capabilities(), rights)
		if err != nil {
			return nil, nil, err
		}
		return []uint64{c.Ptr.Value()}, nil, nil
	}

	// The target may be running or be released on another hart at any
	// point from here on. Its page tables are changed and fenced from this
	// hart, and a released target refuses with InvalidTask.
	h := t.MemoryManager().Hart()
	access := accessFromRights(mr.Access, rights)
	tm := target.MemoryManager()
	ar, err := tm.MapShared(h, mr.Region, nil, access)
	if err != nil {
		return nil, nil, err
	}
	c, err := target.Capabilities().Insert(&mm.MemoryResource{Range: ar, Access: access, Region: mr.Region}, rights)
	if err != nil {
		if ferr := tm.FreeRegionOn(h, ar); ferr != nil && ferr != kernerr.InvalidTask {
			log.Warningf("Task %v: freeing %v: %v", target, ar, ferr)
		}
		return nil, nil, err
	}
	log.Debugf("Task %v: granted %v to task %v at %v", t, c, target, ar)
	return []uint64{c.Ptr.Value(), uint64(ar.Start)}, nil, nil
}
