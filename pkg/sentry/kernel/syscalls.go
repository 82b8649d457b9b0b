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
	"tessera.dev/tessera/pkg/errors/kernerr"
	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/sentry/arch"
)

// SyscallFn is a syscall implementation. On success it returns the values
// placed in a1 onwards; a0 is set to zero. A non-nil error is returned to
// the task as its KError code in a0.
//
// Syscall functions run on the trapping hart while t is active there, with
// no kernel locks held. To end the task they return a SyscallControl.
type SyscallFn func(t *Task, args arch.SyscallArguments) ([]uint64, *SyscallControl, error)

// SyscallControl is returned by syscalls to control the behavior of
// the task after the call.
type SyscallControl struct {
	// reason is why the task ends.
	reason DeathReason
}

// CtrlDoExit is returned by the implementations of the exit syscall.
var CtrlDoExit = &SyscallControl{reason: DeathExit}

// CtrlKill returns a SyscallControl that kills the calling task.
func CtrlKill(reason DeathReason) *SyscallControl {
	return &SyscallControl{reason: reason}
}

// Syscall includes the syscall implementation and its name.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation.
	Fn SyscallFn
}

// SyscallTable is a lookup table of system calls.
type SyscallTable struct {
	// Table is the collection of functions, by number.
	Table map[uintptr]Syscall
}

// Lookup returns the syscall implementation, if one exists.
func (s *SyscallTable) Lookup(sysno uintptr) SyscallFn {
	return s.Table[sysno].Fn
}

// LookupName looks up a syscall name.
func (s *SyscallTable) LookupName(sysno uintptr) string {
	if sc, ok := s.Table[sysno]; ok {
		return sc.Name
	}
	return ""
}

// executeSyscall runs the syscall named by a0 and writes its results back
// into regs. An unknown syscall number kills the task.
func (k *Kernel) executeSyscall(t *Task, regs *arch.Registers) {
	sysno := regs.SyscallNo()
	syscallCount.Increment(syscallLabel(sysno))
	fn := k.syscalls.Lookup(uintptr(sysno))
	if fn == nil {
		log.Warningf("Task %v: invalid syscall number %d", t, sysno)
		t.Kill(DeathInvalidSyscall)
		return
	}

	rets, ctrl, err := fn(t, regs.SyscallArgs())
	if ctrl != nil {
		t.Kill(ctrl.reason)
		return
	}
	if err != nil {
		log.Debugf("Task %v: %s: %v", t, k.syscalls.LookupName(uintptr(sysno)), err)
		regs.SetReturn(uint64(kernerr.ToCode(err)))
		return
	}
	regs.SetReturn(0, rets...)
}
