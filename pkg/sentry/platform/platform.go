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

// Package platform provides a Platform abstraction.
//
// A Platform is the hardware boundary of the kernel: the harts that take
// traps, the interrupt controller, physical memory and the power-off
// device. See Platform for more information.
package platform

import (
	"fmt"

	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/sentry/pgalloc"
)

// Platform provides the machine the kernel runs on.
type Platform interface {
	// NumHarts returns the number of harts. The value is guaranteed to
	// remain unchanged over the lifetime of the Platform.
	NumHarts() int

	// Hart returns the hart with the given ID, 0 <= id < NumHarts().
	Hart(id int) Hart

	// InterruptController returns the platform-level interrupt controller.
	InterruptController() InterruptController

	// Memory returns physical memory.
	Memory() *pgalloc.MemoryFile

	// Exit powers the machine off with the given status.
	Exit(status ExitStatus)
}

// Hart is a hardware thread.
//
// Every method is only called by the kernel while it runs on this hart.
type Hart interface {
	// ID returns the hart ID.
	ID() int

	// DisableInterrupts masks supervisor interrupts on this hart and returns
	// a function that restores the previous state. Calls nest.
	DisableInterrupts() (restore func())

	// SFence invalidates cached translations for addr, or every cached
	// translation if addr is nil.
	SFence(addr *hostarch.VirtualAddress)

	// ActivateTable switches the hart to the page tables rooted at root.
	ActivateTable(root hostarch.PhysicalAddress)
}

// InterruptController routes external interrupts to harts.
type InterruptController interface {
	// Claim returns the highest priority pending interrupt enabled for the
	// given hart. ok is false if there is none.
	Claim(hart int) (id uint32, ok bool)

	// Complete signals that the hart is done with a claimed interrupt.
	Complete(hart int, id uint32)

	// Enable allows interrupt id to be delivered to the given hart.
	Enable(hart int, id uint32)

	// SetPriority sets the priority of interrupt id. Zero disables it.
	SetPriority(id uint32, priority uint8)
}

// MaxInterruptPriority is the highest priority an interrupt source may have.
const MaxInterruptPriority = 7

// ExitStatus is the value written to the test finisher to power off.
type ExitStatus struct {
	// Kind is the kind of exit.
	Kind ExitKind

	// Code is the failure code, only meaningful for ExitFail.
	Code uint16
}

// ExitKind is the kind of an exit.
type ExitKind uint32

// Finisher words.
const (
	ExitFail  ExitKind = 0x3333
	ExitPass  ExitKind = 0x5555
	ExitReset ExitKind = 0x7777
)

// Word returns the value written to the finisher register.
func (s ExitStatus) Word() uint32 {
	if s.Kind == ExitFail {
		return uint32(s.Code)<<16 | uint32(ExitFail)
	}
	return uint32(s.Kind)
}

// ExitStatusFromWord decodes a finisher register value.
func ExitStatusFromWord(w uint32) (ExitStatus, bool) {
	switch kind := ExitKind(w & 0xffff); kind {
	case ExitFail:
		return ExitStatus{Kind: ExitFail, Code: uint16(w >> 16)}, true
	case ExitPass, ExitReset:
		if w>>16 != 0 {
			return ExitStatus{}, false
		}
		return ExitStatus{Kind: kind}, true
	default:
		return ExitStatus{}, false
	}
}

// String implements fmt.Stringer.String.
func (s ExitStatus) String() string {
	switch s.Kind {
	case ExitPass:
		return "pass"
	case ExitReset:
		return "reset"
	case ExitFail:
		return fmt.Sprintf("fail(%d)", s.Code)
	default:
		return fmt.Sprintf("ExitStatus(%#x)", s.Word())
	}
}

// SegmentationFault is returned when kernel access to task memory fails due
// to an unmapped page, or a mapped page with insufficient permissions.
type SegmentationFault struct {
	// Addr is the address at which the fault occurred.
	Addr hostarch.VirtualAddress

	// Access is the attempted access.
	Access hostarch.AccessType
}

// Error implements error.Error.
func (f SegmentationFault) Error() string {
	return fmt.Sprintf("segmentation fault (%s) at %#x", f.Access, uintptr(f.Addr))
}
