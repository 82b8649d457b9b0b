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

// Package arch describes the RV64 execution state the kernel saves and
// restores around a trap.
package arch

import (
	"fmt"

	"tessera.dev/tessera/pkg/hostarch"
)

// Registers are the general purpose registers x1 through x31, in register
// number order. x0 is hardwired to zero and not saved.
type Registers struct {
	RA  uint64
	SP  uint64
	GP  uint64
	TP  uint64
	T0  uint64
	T1  uint64
	T2  uint64
	S0  uint64
	S1  uint64
	A0  uint64
	A1  uint64
	A2  uint64
	A3  uint64
	A4  uint64
	A5  uint64
	A6  uint64
	A7  uint64
	S2  uint64
	S3  uint64
	S4  uint64
	S5  uint64
	S6  uint64
	S7  uint64
	S8  uint64
	S9  uint64
	S10 uint64
	S11 uint64
	T3  uint64
	T4  uint64
	T5  uint64
	T6  uint64
}

// FloatingPointRegisters are f0 through f31 followed by the floating point
// control and status register.
type FloatingPointRegisters struct {
	F    [32]uint64
	FCSR uint64
}

// TrapFrame is the register state saved on the kernel stack at trap entry.
//
// The layout is fixed: the trampoline addresses each field by the byte
// offsets below.
type TrapFrame struct {
	Registers   Registers
	FPRegisters FloatingPointRegisters
}

// Trap frame layout.
const (
	// GPRCount is the number of saved general purpose registers.
	GPRCount = 31

	// FPRCount is the number of floating point data registers.
	FPRCount = 32

	// RegisterSize is the size of each saved register.
	RegisterSize = 8

	// FPRegistersOffset is the offset of f0.
	FPRegistersOffset = GPRCount * RegisterSize

	// FCSROffset is the offset of fcsr.
	FCSROffset = FPRegistersOffset + FPRCount*RegisterSize

	// TrapFrameSize is the number of bytes the trampoline reserves on the
	// kernel stack.
	TrapFrameSize = FCSROffset + RegisterSize
)

// GPROffset returns the frame offset of register xn, 1 <= n <= 31.
func GPROffset(n int) uintptr {
	if n < 1 || n > GPRCount {
		panic(fmt.Sprintf("no saved register x%d", n))
	}
	return uintptr(n-1) * RegisterSize
}

// FPROffset returns the frame offset of register fn, 0 <= n <= 31.
func FPROffset(n int) uintptr {
	if n < 0 || n >= FPRCount {
		panic(fmt.Sprintf("no floating point register f%d", n))
	}
	return FPRegistersOffset + uintptr(n)*RegisterSize
}

// gprNames are the ABI names of x1 through x31.
var gprNames = [GPRCount]string{
	"ra", "sp", "gp", "tp", "t0", "t1", "t2", "s0", "s1",
	"a0", "a1", "a2", "a3", "a4", "a5", "a6", "a7",
	"s2", "s3", "s4", "s5", "s6", "s7", "s8", "s9", "s10", "s11",
	"t3", "t4", "t5", "t6",
}

// GPRName returns the ABI name of xn.
func GPRName(n int) string {
	GPROffset(n)
	return gprNames[n-1]
}

// Context is the persisted execution state of a task that is not running.
type Context struct {
	// PC is the address execution resumes at.
	PC uint64

	// GPRegs are the general purpose registers.
	GPRegs Registers

	// FPRegs are the floating point registers.
	FPRegs FloatingPointRegisters
}

// Save records frame and pc as the task's resume state.
func (c *Context) Save(pc uint64, frame *TrapFrame) {
	c.PC = pc
	c.GPRegs = frame.Registers
	c.FPRegs = frame.FPRegisters
}

// Load copies the saved registers into frame and returns the resume pc.
func (c *Context) Load(frame *TrapFrame) uint64 {
	frame.Registers = c.GPRegs
	frame.FPRegisters = c.FPRegs
	return c.PC
}

// SyscallArgument is an argument supplied to a syscall implementation. The
// methods used to access the arguments are named after the ***C type name*** and
// they convert to the closest Go type available.
type SyscallArgument struct {
	// Prefer to use accessor methods instead of 'Value' directly.
	Value uint64
}

// SyscallArguments represents the set of arguments passed to a syscall in
// a1 through a7.
type SyscallArguments [7]SyscallArgument

// Pointer returns the hostarch.VirtualAddress representation of a pointer
// argument.
func (a SyscallArgument) Pointer() hostarch.VirtualAddress {
	return hostarch.VirtualAddress(a.Value)
}

// Uint64 returns the uint64 representation of a 64-bit unsigned integer
// argument.
func (a SyscallArgument) Uint64() uint64 {
	return a.Value
}

// SizeT returns the uint representation of a size_t argument.
func (a SyscallArgument) SizeT() uint {
	return uint(a.Value)
}

// SyscallNo returns the syscall number in a0.
func (r *Registers) SyscallNo() uint64 {
	return r.A0
}

// SyscallArgs returns a1 through a7.
func (r *Registers) SyscallArgs() SyscallArguments {
	return SyscallArguments{
		{r.A1}, {r.A2}, {r.A3}, {r.A4}, {r.A5}, {r.A6}, {r.A7},
	}
}

// SetReturn stores a syscall's status in a0 and its results in a1 onwards.
func (r *Registers) SetReturn(status uint64, results ...uint64) {
	r.A0 = status
	out := []*uint64{&r.A1, &r.A2, &r.A3, &r.A4, &r.A5, &r.A6, &r.A7}
	if len(results) > len(out) {
		panic(fmt.Sprintf("%d syscall results do not fit in a1-a7", len(results)))
	}
	for i, v := range results {
		*out[i] = v
	}
}
