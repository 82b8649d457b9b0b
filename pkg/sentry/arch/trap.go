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

package arch

import "fmt"

// InterruptBit is set in scause for asynchronous traps.
const InterruptBit = 1 << 63

// Trap is a decoded scause value. Each defined Trap equals the cause it
// decodes from.
type Trap uint64

// Interrupts.
const (
	UserSoftwareInterrupt       Trap = InterruptBit | 0
	SupervisorSoftwareInterrupt Trap = InterruptBit | 1
	MachineSoftwareInterrupt    Trap = InterruptBit | 3

	UserTimerInterrupt       Trap = InterruptBit | 4
	SupervisorTimerInterrupt Trap = InterruptBit | 5
	MachineTimerInterrupt    Trap = InterruptBit | 7

	UserExternalInterrupt       Trap = InterruptBit | 8
	SupervisorExternalInterrupt Trap = InterruptBit | 9
	MachineExternalInterrupt    Trap = InterruptBit | 11
)

// Synchronous exceptions.
const (
	InstructionAddressMisaligned  Trap = 0
	InstructionAccessFault        Trap = 1
	IllegalInstruction            Trap = 2
	Breakpoint                    Trap = 3
	LoadAddressMisaligned         Trap = 4
	LoadAccessFault               Trap = 5
	StoreAddressMisaligned        Trap = 6
	StoreAccessFault              Trap = 7
	UserModeEnvironmentCall       Trap = 8
	SupervisorModeEnvironmentCall Trap = 9
	MachineModeEnvironmentCall    Trap = 11
	InstructionPageFault          Trap = 12
	LoadPageFault                 Trap = 13
	StorePageFault                Trap = 15
)

// Reserved is every cause without a defined meaning.
const Reserved Trap = ^Trap(0)

var trapNames = map[Trap]string{
	UserSoftwareInterrupt:         "UserSoftwareInterrupt",
	SupervisorSoftwareInterrupt:   "SupervisorSoftwareInterrupt",
	MachineSoftwareInterrupt:      "MachineSoftwareInterrupt",
	UserTimerInterrupt:            "UserTimerInterrupt",
	SupervisorTimerInterrupt:      "SupervisorTimerInterrupt",
	MachineTimerInterrupt:         "MachineTimerInterrupt",
	UserExternalInterrupt:         "UserExternalInterrupt",
	SupervisorExternalInterrupt:   "SupervisorExternalInterrupt",
	MachineExternalInterrupt:      "MachineExternalInterrupt",
	InstructionAddressMisaligned:  "InstructionAddressMisaligned",
	InstructionAccessFault:        "InstructionAccessFault",
	IllegalInstruction:            "IllegalInstruction",
	Breakpoint:                    "Breakpoint",
	LoadAddressMisaligned:         "LoadAddressMisaligned",
	LoadAccessFault:               "LoadAccessFault",
	StoreAddressMisaligned:        "StoreAddressMisaligned",
	StoreAccessFault:              "StoreAccessFault",
	UserModeEnvironmentCall:       "UserModeEnvironmentCall",
	SupervisorModeEnvironmentCall: "SupervisorModeEnvironmentCall",
	MachineModeEnvironmentCall:    "MachineModeEnvironmentCall",
	InstructionPageFault:          "InstructionPageFault",
	LoadPageFault:                 "LoadPageFault",
	StorePageFault:                "StorePageFault",
}

// TrapFromCause decodes an scause value. Any cause not listed above decodes
// to Reserved.
func TrapFromCause(cause uint64) Trap {
	t := Trap(cause)
	if _, ok := trapNames[t]; ok {
		return t
	}
	return Reserved
}

// Traps returns every defined trap, interrupts first, in cause order.
func Traps() []Trap {
	return []Trap{
		UserSoftwareInterrupt, SupervisorSoftwareInterrupt, MachineSoftwareInterrupt,
		UserTimerInterrupt, SupervisorTimerInterrupt, MachineTimerInterrupt,
		UserExternalInterrupt, SupervisorExternalInterrupt, MachineExternalInterrupt,
		InstructionAddressMisaligned, InstructionAccessFault, IllegalInstruction,
		Breakpoint, LoadAddressMisaligned, LoadAccessFault, StoreAddressMisaligned,
		StoreAccessFault, UserModeEnvironmentCall, SupervisorModeEnvironmentCall,
		MachineModeEnvironmentCall, InstructionPageFault, LoadPageFault, StorePageFault,
	}
}

// IsInterrupt returns true for asynchronous traps.
func (t Trap) IsInterrupt() bool {
	return t != Reserved && t&InterruptBit != 0
}

// IsPageFault returns true for the three page fault causes.
func (t Trap) IsPageFault() bool {
	return t == InstructionPageFault || t == LoadPageFault || t == StorePageFault
}

// Code returns the cause number without the interrupt bit.
func (t Trap) Code() uint64 {
	return uint64(t) &^ InterruptBit
}

// String implements fmt.Stringer.String.
func (t Trap) String() string {
	if name, ok := trapNames[t]; ok {
		return name
	}
	if t == Reserved {
		return "Reserved"
	}
	return fmt.Sprintf("Trap(%#x)", uint64(t))
}
