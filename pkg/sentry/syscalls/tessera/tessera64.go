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

// Package tessera provides the syscall table of the Tessera kernel ABI.
//
// A syscall takes its number in a0 and its arguments in a1 onwards. On
// return a0 holds zero or a KError code, and results are placed in a1
// onwards.
package tessera

import (
	"tessera.dev/tessera/pkg/abi/tessera"
	"tessera.dev/tessera/pkg/sentry/kernel"
)

// RV64 is the syscall table for RV64 tasks.
var RV64 = &kernel.SyscallTable{
	Table: map[uintptr]kernel.Syscall{
		uintptr(tessera.SysExit):                  {Name: tessera.SysExit.String(), Fn: Exit},
		uintptr(tessera.SysPrint):                 {Name: tessera.SysPrint.String(), Fn: Print},
		uintptr(tessera.SysReadStdin):             {Name: tessera.SysReadStdin.String(), Fn: ReadStdin},
		uintptr(tessera.SysAllocVirtualMemory):    {Name: tessera.SysAllocVirtualMemory.String(), Fn: AllocVirtualMemory},
		uintptr(tessera.SysAllocDmaMemory):        {Name: tessera.SysAllocDmaMemory.String(), Fn: AllocDmaMemory},
		uintptr(tessera.SysQueryMemoryCapability): {Name: tessera.SysQueryMemoryCapability.String(), Fn: QueryMemoryCapability},
		uintptr(tessera.SysFreeVirtualMemory):     {Name: tessera.SysFreeVirtualMemory.String(), Fn: FreeVirtualMemory},
		uintptr(tessera.SysGrantCapability):       {Name: tessera.SysGrantCapability.String(), Fn: GrantCapability},
	},
}
