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

import "fmt"

// Syscall is a syscall number, passed in a0.
type Syscall uintptr

// Syscall numbers.
const (
	SysExit                  Syscall = 0
	SysPrint                 Syscall = 1
	SysReadStdin             Syscall = 2
	SysAllocVirtualMemory    Syscall = 3
	SysAllocDmaMemory        Syscall = 4
	SysQueryMemoryCapability Syscall = 5
	SysFreeVirtualMemory     Syscall = 6
	SysGrantCapability       Syscall = 7
)

// String implements fmt.Stringer.String.
func (s Syscall) String() string {
	switch s {
	case SysExit:
		return "exit"
	case SysPrint:
		return "print"
	case SysReadStdin:
		return "read_stdin"
	case SysAllocVirtualMemory:
		return "alloc_virtual_memory"
	case SysAllocDmaMemory:
		return "alloc_dma_memory"
	case SysQueryMemoryCapability:
		return "query_memory_capability"
	case SysFreeVirtualMemory:
		return "free_virtual_memory"
	case SysGrantCapability:
		return "grant_capability"
	default:
		return fmt.Sprintf("syscall(%d)", uintptr(s))
	}
}
