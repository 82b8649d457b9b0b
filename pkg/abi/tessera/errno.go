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
// Package tessera contains the constants and types that make up the
// userspace ABI of the kernel: syscall numbers, error codes and option bits.
package tessera

import "fmt"

// KError is an error code returned to userspace in a0.
type KError uintptr

// Error codes. Zero is reserved for success.
const (
	KErrInvalidArgument KError = iota + 1
	KErrInvalidSyscall
	KErrInvalidVirtualAddress
	KErrNoMemory
	KErrNotAvailable
	KErrNotOccupied
	KErrInvalidCapability
	KErrInsufficientRights
	KErrNoAccess
	KErrInvalidTask

	// MaxKError is one greater than the largest defined code.
	MaxKError
)

var kerrorNames = [MaxKError]string{
	KErrInvalidArgument:       "InvalidArgument",
	KErrInvalidSyscall:        "InvalidSyscall",
	KErrInvalidVirtualAddress: "InvalidVirtualAddress",
	KErrNoMemory:              "NoMemory",
	KErrNotAvailable:          "NotAvailable",
	KErrNotOccupied:           "NotOccupied",
	KErrInvalidCapability:     "InvalidCapability",
	KErrInsufficientRights:    "InsufficientRights",
	KErrNoAccess:              "NoAccess",
	KErrInvalidTask:           "InvalidTask",
}

// String implements fmt.Stringer.String.
func (e KError) String() string {
	if e > 0 && e < MaxKError {
		return kerrorNames[e]
	}
	return fmt.Sprintf("KError(%d)", uintptr(e))
}

// KResult tags, written as the first word of a result object in user
// memory. The second word carries the KError for KResultErr.
const (
	KResultOk  uint64 = 0
	KResultErr uint64 = 1

	// KResultSize is the size in bytes of a result object.
	KResultSize = 16
)
