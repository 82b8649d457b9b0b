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
// Package kernerr contains the kernel's error codes exported as error
// interface pointers. This allows for fast comparison and return operations
// and a direct mapping onto the KError value handed back to userspace.
package kernerr

import (
	"fmt"

	"tessera.dev/tessera/pkg/abi/tessera"
	"tessera.dev/tessera/pkg/errors"
)

var (
	noError *errors.Error = nil

	InvalidArgument       = errors.New(tessera.KErrInvalidArgument, "invalid argument")
	InvalidSyscall        = errors.New(tessera.KErrInvalidSyscall, "invalid syscall number")
	InvalidVirtualAddress = errors.New(tessera.KErrInvalidVirtualAddress, "invalid virtual address")
	NoMemory              = errors.New(tessera.KErrNoMemory, "out of memory")
	NotAvailable          = errors.New(tessera.KErrNotAvailable, "address range not available")
	NotOccupied           = errors.New(tessera.KErrNotOccupied, "address range not occupied")
	InvalidCapability     = errors.New(tessera.KErrInvalidCapability, "invalid capability")
	InsufficientRights    = errors.New(tessera.KErrInsufficientRights, "insufficient capability rights")
	NoAccess              = errors.New(tessera.KErrNoAccess, "no access to memory")
	InvalidTask           = errors.New(tessera.KErrInvalidTask, "no such task")
)

var errorSlice = [tessera.MaxKError]*errors.Error{
	tessera.KErrInvalidArgument:       InvalidArgument,
	tessera.KErrInvalidSyscall:        InvalidSyscall,
	tessera.KErrInvalidVirtualAddress: InvalidVirtualAddress,
	tessera.KErrNoMemory:              NoMemory,
	tessera.KErrNotAvailable:          NotAvailable,
	tessera.KErrNotOccupied:           NotOccupied,
	tessera.KErrInvalidCapability:     InvalidCapability,
	tessera.KErrInsufficientRights:    InsufficientRights,
	tessera.KErrNoAccess:              NoAccess,
	tessera.KErrInvalidTask:           InvalidTask,
}

// FromCode returns the error for a KError. Zero maps to nil.
func FromCode(code tessera.KError) error {
	if code == 0 {
		return nil
	}
	if code >= tessera.MaxKError {
		panic(fmt.Sprintf("invalid error requested with code: %d", uintptr(code)))
	}
	return errorSlice[code]
}

// ToError converts a kernerr to an error type.
func ToError(err *errors.Error) error {
	if err == noError {
		return nil
	}
	return err
}

// ToCode converts an error into the KError handed back to userspace. Errors
// that did not originate in this package are reported as InvalidArgument.
func ToCode(err error) tessera.KError {
	if err == nil {
		return 0
	}
	if e, ok := err.(*errors.Error); ok && e != noError {
		return e.Code()
	}
	if e, ok := TranslateError(err); ok {
		return e.Code()
	}
	return tessera.KErrInvalidArgument
}

// Equals compares a kernerr to a given error.
func Equals(e *errors.Error, err error) bool {
	if err == nil {
		err = noError
	}
	return e == err
}
