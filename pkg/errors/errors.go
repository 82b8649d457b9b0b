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
// Package errors holds the standardized error definition for the kernel.
package errors

import (
	"tessera.dev/tessera/pkg/abi/tessera"
)

// Error represents a kernel error code with a descriptive message.
type Error struct {
	code    tessera.KError
	message string
}

// New creates a new *Error.
func New(code tessera.KError, message string) *Error {
	return &Error{
		code:    code,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Code returns the underlying tessera.KError value.
func (e *Error) Code() tessera.KError { return e.code }
