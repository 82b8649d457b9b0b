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
	"fmt"
)

// ISR is an interrupt service routine. private is the value given when the
// routine was registered.
type ISR func(id uint32, private uintptr) error

type isrEntry struct {
	fn      ISR
	private uintptr
}

// RegisterISR installs fn as the routine for interrupt source id. Each
// source has at most one routine.
func (k *Kernel) RegisterISR(id uint32, private uintptr, fn ISR) error {
	if id == 0 || fn == nil {
		return fmt.Errorf("invalid ISR registration for interrupt %d", id)
	}
	k.isrMu.Lock()
	defer k.isrMu.Unlock()
	if _, ok := k.isrs[id]; ok {
		return fmt.Errorf("interrupt %d already has an ISR", id)
	}
	k.isrs[id] = isrEntry{fn: fn, private: private}
	return nil
}

// UnregisterISR removes the routine for source id.
func (k *Kernel) UnregisterISR(id uint32) {
	k.isrMu.Lock()
	defer k.isrMu.Unlock()
	delete(k.isrs, id)
}

// ISREntry returns the routine registered for source id.
func (k *Kernel) ISREntry(id uint32) (fn ISR, private uintptr, ok bool) {
	k.isrMu.Lock()
	defer k.isrMu.Unlock()
	e, ok := k.isrs[id]
	return e.fn, e.private, ok
}
