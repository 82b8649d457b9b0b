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

import (
	"fmt"
	"unsafe"
)

// FrameAt returns a view of the frame held in b, which must be at least
// TrapFrameSize bytes and 8-byte aligned.
func FrameAt(b []byte) *TrapFrame {
	if len(b) < TrapFrameSize {
		panic(fmt.Sprintf("trap frame needs %d bytes, have %d", TrapFrameSize, len(b)))
	}
	p := unsafe.Pointer(&b[0])
	if uintptr(p)%RegisterSize != 0 {
		panic(fmt.Sprintf("trap frame at %p is misaligned", p))
	}
	return (*TrapFrame)(p)
}

// GPR returns a pointer to the saved xn.
func (f *TrapFrame) GPR(n int) *uint64 {
	return (*uint64)(unsafe.Add(unsafe.Pointer(f), GPROffset(n)))
}

// FPR returns a pointer to the saved fn.
func (f *TrapFrame) FPR(n int) *uint64 {
	return (*uint64)(unsafe.Add(unsafe.Pointer(f), FPROffset(n)))
}

// FCSR returns a pointer to the saved fcsr.
func (f *TrapFrame) FCSR() *uint64 {
	return (*uint64)(unsafe.Add(unsafe.Pointer(f), FCSROffset))
}

func init() {
	if unsafe.Sizeof(TrapFrame{}) != TrapFrameSize {
		panic(fmt.Sprintf("TrapFrame is %d bytes, the trampoline expects %d", unsafe.Sizeof(TrapFrame{}), TrapFrameSize))
	}
}
