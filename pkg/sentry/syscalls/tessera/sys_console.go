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

import (
	"encoding/binary"

	"tessera.dev/tessera/pkg/abi/tessera"
	"tessera.dev/tessera/pkg/errors/kernerr"
	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/sentry/arch"
	"tessera.dev/tessera/pkg/sentry/kernel"
	"tessera.dev/tessera/pkg/sentry/mm"
)

// Print implements syscall print(src, len, result).
//
// The outcome is written to result as a KResult: Ok, or Err(NoAccess) if
// the source is not readable task memory. A result pointer that is not
// writable kills the task.
func Print(t *kernel.Task, args arch.SyscallArguments) ([]uint64, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	size := uintptr(args[1].SizeT())
	resOut := args[2].Pointer()

	m := t.MemoryManager()
	if !isWritableRange(m, resOut, tessera.KResultSize) {
		log.Warningf("Task %v: print result %v is not writable", t, resOut)
		return nil, kernel.CtrlKill(kernel.DeathBadMemory), nil
	}

	var res error
	if addr.IsKernelRegion() {
		log.Warningf("Task %v: print from kernel memory at %v", t, addr)
		res = kernerr.NoAccess
	} else if b, err := copyInString(m, addr, size); err != nil {
		log.Warningf("Task %v: print from %v: %v", t, addr, err)
		res = kernerr.NoAccess
	} else if _, err := t.Kernel().Console().Write(b); err != nil {
		log.Warningf("Task %v: console write: %v", t, err)
	}

	if err := m.CopyOut(resOut, encodeKResult(res)); err != nil {
		return nil, kernel.CtrlKill(kernel.DeathBadMemory), nil
	}
	return nil, nil, nil
}

// ReadStdin implements syscall read_stdin(dst, len). It moves up to len
// bytes of buffered console input to dst without waiting and returns the
// count in a1.
func ReadStdin(t *kernel.Task, args arch.SyscallArguments) ([]uint64, *kernel.SyscallControl, error) {
	addr := args[0].Pointer()
	size := args[1].SizeT()

	q := t.Kernel().InputQueue()
	n := min(size, uint(q.Len()))
	if n == 0 {
		return []uint64{0}, nil, nil
	}
	if !isWritableRange(t.MemoryManager(), addr, uintptr(n)) {
		log.Warningf("Task %v: read_stdin buffer %v is not writable", t, addr)
		return nil, kernel.CtrlKill(kernel.DeathBadMemory), nil
	}
	buf := make([]byte, n)
	buf = buf[:q.Read(buf)]
	if err := t.MemoryManager().CopyOut(addr, buf); err != nil {
		return nil, kernel.CtrlKill(kernel.DeathBadMemory), nil
	}
	return []uint64{uint64(len(buf))}, nil, nil
}

// copyInString copies n bytes at addr a page at a time. It stops at the
// first page that cannot be read.
func copyInString(m *mm.MemoryManager, addr hostarch.VirtualAddress, n uintptr) ([]byte, error) {
	var b []byte
	for n > 0 {
		chunk := min(n, hostarch.PageSize-addr.PageOffset())
		p, err := m.CopyIn(addr, chunk)
		if err != nil {
			return nil, err
		}
		b = append(b, p...)
		addr += hostarch.VirtualAddress(chunk)
		n -= chunk
	}
	return b, nil
}

// isWritableRange returns true if every page of [addr, addr+n) is mapped
// writable for the task.
func isWritableRange(m *mm.MemoryManager, addr hostarch.VirtualAddress, n uintptr) bool {
	end, ok := addr.Add(n)
	if !ok || n == 0 || addr.IsKernelRegion() {
		return false
	}
	for page := addr.RoundDown(); page < end; page += hostarch.PageSize {
		if !m.IsValidWritable(page) {
			return false
		}
	}
	return true
}

// encodeKResult returns the in-memory KResult for err.
func encodeKResult(err error) []byte {
	b := make([]byte, 0, tessera.KResultSize)
	if err == nil {
		b = binary.LittleEndian.AppendUint64(b, tessera.KResultOk)
		return binary.LittleEndian.AppendUint64(b, 0)
	}
	b = binary.LittleEndian.AppendUint64(b, tessera.KResultErr)
	return binary.LittleEndian.AppendUint64(b, uint64(kernerr.ToCode(err)))
}
