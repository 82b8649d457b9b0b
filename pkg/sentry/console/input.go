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

package console

import (
	"errors"

	"tessera.dev/tessera/pkg/sync"
)

// ErrQueueFull is returned when input arrives faster than tasks read it.
var ErrQueueFull = errors.New("console input queue full")

// DefaultInputQueueSize is the capacity of the kernel's input queue.
const DefaultInputQueueSize = 512

// InputQueue is a bounded FIFO of console input bytes, filled from interrupt
// context and drained by read_stdin.
type InputQueue struct {
	mu sync.Mutex

	// buf is a ring of len(buf) bytes holding n bytes from head. Protected
	// by mu.
	buf  []byte
	head int
	n    int
}

// NewInputQueue returns an empty queue holding up to size bytes.
func NewInputQueue(size int) *InputQueue {
	return &InputQueue{buf: make([]byte, size)}
}

// Push appends b, failing if the queue is full.
func (q *InputQueue) Push(b byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == len(q.buf) {
		return ErrQueueFull
	}
	q.buf[(q.head+q.n)%len(q.buf)] = b
	q.n++
	return nil
}

// Pop removes the oldest byte.
func (q *InputQueue) Pop() (byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return 0, false
	}
	b := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return b, true
}

// Read moves up to len(dst) of the oldest bytes into dst and returns how
// many it moved. It never blocks.
func (q *InputQueue) Read(dst []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(len(dst), q.n)
	if n == 0 {
		return 0
	}
	for i := range n {
		dst[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.head = (q.head + n) % len(q.buf)
	q.n -= n
	return n
}

// Len returns the number of queued bytes.
func (q *InputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}
