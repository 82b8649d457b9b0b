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

// Package console implements the kernel console: the output device the
// print syscall writes to and the input queue the console interrupt fills
// for read_stdin.
package console

import (
	"io"

	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/sync"
)

// Device is a byte-oriented console device, such as a UART.
type Device interface {
	// Init prepares the device for use.
	Init() error

	// Read returns the next input byte, blocking until there is one. It
	// returns 0 if the device has no more input.
	Read() byte

	// TryRead returns the next input byte if one is available.
	TryRead() (byte, bool)

	// Write outputs a byte.
	Write(b byte) error
}

// Console is the kernel console. Output is discarded until a device is set.
type Console struct {
	mu sync.Mutex

	// dev is the current device, or nil. Protected by mu.
	dev Device
}

var _ io.Writer = (*Console)(nil)

// SetDevice initializes dev and makes it the console device.
func (c *Console) SetDevice(dev Device) error {
	if err := dev.Init(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dev = dev
	return nil
}

// Write implements io.Writer.Write.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return len(p), nil
	}
	for i, b := range p {
		if err := c.dev.Write(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// Read returns the next input byte from the device, blocking until there is
// one. It returns 0 without a device.
func (c *Console) Read() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return 0
	}
	return c.dev.Read()
}

// TryRead returns the next input byte if one is available.
func (c *Console) TryRead() (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dev == nil {
		return 0, false
	}
	return c.dev.TryRead()
}

// ISR returns the console interrupt routine: it moves every available input
// byte into q. Bytes that do not fit are dropped and reported.
func ISR(c *Console, q *InputQueue) func(id uint32, private uintptr) error {
	return func(id uint32, _ uintptr) error {
		dropped := 0
		for {
			b, ok := c.TryRead()
			if !ok {
				break
			}
			if err := q.Push(b); err != nil {
				dropped++
			}
		}
		if dropped > 0 {
			log.Debugf("Console interrupt %d dropped %d bytes", id, dropped)
			return ErrQueueFull
		}
		return nil
	}
}
