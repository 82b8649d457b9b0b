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
	"bufio"
	"io"

	"tessera.dev/tessera/pkg/log"
)

// StreamDevice is a Device backed by host streams, standing in for a UART
// on the simulated machine.
//
// Input is read from r by a goroutine started in Init. Each byte that
// arrives calls the interrupt function, as a UART raises its line when its
// receive FIFO becomes non-empty.
type StreamDevice struct {
	r io.Reader
	w *bufio.Writer

	// interrupt is called for each received byte. Immutable.
	interrupt func()

	// rx carries received bytes. It is closed at end of input.
	rx chan byte
}

var _ Device = (*StreamDevice)(nil)

// NewStreamDevice returns a device reading r and writing w. interrupt may be
// nil.
func NewStreamDevice(r io.Reader, w io.Writer, interrupt func()) *StreamDevice {
	return &StreamDevice{
		r:         r,
		w:         bufio.NewWriter(w),
		interrupt: interrupt,
		rx:        make(chan byte, DefaultInputQueueSize),
	}
}

// Init implements Device.Init.
func (d *StreamDevice) Init() error {
	if d.r == nil {
		close(d.rx)
		return nil
	}
	go d.receive()
	return nil
}

func (d *StreamDevice) receive() {
	defer close(d.rx)
	br := bufio.NewReader(d.r)
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err != io.EOF {
				log.Warningf("Console input: %v", err)
			}
			return
		}
		d.rx <- b
		if d.interrupt != nil {
			d.interrupt()
		}
	}
}

// Read implements Device.Read.
func (d *StreamDevice) Read() byte {
	return <-d.rx
}

// TryRead implements Device.TryRead.
func (d *StreamDevice) TryRead() (byte, bool) {
	select {
	case b, ok := <-d.rx:
		return b, ok
	default:
		return 0, false
	}
}

// Write implements Device.Write. Output is flushed at each newline.
func (d *StreamDevice) Write(b byte) error {
	if err := d.w.WriteByte(b); err != nil {
		return err
	}
	if b == '\n' {
		return d.w.Flush()
	}
	return nil
}

// Flush writes any buffered output.
func (d *StreamDevice) Flush() error {
	return d.w.Flush()
}
