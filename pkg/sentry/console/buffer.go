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
	"io"

	"tessera.dev/tessera/pkg/sync"
)

// BufferDevice is a device whose input is supplied by Feed. Output goes to
// an io.Writer unbuffered.
type BufferDevice struct {
	w io.Writer

	mu sync.Mutex

	// in is input not yet read. Protected by mu.
	in []byte
}

var _ Device = (*BufferDevice)(nil)

// NewBufferDevice returns a device writing to w.
func NewBufferDevice(w io.Writer) *BufferDevice {
	return &BufferDevice{w: w}
}

// Feed appends b to the pending input.
func (d *BufferDevice) Feed(b []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.in = append(d.in, b...)
}

// Init implements Device.Init.
func (d *BufferDevice) Init() error {
	return nil
}

// Read implements Device.Read. It returns 0 when no input is pending.
func (d *BufferDevice) Read() byte {
	b, _ := d.TryRead()
	return b
}

// TryRead implements Device.TryRead.
func (d *BufferDevice) TryRead() (byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.in) == 0 {
		return 0, false
	}
	b := d.in[0]
	d.in = d.in[1:]
	return b, true
}

// Write implements Device.Write.
func (d *BufferDevice) Write(b byte) error {
	_, err := d.w.Write([]byte{b})
	return err
}
