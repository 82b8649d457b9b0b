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
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

// bufferDevice is a Device over in-memory buffers.
type bufferDevice struct {
	in   []byte
	out  bytes.Buffer
	init int
}

func (d *bufferDevice) Init() error {
	d.init++
	return nil
}

func (d *bufferDevice) Read() byte {
	b, _ := d.TryRead()
	return b
}

func (d *bufferDevice) TryRead() (byte, bool) {
	if len(d.in) == 0 {
		return 0, false
	}
	b := d.in[0]
	d.in = d.in[1:]
	return b, true
}

func (d *bufferDevice) Write(b byte) error {
	return d.out.WriteByte(b)
}

func TestConsoleWithoutDevice(t *testing.T) {
	var c Console
	if n, err := fmt.Fprintf(&c, "lost %d", 1); n != 6 || err != nil {
		t.Errorf("Fprintf = %d, %v; want 6, nil", n, err)
	}
	if _, ok := c.TryRead(); ok {
		t.Errorf("TryRead without a device returned a byte")
	}
	if b := c.Read(); b != 0 {
		t.Errorf("Read without a device = %d", b)
	}
}

func TestConsoleWrite(t *testing.T) {
	var c Console
	dev := &bufferDevice{}
	if err := c.SetDevice(dev); err != nil {
		t.Fatalf("SetDevice: %v", err)
	}
	if dev.init != 1 {
		t.Errorf("device initialized %d times", dev.init)
	}
	fmt.Fprintf(&c, "hart %d up\n", 0)
	if got := dev.out.String(); got != "hart 0 up\n" {
		t.Errorf("device got %q", got)
	}
}

func TestInputQueue(t *testing.T) {
	q := NewInputQueue(4)
	for _, b := range []byte("abcd") {
		if err := q.Push(b); err != nil {
			t.Fatalf("Push(%q): %v", b, err)
		}
	}
	if err := q.Push('e'); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Push to a full queue = %v", err)
	}
	if b, ok := q.Pop(); !ok || b != 'a' {
		t.Errorf("Pop() = %q, %t", b, ok)
	}
	q.Push('e')

	// The ring wraps.
	dst := make([]byte, 8)
	if n := q.Read(dst); string(dst[:n]) != "bcde" {
		t.Errorf("Read = %q, want %q", dst[:n], "bcde")
	}
	if n := q.Read(dst); n != 0 {
		t.Errorf("Read of an empty queue = %d", n)
	}
	if _, ok := q.Pop(); ok {
		t.Errorf("Pop of an empty queue succeeded")
	}
	if n := NewInputQueue(0).Read(dst); n != 0 {
		t.Errorf("Read of a zero-size queue = %d", n)
	}
}

func TestISR(t *testing.T) {
	var c Console
	dev := NewBufferDevice(new(bytes.Buffer))
	dev.Feed([]byte("hello"))
	c.SetDevice(dev)
	q := NewInputQueue(3)
	isr := ISR(&c, q)
	if err := isr(10, 0); !errors.Is(err, ErrQueueFull) {
		t.Errorf("ISR with overflow = %v", err)
	}
	dst := make([]byte, 8)
	if n := q.Read(dst); string(dst[:n]) != "hel" {
		t.Errorf("queued %q, want %q", dst[:n], "hel")
	}
	if err := isr(10, 0); err != nil {
		t.Errorf("ISR with no input = %v", err)
	}
}

func TestBufferDevice(t *testing.T) {
	var out bytes.Buffer
	var c Console
	c.SetDevice(NewBufferDevice(&out))
	fmt.Fprint(&c, "no newline")
	if got := out.String(); got != "no newline" {
		t.Errorf("device wrote %q", got)
	}
	if _, ok := c.TryRead(); ok {
		t.Errorf("TryRead before Feed returned a byte")
	}
}

func TestStreamDevice(t *testing.T) {
	var out bytes.Buffer
	interrupts := make(chan struct{}, 16)
	d := NewStreamDevice(strings.NewReader("ok"), &out, func() { interrupts <- struct{}{} })
	var c Console
	if err := c.SetDevice(d); err != nil {
		t.Fatalf("SetDevice: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-interrupts:
		case <-time.After(10 * time.Second):
			t.Fatalf("no interrupt for byte %d", i)
		}
	}
	q := NewInputQueue(DefaultInputQueueSize)
	if err := ISR(&c, q)(1, 0); err != nil {
		t.Fatalf("ISR: %v", err)
	}
	dst := make([]byte, 8)
	if n := q.Read(dst); string(dst[:n]) != "ok" {
		t.Errorf("received %q", dst[:n])
	}
	if b := c.Read(); b != 0 {
		t.Errorf("Read after end of input = %q", b)
	}

	c.Write([]byte("partial"))
	if out.Len() != 0 {
		t.Errorf("output flushed before a newline: %q", out.String())
	}
	c.Write([]byte(" line\n"))
	if got := out.String(); got != "partial line\n" {
		t.Errorf("output = %q", got)
	}
}
