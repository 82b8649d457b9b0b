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
package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddRemove(t *testing.T) {
	b := New(64)
	for _, i := range []uint32{0, 3, 63, 64, 200} {
		b.Add(i)
	}
	if got, want := b.GetNumOnes(), uint32(5); got != want {
		t.Errorf("GetNumOnes() = %d, want %d", got, want)
	}
	if b.Size() < 201 {
		t.Errorf("Size() = %d, want at least 201", b.Size())
	}
	b.Remove(3)
	b.Remove(3)
	b.Remove(10000)
	if diff := cmp.Diff([]uint32{0, 63, 64, 200}, b.ToSlice()); diff != "" {
		t.Errorf("ToSlice() mismatch (-want +got):\n%s", diff)
	}
	if b.Contains(3) || !b.Contains(200) || b.Contains(5000) {
		t.Errorf("Contains gave wrong membership for %v", b.ToSlice())
	}
}

func TestFirstZero(t *testing.T) {
	b := New(128)
	for i := uint32(0); i < 70; i++ {
		b.Add(i)
	}
	if got, err := b.FirstZero(0); err != nil || got != 70 {
		t.Errorf("FirstZero(0) = %d, %v, want 70", got, err)
	}
	if got, err := b.FirstZero(100); err != nil || got != 100 {
		t.Errorf("FirstZero(100) = %d, %v, want 100", got, err)
	}
	for i := uint32(70); i < 128; i++ {
		b.Add(i)
	}
	if _, err := b.FirstZero(0); err == nil {
		t.Errorf("FirstZero on a full bitmap succeeded")
	}
	if err := b.Grow(1); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if got, err := b.FirstZero(0); err != nil || got != 128 {
		t.Errorf("FirstZero(0) after Grow = %d, %v, want 128", got, err)
	}
	b.Reset()
	if !b.IsEmpty() {
		t.Errorf("IsEmpty() = false after Reset")
	}
}
