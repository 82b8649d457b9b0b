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
package hostarch

import "fmt"

// AddrRange is a half-open range of virtual addresses [Start, End).
type AddrRange struct {
	Start VirtualAddress
	End   VirtualAddress
}

// WellFormed returns true if r.Start <= r.End.
func (r AddrRange) WellFormed() bool {
	return r.Start <= r.End
}

// Length returns the length of the range.
func (r AddrRange) Length() uintptr {
	return uintptr(r.End - r.Start)
}

// Empty returns true if the range has zero length.
func (r AddrRange) Empty() bool {
	return r.Start == r.End
}

// Contains returns true if addr lies within r.
func (r AddrRange) Contains(addr VirtualAddress) bool {
	return r.Start <= addr && addr < r.End
}

// IsSupersetOf returns true if r fully contains other.
func (r AddrRange) IsSupersetOf(other AddrRange) bool {
	return r.Start <= other.Start && other.End <= r.End
}

// Overlaps returns true if r and other share at least one address.
func (r AddrRange) Overlaps(other AddrRange) bool {
	return r.Start < other.End && other.Start < r.End
}

// IsPageAligned returns true if both ends of r are page aligned.
func (r AddrRange) IsPageAligned() bool {
	return r.Start.IsPageAligned() && r.End.IsPageAligned()
}

// String implements fmt.Stringer.String.
func (r AddrRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", uintptr(r.Start), uintptr(r.End))
}

// RangeOf returns the range [start, start+length). ok is false if the end
// wraps.
func RangeOf(start VirtualAddress, length uintptr) (r AddrRange, ok bool) {
	end, ok := start.Add(length)
	return AddrRange{Start: start, End: end}, ok
}
