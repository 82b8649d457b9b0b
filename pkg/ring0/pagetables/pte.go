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

package pagetables

import (
	"fmt"
	"strings"

	"tessera.dev/tessera/pkg/hostarch"
)

// PTE is a single Sv39 page table entry.
type PTE uint64

// Sv39 entry bits.
const (
	Valid      PTE = 1 << 0
	Readable   PTE = 1 << 1
	Writable   PTE = 1 << 2
	Executable PTE = 1 << 3
	User       PTE = 1 << 4
	Global     PTE = 1 << 5
	Accessed   PTE = 1 << 6
	Dirty      PTE = 1 << 7

	// FlagsMask covers every flag bit. Bits 8 and 9 are reserved for
	// software and left clear.
	FlagsMask PTE = 0xff

	permMask = Readable | Writable | Executable
	ppnShift = 10
	ppnMask  = (1 << 44) - 1
)

// PTEs is a collection of entries; one page table.
type PTEs [hostarch.EntriesPerTable]PTE

// EntryKind classifies an entry during a walk.
type EntryKind int

// Entry kinds.
const (
	// NotValid entries translate nothing.
	NotValid EntryKind = iota

	// Branch entries point at the next level table.
	Branch

	// Leaf entries map a page of the level's size.
	Leaf
)

// String implements fmt.Stringer.String.
func (k EntryKind) String() string {
	switch k {
	case NotValid:
		return "NotValid"
	case Branch:
		return "Branch"
	case Leaf:
		return "Leaf"
	default:
		return fmt.Sprintf("EntryKind(%d)", int(k))
	}
}

// MapOpts are the options for a leaf mapping.
type MapOpts struct {
	// AccessType defines permissions.
	AccessType hostarch.AccessType

	// Global indicates the mapping is present in every address space.
	Global bool

	// User indicates the page is accessible from user mode.
	User bool
}

// String implements fmt.Stringer.String.
func (o MapOpts) String() string {
	var b strings.Builder
	b.WriteString(o.AccessType.String())
	if o.User {
		b.WriteString(" user")
	}
	if o.Global {
		b.WriteString(" global")
	}
	return b.String()
}

// Kind returns the kind of the entry.
func (p PTE) Kind() EntryKind {
	switch {
	case p&Valid == 0:
		return NotValid
	case p&permMask == 0:
		return Branch
	default:
		return Leaf
	}
}

// Valid returns true iff this entry is valid.
func (p PTE) Valid() bool {
	return p&Valid != 0
}

// Address returns the physical address the entry points at.
func (p PTE) Address() hostarch.PhysicalAddress {
	return hostarch.PhysicalAddressFromPPN(uintptr(p>>ppnShift) & ppnMask)
}

// Flags returns the flag bits of the entry.
func (p PTE) Flags() PTE {
	return p & FlagsMask
}

// Opts returns the leaf options of the entry.
func (p PTE) Opts() MapOpts {
	if p.Kind() != Leaf {
		return MapOpts{}
	}
	return MapOpts{
		AccessType: hostarch.AccessType{
			Read:    p&Readable != 0,
			Write:   p&Writable != 0,
			Execute: p&Executable != 0,
		},
		Global: p&Global != 0,
		User:   p&User != 0,
	}
}

// Clear clears this entry.
func (p *PTE) Clear() {
	*p = 0
}

// Set sets this entry to a leaf mapping addr with opts. A write-only request
// is widened to read-write; Sv39 reserves W without R.
//
// Precondition: opts.AccessType.Any().
func (p *PTE) Set(addr hostarch.PhysicalAddress, opts MapOpts) {
	v := Valid | PTE(addr.PPN())<<ppnShift
	if opts.AccessType.Read || opts.AccessType.Write {
		v |= Readable
	}
	if opts.AccessType.Write {
		v |= Writable
	}
	if opts.AccessType.Execute {
		v |= Executable
	}
	if opts.User {
		v |= User
	}
	if opts.Global {
		v |= Global
	}
	*p = v
}

// SetFlags replaces the flag bits of a valid entry, keeping its address.
func (p *PTE) SetFlags(flags PTE) {
	*p = (*p &^ FlagsMask) | (flags & FlagsMask)
}

// setPageTable points this entry at the next level table.
func (p *PTE) setPageTable(addr hostarch.PhysicalAddress) {
	*p = Valid | PTE(addr.PPN())<<ppnShift
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	return fmt.Sprintf("%v[%s]", p.Address(), p.flagString())
}

// flagString renders the flag bits most significant first, "-" for clear.
func (p PTE) flagString() string {
	var b strings.Builder
	for _, f := range []struct {
		bit PTE
		c   byte
	}{
		{Dirty, 'D'}, {Accessed, 'A'}, {Global, 'G'}, {User, 'U'},
		{Executable, 'X'}, {Writable, 'W'}, {Readable, 'R'}, {Valid, 'V'},
	} {
		if p&f.bit != 0 {
			b.WriteByte(f.c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
