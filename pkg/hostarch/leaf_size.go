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

// LeafSize selects the granularity of a leaf mapping.
type LeafSize uint8

const (
	// Kilopage is a 4KiB leaf at the last level of the table. It must be the
	// zero value for LeafSize.
	Kilopage LeafSize = iota

	// Megapage is a 2MiB leaf installed one level above the last.
	Megapage

	// Gigapage is a 1GiB leaf installed in the root table.
	Gigapage

	// NumLeafSizes is the number of leaf sizes.
	NumLeafSizes
)

// Bytes returns the size of a page of this granularity.
func (ps LeafSize) Bytes() uintptr {
	switch ps {
	case Kilopage:
		return PageSize
	case Megapage:
		return 1 << MegaPageShift
	case Gigapage:
		return 1 << GigaPageShift
	default:
		panic(fmt.Sprintf("invalid leaf size %d", ps))
	}
}

// Level returns the table level at which a leaf of this size is installed.
// Level 0 is the last table in a walk.
func (ps LeafSize) Level() int {
	return int(ps)
}

// LeafSizeForLevel returns the size of a leaf installed at the given level.
func LeafSizeForLevel(level int) LeafSize {
	return LeafSize(level)
}

// String implements fmt.Stringer.String.
func (ps LeafSize) String() string {
	switch ps {
	case Kilopage:
		return "Kilopage"
	case Megapage:
		return "Megapage"
	case Gigapage:
		return "Gigapage"
	default:
		return fmt.Sprintf("%d", ps)
	}
}

// ShortString returns a one-character tag used by table dumps.
func (ps LeafSize) ShortString() string {
	switch ps {
	case Kilopage:
		return "K"
	case Megapage:
		return "M"
	case Gigapage:
		return "G"
	default:
		return fmt.Sprintf("%d", ps)
	}
}
