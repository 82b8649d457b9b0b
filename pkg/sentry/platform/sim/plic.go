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

package sim

import (
	"github.com/bits-and-blooms/bitset"

	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/sentry/platform"
	"tessera.dev/tessera/pkg/sync"
)

// Context returns the PLIC context of a hart's supervisor mode.
func Context(hart int) int {
	return 1 + 2*hart
}

// PLIC is a platform-level interrupt controller.
//
// Source 0 does not exist. A source is delivered to a context if it is
// pending, enabled for the context, has a non-zero priority and is not
// already claimed.
type PLIC struct {
	// sources is the number of sources including source 0. Immutable.
	sources uint

	mu sync.Mutex

	// priority is indexed by source. Protected by mu.
	priority []uint8

	// pending and claimed are indexed by source. Protected by mu.
	pending *bitset.BitSet
	claimed *bitset.BitSet

	// enabled holds the enabled sources of each context. Protected by mu.
	enabled map[int]*bitset.BitSet
}

var _ platform.InterruptController = (*PLIC)(nil)

// NewPLIC returns a PLIC with the given number of sources.
func NewPLIC(sources int) *PLIC {
	return &PLIC{
		sources:  uint(sources),
		priority: make([]uint8, sources),
		pending:  bitset.New(uint(sources)),
		claimed:  bitset.New(uint(sources)),
		enabled:  make(map[int]*bitset.BitSet),
	}
}

func (p *PLIC) valid(id uint32) bool {
	if id == 0 || uint(id) >= p.sources {
		log.Warningf("PLIC: no interrupt source %d", id)
		return false
	}
	return true
}

// Raise marks source id pending, as a device asserting its line does.
func (p *PLIC) Raise(id uint32) {
	if !p.valid(id) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.Set(uint(id))
}

// bestLocked returns the deliverable source with the highest priority for
// ctx, the lowest ID among equals.
//
// Preconditions: p.mu is locked.
func (p *PLIC) bestLocked(ctx int) (uint32, bool) {
	enabled, ok := p.enabled[ctx]
	if !ok {
		return 0, false
	}
	var (
		best     uint
		bestPrio uint8
	)
	for id, ok := p.pending.NextSet(1); ok; id, ok = p.pending.NextSet(id + 1) {
		if !enabled.Test(id) || p.claimed.Test(id) {
			continue
		}
		if prio := p.priority[id]; prio > bestPrio {
			best, bestPrio = id, prio
		}
	}
	return uint32(best), bestPrio > 0
}

// Pending returns true if an interrupt can be claimed by hart.
func (p *PLIC) Pending(hart int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.bestLocked(Context(hart))
	return ok
}

// Claim implements platform.InterruptController.Claim.
func (p *PLIC) Claim(hart int) (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.bestLocked(Context(hart))
	if !ok {
		return 0, false
	}
	p.pending.Clear(uint(id))
	p.claimed.Set(uint(id))
	return id, true
}

// Complete implements platform.InterruptController.Complete. Completing a
// source not enabled for the hart is ignored.
func (p *PLIC) Complete(hart int, id uint32) {
	if !p.valid(id) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if enabled, ok := p.enabled[Context(hart)]; !ok || !enabled.Test(uint(id)) {
		return
	}
	p.claimed.Clear(uint(id))
}

// Enable implements platform.InterruptController.Enable.
func (p *PLIC) Enable(hart int, id uint32) {
	if !p.valid(id) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ctx := Context(hart)
	enabled, ok := p.enabled[ctx]
	if !ok {
		enabled = bitset.New(p.sources)
		p.enabled[ctx] = enabled
	}
	enabled.Set(uint(id))
}

// SetPriority implements platform.InterruptController.SetPriority.
// Priorities above platform.MaxInterruptPriority are clamped.
func (p *PLIC) SetPriority(id uint32, priority uint8) {
	if !p.valid(id) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priority[id] = min(priority, platform.MaxInterruptPriority)
}
