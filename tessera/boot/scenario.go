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


package boot

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mohae/deepcopy"
	"gopkg.in/yaml.v3"
	"tessera.dev/tessera/pkg/abi/tessera"
	"tessera.dev/tessera/pkg/hostarch"
	"tessera.dev/tessera/pkg/sentry/mm"
)

// Scenario describes a run of the simulated machine: the tasks to create and
// the events each hart goes through.
type Scenario struct {
	// Harts overrides the configured number of harts if nonzero.
	Harts int `yaml:"harts"`

	// Templates are task descriptions referenced by name from Tasks.
	Templates map[string]*TaskSpec `yaml:"templates"`

	// Tasks are created in order, so the first gets ID 1.
	Tasks []*TaskSpec `yaml:"tasks"`

	// Scripts drive the harts. Each runs on its own goroutine.
	Scripts []*Script `yaml:"scripts"`
}

// TaskSpec describes a task.
type TaskSpec struct {
	Name string `yaml:"name"`

	// Template names an entry of Scenario.Templates the task starts from.
	// Regions are appended to the template's and registers override it.
	Template string `yaml:"template"`

	// Count creates that many copies of the task, named Name-0, Name-1 and
	// so on. Zero means one.
	Count int `yaml:"count"`

	// PC is the initial program counter.
	PC uint64 `yaml:"pc"`

	// Registers maps register numbers 1 through 31 to initial values.
	Registers map[int]uint64 `yaml:"registers"`

	// Regions are mapped before the task first runs.
	Regions []RegionSpec `yaml:"regions"`
}

// RegionSpec describes memory mapped into a task.
type RegionSpec struct {
	// At is the page aligned address of the region.
	At uint64 `yaml:"at"`

	// Size is the size in bytes. It may be omitted if Data is set.
	Size uint64 `yaml:"size"`

	// Kind is the address region kind, e.g. "data" or "text".
	Kind string `yaml:"kind"`

	// Access is a combination of "r", "w" and "x".
	Access string `yaml:"access"`

	// Data is copied to the start of the region.
	Data string `yaml:"data"`

	// LargePage maps the region with megapages.
	LargePage bool `yaml:"large_page"`

	// Reserve occupies the range without memory, as a guard.
	Reserve bool `yaml:"reserve"`
}

// Script is the sequence of events a hart goes through.
type Script struct {
	Hart  int    `yaml:"hart"`
	Steps []Step `yaml:"steps"`
}

// Step operations.
const (
	OpSyscall  = "syscall"
	OpTimer    = "timer"
	OpExternal = "external"
	OpInput    = "input"
	OpLoad     = "load"
	OpStore    = "store"
	OpFetch    = "fetch"
	OpSet      = "set"
	OpFinisher = "finisher"
)

// Step is one event.
type Step struct {
	// Op selects the event.
	Op string `yaml:"op"`

	// Args are a0 onwards for a syscall.
	Args []uint64 `yaml:"args"`

	// Addr is the address of a load, store or fetch.
	Addr uint64 `yaml:"addr"`

	// Len is the size of a load.
	Len uint64 `yaml:"len"`

	// Data is stored by a store or typed by an input event.
	Data string `yaml:"data"`

	// Source is the interrupt source an external event raises. Zero
	// delivers whatever is pending.
	Source uint32 `yaml:"source"`

	// Reg and Value are the register and value of a set, or Value is the
	// word written to the finisher.
	Reg   int    `yaml:"reg"`
	Value uint64 `yaml:"value"`

	// Repeat runs the step that many times. Zero means once.
	Repeat int `yaml:"repeat"`
}

var regionKinds = map[string]mm.AddressRegionKind{
	"":               mm.Data,
	"channel":        mm.Channel,
	"data":           mm.Data,
	"guard":          mm.Guard,
	"readonly":       mm.ReadOnly,
	"stack":          mm.Stack,
	"text":           mm.Text,
	"tls":            mm.Tls,
	"user_allocated": mm.UserAllocated,
}

// LoadFile reads a scenario from a YAML file.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open scenario: %w", err)
	}
	defer f.Close()
	sc, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("unable to decode %q: %w", path, err)
	}
	return sc, nil
}

// Load decodes a scenario and expands its task templates. Unknown keys are
// errors.
func Load(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, err
	}
	if err := sc.expand(); err != nil {
		return nil, err
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadString is Load on a string.
func LoadString(s string) (*Scenario, error) {
	return Load(bytes.NewBufferString(s))
}

// expand replaces template references and counts with plain tasks.
func (sc *Scenario) expand() error {
	var tasks []*TaskSpec
	for i, ts := range sc.Tasks {
		if ts == nil {
			return fmt.Errorf("task %d is empty", i)
		}
		spec := ts
		if ts.Template != "" {
			tmpl, ok := sc.Templates[ts.Template]
			if !ok || tmpl == nil {
				return fmt.Errorf("task %q: unknown template %q", ts.Name, ts.Template)
			}
			spec = deepcopy.Copy(tmpl).(*TaskSpec)
			spec.Template = ""
			if ts.Name != "" {
				spec.Name = ts.Name
			}
			if ts.PC != 0 {
				spec.PC = ts.PC
			}
			if spec.Registers == nil && len(ts.Registers) > 0 {
				spec.Registers = make(map[int]uint64)
			}
			for reg, v := range ts.Registers {
				spec.Registers[reg] = v
			}
			spec.Regions = append(spec.Regions, ts.Regions...)
			spec.Count = ts.Count
		}
		if spec.Count <= 1 {
			if spec.Count < 0 {
				return fmt.Errorf("task %q: negative count", spec.Name)
			}
			spec.Count = 0
			tasks = append(tasks, spec)
			continue
		}
		for n := 0; n < spec.Count; n++ {
			c := deepcopy.Copy(spec).(*TaskSpec)
			c.Name = fmt.Sprintf("%s-%d", spec.Name, n)
			c.Count = 0
			tasks = append(tasks, c)
		}
	}
	sc.Tasks = tasks
	return nil
}

func (sc *Scenario) validate() error {
	if sc.Harts < 0 {
		return fmt.Errorf("negative hart count %d", sc.Harts)
	}
	for _, ts := range sc.Tasks {
		if ts.Name == "" {
			return fmt.Errorf("task without a name")
		}
		for reg := range ts.Registers {
			if reg < 1 || reg > 31 {
				return fmt.Errorf("task %q: register x%d out of range", ts.Name, reg)
			}
		}
		for _, r := range ts.Regions {
			if _, _, err := r.resolve(); err != nil {
				return fmt.Errorf("task %q: region at %#x: %w", ts.Name, r.At, err)
			}
		}
	}
	for _, s := range sc.Scripts {
		if s == nil {
			return fmt.Errorf("empty script")
		}
		if s.Hart < 0 {
			return fmt.Errorf("script for negative hart %d", s.Hart)
		}
		for i, st := range s.Steps {
			if err := st.validate(); err != nil {
				return fmt.Errorf("hart %d step %d: %w", s.Hart, i, err)
			}
		}
	}
	return nil
}

// resolve returns the region kind and access.
func (r *RegionSpec) resolve() (mm.AddressRegionKind, hostarch.AccessType, error) {
	kind, ok := regionKinds[r.Kind]
	if !ok {
		return 0, hostarch.AccessType{}, fmt.Errorf("unknown kind %q", r.Kind)
	}
	var at hostarch.AccessType
	for _, c := range r.Access {
		switch c {
		case 'r':
			at.Read = true
		case 'w':
			at.Write = true
		case 'x':
			at.Execute = true
		default:
			return 0, hostarch.AccessType{}, fmt.Errorf("invalid access %q", r.Access)
		}
	}
	if !r.Reserve && !at.Any() {
		return 0, hostarch.AccessType{}, fmt.Errorf("no access")
	}
	if !hostarch.VirtualAddress(r.At).IsPageAligned() {
		return 0, hostarch.AccessType{}, fmt.Errorf("address not page aligned")
	}
	if r.Size == 0 && r.Data == "" {
		return 0, hostarch.AccessType{}, fmt.Errorf("no size")
	}
	if r.Reserve && r.Data != "" {
		return 0, hostarch.AccessType{}, fmt.Errorf("reserved region with data")
	}
	if r.Size != 0 && uint64(len(r.Data)) > r.Size {
		return 0, hostarch.AccessType{}, fmt.Errorf("%d bytes of data do not fit in %d", len(r.Data), r.Size)
	}
	return kind, at, nil
}

// options returns the allocation options of the region.
func (r *RegionSpec) options() tessera.AllocationOptions {
	opts := tessera.AllocZero
	if r.LargePage {
		opts |= tessera.AllocLargePage
	}
	return opts
}

func (st *Step) validate() error {
	switch st.Op {
	case OpSyscall:
		if len(st.Args) == 0 || len(st.Args) > 8 {
			return fmt.Errorf("syscall takes 1 to 8 arguments, got %d", len(st.Args))
		}
	case OpTimer, OpExternal, OpFetch, OpFinisher:
	case OpInput:
		if st.Data == "" {
			return fmt.Errorf("input without data")
		}
	case OpLoad:
		if st.Len == 0 {
			return fmt.Errorf("load without length")
		}
	case OpStore:
		if st.Data == "" {
			return fmt.Errorf("store without data")
		}
	case OpSet:
		if st.Reg < 1 || st.Reg > 31 {
			return fmt.Errorf("register x%d out of range", st.Reg)
		}
	default:
		return fmt.Errorf("unknown op %q, must be one of %s", st.Op, strings.Join([]string{
			OpSyscall, OpTimer, OpExternal, OpInput, OpLoad, OpStore, OpFetch, OpSet, OpFinisher,
		}, ", "))
	}
	if st.Repeat < 0 {
		return fmt.Errorf("negative repeat")
	}
	return nil
}
