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


package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/subcommands"
	"tessera.dev/tessera/tessera/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(fs)
	conf, err := config.NewFromFlags(fs)
	if err != nil {
		t.Fatal(err)
	}
	return conf
}

// parse registers c's flags on a new flag set and parses args.
func parse(t *testing.T, c subcommands.Command, args ...string) *flag.FlagSet {
	t.Helper()
	fs := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	c.SetFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v): %v", args, err)
	}
	return fs
}

func TestDecode(t *testing.T) {
	var out bytes.Buffer
	d := &Decode{stdout: &out}
	fs := parse(t, d, "0x8000000000000005", "13", "10")
	if got := d.Execute(context.Background(), fs); got != subcommands.ExitSuccess {
		t.Fatalf("Execute = %v", got)
	}
	want := "0x8000000000000005: SupervisorTimerInterrupt (interrupt=true code=5)\n" +
		"0xd: LoadPageFault (interrupt=false code=13)\n" +
		"0xa: Reserved (interrupt=false code=10)\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}

	if err := decodeCause(io.Discard, "cause"); err == nil {
		t.Errorf("decodeCause accepted a non-number")
	}
	if got := d.Execute(context.Background(), parse(t, d)); got != subcommands.ExitUsageError {
		t.Errorf("Execute without arguments = %v, want a usage error", got)
	}
}

func TestLayout(t *testing.T) {
	for _, tc := range []struct {
		fp    bool
		lines int
	}{
		{fp: true, lines: 1 + 31 + 32 + 2},
		{fp: false, lines: 1 + 31 + 1},
	} {
		var out bytes.Buffer
		if err := writeLayout(&out, tc.fp); err != nil {
			t.Fatalf("writeLayout: %v", err)
		}
		lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
		if len(lines) != tc.lines {
			t.Errorf("fp=%t: %d lines, want %d", tc.fp, len(lines), tc.lines)
			continue
		}
		if got, want := strings.Fields(lines[10]), []string{"x10", "a0", "72"}; !cmp.Equal(got, want) {
			t.Errorf("a0 line = %q, want %q", got, want)
		}
		if got, want := strings.Fields(lines[len(lines)-1]), []string{"size", "512"}; !cmp.Equal(got, want) {
			t.Errorf("size line = %q, want %q", got, want)
		}
	}
}

func TestSyscalls(t *testing.T) {
	var out bytes.Buffer
	s := &Syscalls{stdout: &out}
	if got := s.Execute(context.Background(), parse(t, s, "-o", "json")); got != subcommands.ExitSuccess {
		t.Fatalf("Execute = %v", got)
	}
	var docs []SyscallDoc
	if err := json.Unmarshal(out.Bytes(), &docs); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	names := []string{"exit", "print", "read_stdin", "alloc_virtual_memory", "alloc_dma_memory",
		"query_memory_capability", "free_virtual_memory", "grant_capability"}
	var want []SyscallDoc
	for i, name := range names {
		want = append(want, SyscallDoc{Num: uintptr(i), Name: name})
	}
	if diff := cmp.Diff(want, docs); diff != "" {
		t.Errorf("syscalls mismatch (-want +got):\n%s", diff)
	}

	out.Reset()
	if got := s.Execute(context.Background(), parse(t, s, "-o", "csv")); got != subcommands.ExitSuccess {
		t.Fatalf("Execute = %v", got)
	}
	if !strings.HasPrefix(out.String(), "num,name\n0,exit\n") {
		t.Errorf("csv output = %q", out.String())
	}

	if got := s.Execute(context.Background(), parse(t, s, "-o", "xml")); got != subcommands.ExitFailure {
		t.Errorf("Execute with an unknown format = %v, want failure", got)
	}
}

const failScenario = `
tasks:
  - name: init
    pc: 0x10000
    regions:
      - at: 0x20000
        data: "boot\n"
        access: r
      - at: 0x21000
        size: 16
        access: rw
scripts:
  - hart: 0
    steps:
      - op: syscall
        args: [1, 0x20000, 5, 0x21000]
      - op: finisher
        value: 0x23333
`

func TestBoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte(failScenario), 0644); err != nil {
		t.Fatal(err)
	}
	metrics := filepath.Join(dir, "metrics.txt")

	var out bytes.Buffer
	b := &Boot{stdout: &out}
	fs := parse(t, b, "-metrics", metrics, path)
	code := -1
	if got := b.Execute(context.Background(), fs, testConfig(t), &code); got != subcommands.ExitSuccess {
		t.Fatalf("Execute = %v", got)
	}
	if code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if out.String() != "boot\n" {
		t.Errorf("console output = %q", out.String())
	}
	data, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	if !strings.Contains(string(data), "tessera_traps_total") {
		t.Errorf("metrics file lacks trap counts:\n%s", data)
	}
}

func TestBootErrors(t *testing.T) {
	b := &Boot{stdout: io.Discard}
	if got := b.Execute(context.Background(), parse(t, b), testConfig(t)); got != subcommands.ExitUsageError {
		t.Errorf("Execute without a scenario = %v, want a usage error", got)
	}
	missing := filepath.Join(t.TempDir(), "missing.yaml")
	if got := b.Execute(context.Background(), parse(t, b, missing), testConfig(t)); got != subcommands.ExitFailure {
		t.Errorf("Execute with a missing scenario = %v, want failure", got)
	}
}

func TestEOFReader(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"abc", "abc"},
		{"ab\x04cd", "ab"},
		{"\x03cd", ""},
	} {
		got, err := io.ReadAll(&eofReader{r: strings.NewReader(tc.in)})
		if err != nil {
			t.Errorf("ReadAll(%q): %v", tc.in, err)
		}
		if string(got) != tc.want {
			t.Errorf("ReadAll(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
