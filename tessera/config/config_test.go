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


package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func newFlagSet(t *testing.T) *flag.FlagSet {
	t.Helper()
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	return testFlags
}

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tessera.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t))
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
	mc := c.Machine()
	if mc.Harts != 1 || mc.MemorySize != 32<<20 || mc.InterruptSources != 64 {
		t.Errorf("Machine() = %+v", mc)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := newFlagSet(t)
	if err := testFlags.Parse([]string{"-debug", "-harts=4", "-memory-mib=64", "-log-format=json"}); err != nil {
		t.Fatal(err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := 4; c.Harts != want {
		t.Errorf("Harts=%v, want: %v", c.Harts, want)
	}
	if want := uint64(64 << 20); c.Machine().MemorySize != want {
		t.Errorf("MemorySize=%v, want: %v", c.Machine().MemorySize, want)
	}
	if want := "json"; c.LogFormat != want {
		t.Errorf("LogFormat=%v, want: %v", c.LogFormat, want)
	}
}

func TestToFlagsFromFlags(t *testing.T) {
	testFlags := newFlagSet(t)
	testFlags.Set("debug", "true")
	testFlags.Set("alsologtostderr", "false") // Matches default value.
	testFlags.Set("harts", "2")
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"--debug=true", "--harts=2"}
	if diff := cmp.Diff(want, c.ToFlags()); diff != "" {
		t.Errorf("ToFlags() mismatch (-want +got):\n%s", diff)
	}
}

func TestInvalid(t *testing.T) {
	for _, args := range [][]string{
		{"-harts=0"},
		{"-memory-mib=0"},
		{"-log-format=xml"},
		{"-debug-log-format=xml"},
		{"-interrupt-sources=1"},
		{"-console-interrupt=64"},
		{"-input-queue-size=-1"},
	} {
		testFlags := newFlagSet(t)
		if err := testFlags.Parse(args); err != nil {
			t.Fatal(err)
		}
		if _, err := NewFromFlags(testFlags); err == nil {
			t.Errorf("NewFromFlags(%v) succeeded", args)
		}
	}
}

func TestConfigFile(t *testing.T) {
	path := writeFile(t, strings.Join([]string{
		`harts = 3`,
		`debug = true`,
		`log-format = "logrus"`,
		`memory-mib = 16`,
	}, "\n"))
	testFlags := newFlagSet(t)
	// The command line wins over the file.
	if err := testFlags.Parse([]string{"-config=" + path, "-harts=2"}); err != nil {
		t.Fatal(err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	got := []any{c.Harts, c.Debug, c.LogFormat, c.MemoryMiB, c.ConfigFile}
	want := []any{2, true, "logrus", uint64(16), path}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for name, contents := range map[string]string{
		"unknown key":  `no-such-flag = 1`,
		"bad value":    `harts = "many"`,
		"nested table": "[machine]\nharts = 1",
		"syntax":       `harts = `,
		"recursive":    `config = "other.toml"`,
	} {
		testFlags := newFlagSet(t)
		if err := testFlags.Parse([]string{"-config=" + writeFile(t, contents)}); err != nil {
			t.Fatal(err)
		}
		if _, err := NewFromFlags(testFlags); err == nil {
			t.Errorf("%s: NewFromFlags succeeded", name)
		}
	}
}
