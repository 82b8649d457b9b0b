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

package metric

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/common/expfmt"
)

const (
	fooDescription     = "Foo!"
	counterDescription = "Counter\nwith a \\ newline"
)

func TestRegistration(t *testing.T) {
	defer unregister("/test/foo")

	if _, err := NewUint64Metric("/test/foo", fooDescription); err != nil {
		t.Fatalf("NewUint64Metric got err %v want nil", err)
	}
	if _, err := NewUint64Metric("/test/foo", fooDescription); err != ErrNameInUse {
		t.Errorf("duplicate NewUint64Metric got err %v want %v", err, ErrNameInUse)
	}
	for _, name := range []string{"", "/", "foo", "/Foo", "/foo/", "/foo-bar"} {
		if _, err := NewUint64Metric(name, fooDescription); err != ErrInvalidName {
			t.Errorf("NewUint64Metric(%q) got err %v want %v", name, err, ErrInvalidName)
		}
	}
	if _, err := NewUint64Metric("/test/nofield", fooDescription, NewField("f", nil)); err != ErrFieldHasNoAllowedValues {
		t.Errorf("NewUint64Metric with an empty field got err %v", err)
	}
}

func TestFieldMapper(t *testing.T) {
	m, err := newFieldMapper(
		NewField("a", []string{"a1", "a2"}),
		NewField("b", []string{"b1", "b2", "b3"}),
	)
	if err != nil {
		t.Fatalf("newFieldMapper: %v", err)
	}
	if got := m.numKeys(); got != 6 {
		t.Fatalf("numKeys = %d, want 6", got)
	}
	seen := make(map[int]bool)
	for _, a := range []string{"a1", "a2"} {
		for _, b := range []string{"b1", "b2", "b3"} {
			key := m.lookup(a, b)
			if seen[key] {
				t.Errorf("lookup(%s, %s) = %d, already used", a, b, key)
			}
			seen[key] = true
			if diff := cmp.Diff([]string{a, b}, m.keyToMultiField(key)); diff != "" {
				t.Errorf("keyToMultiField(%d) mismatch (-want +got):\n%s", key, diff)
			}
		}
	}

	defer func() {
		if recover() == nil {
			t.Errorf("lookup of a disallowed value did not panic")
		}
	}()
	m.lookup("a1", "b4")
}

func TestIncrement(t *testing.T) {
	defer unregister("/test/weirdness")

	counter := MustCreateNewUint64Metric("/test/weirdness", counterDescription,
		NewField("weirdness_type", []string{"weird1", "weird2"}))
	counter.IncrementBy(4, "weird1")
	counter.Increment("weird2")
	counter.Increment("weird1")

	if got := counter.Value("weird1"); got != 5 {
		t.Errorf("Value(weird1) = %d, want 5", got)
	}
	want := []Sample{
		{Fields: map[string]string{"weirdness_type": "weird1"}, Value: 5},
		{Fields: map[string]string{"weirdness_type": "weird2"}, Value: 1},
	}
	if diff := cmp.Diff(want, counter.Samples()); diff != "" {
		t.Errorf("Samples mismatch (-want +got):\n%s", diff)
	}
}

func TestWritePrometheus(t *testing.T) {
	defer unregister("/test/plain")
	defer unregister("/test/labeled")

	plain := MustCreateNewUint64Metric("/test/plain", fooDescription)
	labeled := MustCreateNewUint64Metric("/test/labeled", counterDescription,
		NewField("cause", []string{"timer", "ecall"}),
		NewField("hart", []string{"0", "1"}))
	plain.IncrementBy(3)
	labeled.Increment("ecall", "1")
	labeled.IncrementBy(7, "timer", "0")

	var buf bytes.Buffer
	if err := WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("exported text does not parse: %v\n%s", err, buf.String())
	}

	fam, ok := families["tessera_test_plain_total"]
	if !ok {
		t.Fatalf("no tessera_test_plain_total in %v", families)
	}
	if got := fam.GetHelp(); got != fooDescription {
		t.Errorf("help = %q, want %q", got, fooDescription)
	}
	if got := fam.GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Errorf("plain = %v, want 3", got)
	}

	fam, ok = families["tessera_test_labeled_total"]
	if !ok {
		t.Fatalf("no tessera_test_labeled_total in %v", families)
	}
	if got := fam.GetHelp(); got != counterDescription {
		t.Errorf("help = %q, want %q", got, counterDescription)
	}
	got := make(map[string]float64)
	for _, m := range fam.GetMetric() {
		var key string
		for _, l := range m.GetLabel() {
			key += l.GetName() + "=" + l.GetValue() + ";"
		}
		got[key] = m.GetCounter().GetValue()
	}
	want := map[string]float64{
		"cause=ecall;hart=1;": 1,
		"cause=timer;hart=0;": 7,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("labeled samples mismatch (-want +got):\n%s", diff)
	}
}
