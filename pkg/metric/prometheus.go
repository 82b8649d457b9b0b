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
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Prometheus escape rules: label values escape backslashes, double quotes
// and line breaks; help text escapes only backslashes and line breaks.
var (
	helpEscaper  = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
)

// WritePrometheus writes every registered metric to w in the Prometheus
// text exposition format, documented at:
// https://prometheus.io/docs/instrumenting/exposition_formats/
func WritePrometheus(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, m := range Metrics() {
		if err := m.writePrometheus(bw); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func (m *Uint64Metric) writePrometheus(w io.Writer) error {
	name := prometheusName(m.name)
	if m.description != "" {
		if _, err := fmt.Fprintf(w, "# HELP %s %s\n", name, helpEscaper.Replace(m.description)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "# TYPE %s counter\n", name); err != nil {
		return err
	}
	for _, s := range m.Samples() {
		if _, err := fmt.Fprintf(w, "%s%s %d\n", name, labels(s.Fields), s.Value); err != nil {
			return err
		}
	}
	return nil
}

// labels formats fields as a Prometheus label set, ordered by name.
func labels(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=\"%s\"", k, labelEscaper.Replace(fields[k]))
	}
	b.WriteByte('}')
	return b.String()
}
