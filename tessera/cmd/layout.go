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
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"tessera.dev/tessera/pkg/sentry/arch"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	fp     bool
	stdout io.Writer
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "print the trap frame layout"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [flags] - print the offset of each register in the trap frame.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&l.fp, "fp", true, "include the floating point registers.")
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	out := l.stdout
	if out == nil {
		out = os.Stdout
	}
	if err := writeLayout(out, l.fp); err != nil {
		return Errorf("writing layout: %v", err)
	}
	return subcommands.ExitSuccess
}

func writeLayout(w io.Writer, fp bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "REG\tNAME\tOFFSET\n")
	for n := 1; n <= arch.GPRCount; n++ {
		fmt.Fprintf(tw, "x%d\t%s\t%d\n", n, arch.GPRName(n), arch.GPROffset(n))
	}
	if fp {
		for n := 0; n < arch.FPRCount; n++ {
			fmt.Fprintf(tw, "f%d\t\t%d\n", n, arch.FPROffset(n))
		}
		fmt.Fprintf(tw, "fcsr\t\t%d\n", arch.FCSROffset)
	}
	fmt.Fprintf(tw, "size\t\t%d\n", arch.TrapFrameSize)
	return tw.Flush()
}
