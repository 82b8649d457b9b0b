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
	"strconv"

	"github.com/google/subcommands"
	"tessera.dev/tessera/pkg/sentry/arch"
)

// Decode implements subcommands.Command for the "decode" command.
type Decode struct {
	stdout io.Writer
}

// Name implements subcommands.Command.Name.
func (*Decode) Name() string {
	return "decode"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Decode) Synopsis() string {
	return "decode scause values"
}

// Usage implements subcommands.Command.Usage.
func (*Decode) Usage() string {
	return `decode <scause>... - print the trap each scause value stands for.

Values may be decimal, or hexadecimal with a 0x prefix.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Decode) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (d *Decode) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	out := d.stdout
	if out == nil {
		out = os.Stdout
	}
	for _, arg := range f.Args() {
		if err := decodeCause(out, arg); err != nil {
			return Errorf("%v", err)
		}
	}
	return subcommands.ExitSuccess
}

// decodeCause writes the decoding of one scause value.
func decodeCause(w io.Writer, s string) error {
	cause, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid scause %q: %w", s, err)
	}
	trap := arch.TrapFromCause(cause)
	_, err = fmt.Fprintf(w, "%#x: %s (interrupt=%t code=%d)\n",
		cause, trap, cause&arch.InterruptBit != 0, cause&^uint64(arch.InterruptBit))
	return err
}
