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
	"io"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/term"
	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/sentry/platform"
	"tessera.dev/tessera/tessera/boot"
	"tessera.dev/tessera/tessera/config"
)

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	// dump writes the address space of every live task to stderr after
	// the run.
	dump bool

	// metricsPath is a file the metrics are written to after the run.
	metricsPath string

	// interactive reads console input from stdin.
	interactive bool

	// stdout and stdin default to os.Stdout and os.Stdin.
	stdout io.Writer
	stdin  *os.File
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "boot the kernel on a simulated machine and run a scenario"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot [flags] <scenario.yaml> - boot the kernel and run the scenario.

The exit status is that of the machine: 0 if it passed or is still running
when the scenario ends, or the failure code written to the finisher.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&b.dump, "dump", false, "write the address spaces of live tasks to stderr after the run.")
	f.StringVar(&b.metricsPath, "metrics", "", "file to write metrics to after the run, in the Prometheus text format.")
	f.BoolVar(&b.interactive, "interactive", false, "read console input from stdin. Ctrl-D ends the input.")
}

// Execute implements subcommands.Command.Execute. args[0] is the
// configuration and args[1], if present, an *int receiving the exit status.
func (b *Boot) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	stdout := b.stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	sc, err := boot.LoadFile(f.Arg(0))
	if err != nil {
		return Errorf("%v", err)
	}
	bargs := boot.Args{Conf: conf, Scenario: sc, Output: stdout}
	if b.interactive {
		stdin := b.stdin
		if stdin == nil {
			stdin = os.Stdin
		}
		restore, err := rawMode(stdin)
		if err != nil {
			return Errorf("setting up the terminal: %v", err)
		}
		defer restore()
		bargs.Input = &eofReader{r: stdin}
	}

	r, err := boot.New(bargs)
	if err != nil {
		return Errorf("%v", err)
	}
	defer r.Release()
	res, err := r.Run(ctx)
	if err != nil {
		return Errorf("%v", err)
	}

	if b.dump {
		if err := r.Dump(os.Stderr); err != nil {
			return Errorf("dumping address spaces: %v", err)
		}
	}
	if b.metricsPath != "" {
		if err := writeMetrics(r, b.metricsPath); err != nil {
			return Errorf("writing metrics: %v", err)
		}
	}

	for _, t := range res.Tasks {
		log.Infof("Task %d %q: %s %s", t.ID, t.Name, t.State, t.Reason)
	}
	code := 0
	if res.Exited {
		log.Infof("Machine exited: %s", res.Status)
		if res.Status.Kind == platform.ExitFail {
			code = int(res.Status.Code)
			if code == 0 {
				code = 1
			}
		}
	} else {
		log.Infof("Scenario ended with the machine running")
	}
	if len(args) > 1 {
		*args[1].(*int) = code
	}
	return subcommands.ExitSuccess
}

func writeMetrics(r *boot.Runner, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.WriteMetrics(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// rawMode puts f in raw mode if it is a terminal, so that each key press
// reaches the console as typed.
func rawMode(f *os.File) (func(), error) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := term.Restore(fd, state); err != nil {
			log.Warningf("Restoring terminal: %v", err)
		}
	}, nil
}

// Control characters that end interactive input in raw mode.
const (
	ctrlC = 0x03
	ctrlD = 0x04
)

// eofReader passes r through up to the first Ctrl-C or Ctrl-D.
type eofReader struct {
	r    io.Reader
	done bool
}

// Read implements io.Reader.Read.
func (e *eofReader) Read(p []byte) (int, error) {
	if e.done {
		return 0, io.EOF
	}
	n, err := e.r.Read(p)
	for i, c := range p[:n] {
		if c == ctrlC || c == ctrlD {
			e.done = true
			if i == 0 {
				return 0, io.EOF
			}
			return i, nil
		}
	}
	return n, err
}
