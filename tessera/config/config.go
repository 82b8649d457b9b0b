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


// Package config provides basic infrastructure to set configuration settings
// for tessera. Each setting is a flag on the global flag set, optionally
// overlaid by a TOML file.
package config

import (
	"fmt"

	"tessera.dev/tessera/pkg/log"
	"tessera.dev/tessera/pkg/sentry/platform/sim"
)

// Config holds configuration that is not part of a scenario file. All
// fields are set from flags of the same name.
type Config struct {
	// ConfigFile is a TOML file whose keys are flag names. Flags given on
	// the command line take precedence.
	ConfigFile string `flag:"config"`

	// LogFormat is the log format: "text", "json", "json-k8s" or
	// "logrus".
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// DebugLog is the path to log debug information to, if not empty. A
	// path ending in a slash names a directory.
	DebugLog string `flag:"debug-log"`

	// DebugLogFormat is the log format for DebugLog.
	DebugLogFormat string `flag:"debug-log-format"`

	// AlsoLogToStderr allows sending log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// PanicLog is the path where Go runtime panics are written.
	PanicLog string `flag:"panic-log"`

	// Harts is the number of harts of the simulated machine.
	Harts int `flag:"harts"`

	// MemoryMiB is the size of simulated RAM in MiB.
	MemoryMiB uint64 `flag:"memory-mib"`

	// InterruptSources is the number of PLIC sources.
	InterruptSources int `flag:"interrupt-sources"`

	// ConsoleInterrupt is the PLIC source the console raises on input. Zero
	// disables console interrupts.
	ConsoleInterrupt uint `flag:"console-interrupt"`

	// InputQueueSize is the capacity of the console input queue.
	InputQueueSize int `flag:"input-queue-size"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json", "json-k8s", "logrus":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', 'json-k8s' or 'logrus'", c.LogFormat)
	}
	switch c.DebugLogFormat {
	case "text", "json", "json-k8s", "logrus":
	default:
		return fmt.Errorf("invalid debug log format %q", c.DebugLogFormat)
	}
	if c.Harts < 1 {
		return fmt.Errorf("harts must be at least 1, got %d", c.Harts)
	}
	if c.MemoryMiB == 0 {
		return fmt.Errorf("memory-mib must be positive")
	}
	if c.InterruptSources < 2 {
		return fmt.Errorf("interrupt-sources must be at least 2, got %d", c.InterruptSources)
	}
	if c.ConsoleInterrupt >= uint(c.InterruptSources) {
		return fmt.Errorf("console-interrupt %d out of range [0, %d)", c.ConsoleInterrupt, c.InterruptSources)
	}
	if c.InputQueueSize < 0 {
		return fmt.Errorf("input-queue-size must not be negative, got %d", c.InputQueueSize)
	}
	return nil
}

// Machine returns the simulated machine configuration.
func (c *Config) Machine() sim.Config {
	mc := sim.DefaultConfig
	mc.Harts = c.Harts
	mc.MemorySize = c.MemoryMiB << 20
	mc.InterruptSources = c.InterruptSources
	return mc
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.Harts: %d", c.Harts)
	log.Infof("Config.MemoryMiB: %d", c.MemoryMiB)
	log.Infof("Config.InterruptSources: %d", c.InterruptSources)
	log.Infof("Config.ConsoleInterrupt: %d", c.ConsoleInterrupt)
	log.Infof("Config.Debug: %t", c.Debug)
	log.Infof("Config.LogFormat: %s", c.LogFormat)
	if c.ConfigFile != "" {
		log.Infof("Config.ConfigFile: %s", c.ConfigFile)
	}
}
