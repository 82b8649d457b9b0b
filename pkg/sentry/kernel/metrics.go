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

package kernel

import (
	"tessera.dev/tessera/pkg/abi/tessera"
	"tessera.dev/tessera/pkg/metric"
	"tessera.dev/tessera/pkg/sentry/arch"
)

// otherSyscall labels syscall numbers without an ABI name.
const otherSyscall = "other"

var (
	trapCount = metric.MustCreateNewUint64Metric("/traps",
		"Number of traps taken, by cause.",
		metric.NewField("cause", trapCauses()))

	syscallCount = metric.MustCreateNewUint64Metric("/syscalls",
		"Number of system calls made, by syscall.",
		metric.NewField("syscall", syscallNames()))

	taskDeaths = metric.MustCreateNewUint64Metric("/task_deaths",
		"Number of tasks that died, by reason.",
		metric.NewField("reason", deathReasons))
)

func trapCauses() []string {
	var causes []string
	for _, t := range arch.Traps() {
		causes = append(causes, t.String())
	}
	return append(causes, arch.Reserved.String())
}

func syscallNames() []string {
	var names []string
	for no := tessera.SysExit; no <= tessera.SysGrantCapability; no++ {
		names = append(names, no.String())
	}
	return append(names, otherSyscall)
}

// syscallLabel returns the metric label for syscall number no.
func syscallLabel(no uint64) string {
	if no > uint64(tessera.SysGrantCapability) {
		return otherSyscall
	}
	return tessera.Syscall(no).String()
}
