// Package supervisor owns the lifecycle of one untrusted subprocess run:
// stream wiring, the timeout race, forced termination and best-effort
// resource accounting.
//
// ISOLATION BOUNDARY:
// The process backend gives each run its own process group (a job object on
// Windows) and, on Linux, an address-space ceiling applied before the
// interpreter starts. It does not provide namespaces, seccomp filters or
// cgroup accounting. Capabilities reports what the running backend can
// actually enforce so callers never rely on a limit that is not applied.
package supervisor

import (
	"context"
	"time"
)

// Command describes the program to start.
type Command struct {
	// Path is the program. Bare names are resolved through PATH.
	Path string
	// Args are the arguments after the program name.
	Args []string
	// Dir is the working directory of the child.
	Dir string
	// Env is the complete child environment. Nil inherits the engine's.
	Env []string
}

// Limits are the ceilings for one run. Zero values mean "not limited".
type Limits struct {
	Timeout     time.Duration
	MemoryBytes int64
	// RuntimeEnforced is set when the interpreter bounds its own heap to
	// MemoryBytes. The process backend then skips the address-space ceiling,
	// which runtimes that reserve large virtual regions cannot start under.
	RuntimeEnforced bool
}

// Result is what the supervisor observed.
//
// ExitCode is 1 whenever the supervisor itself ended the run (timeout,
// cancellation, pipe or start failure); Stderr then carries the reason.
// MemoryBytes is the peak resident set size, or 0 when unknown.
type Result struct {
	Stdout      string
	Stderr      string
	ExitCode    int
	MemoryBytes int64
	TimedOut    bool
	Failed      bool
	Truncated   bool
}

// Capabilities advertises what a backend enforces and reports.
type Capabilities struct {
	Backend          string `json:"backend"`
	ProcessGroups    bool   `json:"process_groups"`
	MemoryLimit      bool   `json:"memory_limit"`
	MemoryAccounting bool   `json:"memory_accounting"`
}

// Supervisor runs one command to completion or forced termination.
// Run must return within limits.Timeout plus a small grace period.
type Supervisor interface {
	Run(ctx context.Context, cmd Command, stdin string, limits Limits) Result
	Capabilities() Capabilities
}
