package supervisor

import "os/exec"

// Control is the platform-specific half of the supervisor. It is chosen once
// at build time (control_unix.go, control_windows.go, control_other.go).
//
// Start launches cmd with limits applied before the program begins
// executing. Terminate kills everything that Start created, including
// descendants, and releases any platform handles. Terminate is safe to call
// after the process has exited.
type Control interface {
	Start(cmd *exec.Cmd, limits Limits) error
	Terminate(cmd *exec.Cmd) error
}

// NewControl returns the Control for the current platform.
func NewControl() Control {
	return newPlatformControl()
}

// PlatformCapabilities reports what the process backend enforces here.
func PlatformCapabilities() Capabilities {
	return platformCapabilities()
}
