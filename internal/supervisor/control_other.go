//go:build !unix && !windows

package supervisor

import (
	"os"
	"os/exec"
)

// basicControl has no grouping primitive: only the direct child is killed.
type basicControl struct{}

func newPlatformControl() Control {
	return basicControl{}
}

func platformCapabilities() Capabilities {
	return Capabilities{Backend: "process"}
}

func (basicControl) Start(cmd *exec.Cmd, _ Limits) error {
	return cmd.Start()
}

func (basicControl) Terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Kill()
	return nil
}

func peakMemory(*os.ProcessState) int64 {
	return 0
}
