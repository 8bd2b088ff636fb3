//go:build unix

package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// shellPath is the POSIX shell used to apply ulimit before exec'ing the
// interpreter. Empty when no shell is available.
var shellPath = sync.OnceValue(func() string {
	path, err := exec.LookPath("sh")
	if err != nil {
		return ""
	}
	return path
})

// addressLimitSupported is true where `ulimit -v` is honoured by the kernel.
// macOS accepts the builtin but does not enforce RLIMIT_AS.
func addressLimitSupported() bool {
	return runtime.GOOS == "linux" && shellPath() != ""
}

// groupControl places each child in a fresh process group so that one
// kill(-pgid) reaches every descendant that did not call setsid itself.
type groupControl struct{}

func newPlatformControl() Control {
	return groupControl{}
}

func platformCapabilities() Capabilities {
	return Capabilities{
		Backend:          "process",
		ProcessGroups:    true,
		MemoryLimit:      addressLimitSupported(),
		MemoryAccounting: true,
	}
}

func (groupControl) Start(cmd *exec.Cmd, limits Limits) error {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if limits.MemoryBytes > 0 && !limits.RuntimeEnforced && addressLimitSupported() && cmd.Err == nil {
		// The shell sets RLIMIT_AS on itself and then replaces itself with
		// the interpreter, so the limit is in place before any user code runs.
		script := fmt.Sprintf(`ulimit -v %d && exec "$0" "$@"`, limits.MemoryBytes/1024)
		args := append([]string{"sh", "-c", script, cmd.Path}, cmd.Args[1:]...)
		cmd.Path = shellPath()
		cmd.Args = args
	}

	return cmd.Start()
}

func (groupControl) Terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if err != nil && !errors.Is(err, unix.ESRCH) && !errors.Is(err, unix.EPERM) {
		return fmt.Errorf("supervisor: killing process group %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

// peakMemory reads the max RSS from the reaped child's rusage.
// Linux and the BSDs report kilobytes, Darwin reports bytes.
func peakMemory(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok || ru == nil {
		return 0
	}
	maxrss := int64(ru.Maxrss)
	if runtime.GOOS == "darwin" || runtime.GOOS == "ios" {
		return maxrss
	}
	return maxrss * 1024
}
