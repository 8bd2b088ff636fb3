//go:build windows

package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// jobControl binds every child to a job object configured to kill all of
// its processes when the handle closes. The process is assigned right
// after creation, so descendants spawned in that window escape the job.
type jobControl struct {
	mu   sync.Mutex
	jobs map[*exec.Cmd]windows.Handle
}

func newPlatformControl() Control {
	return &jobControl{jobs: make(map[*exec.Cmd]windows.Handle)}
}

func platformCapabilities() Capabilities {
	return Capabilities{
		Backend:          "process",
		ProcessGroups:    true,
		MemoryLimit:      true,
		MemoryAccounting: false,
	}
}

func (c *jobControl) Start(cmd *exec.Cmd, limits Limits) error {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return fmt.Errorf("supervisor: creating job object: %w", err)
	}

	var info windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION
	info.BasicLimitInformation.LimitFlags = windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE
	if limits.MemoryBytes > 0 {
		info.BasicLimitInformation.LimitFlags |= windows.JOB_OBJECT_LIMIT_PROCESS_MEMORY
		info.ProcessMemoryLimit = uintptr(limits.MemoryBytes)
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		windows.CloseHandle(job)
		return fmt.Errorf("supervisor: configuring job object: %w", err)
	}

	if err := cmd.Start(); err != nil {
		windows.CloseHandle(job)
		return err
	}

	proc, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(cmd.Process.Pid))
	if err == nil {
		err = windows.AssignProcessToJobObject(job, proc)
		windows.CloseHandle(proc)
	}
	if err != nil {
		_ = cmd.Process.Kill()
		windows.CloseHandle(job)
		return fmt.Errorf("supervisor: assigning process to job: %w", err)
	}

	c.mu.Lock()
	c.jobs[cmd] = job
	c.mu.Unlock()
	return nil
}

func (c *jobControl) Terminate(cmd *exec.Cmd) error {
	c.mu.Lock()
	job, ok := c.jobs[cmd]
	delete(c.jobs, cmd)
	c.mu.Unlock()

	if !ok {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil
	}

	_ = windows.TerminateJobObject(job, 1)
	if err := windows.CloseHandle(job); err != nil {
		return fmt.Errorf("supervisor: closing job object: %w", err)
	}
	return nil
}

func peakMemory(*os.ProcessState) int64 {
	return 0
}
