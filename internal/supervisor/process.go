package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// drainGrace bounds how long Run waits for the output pipes to close after
// the child exited or was killed. A descendant that escaped the process
// group can hold them open indefinitely.
const drainGrace = 2 * time.Second

// Options configures the process backend.
type Options struct {
	// MaxOutputBytes caps stdout and stderr independently.
	MaxOutputBytes int64
}

// Process runs commands as local child processes.
type Process struct {
	control Control
	opts    Options
	logger  *slog.Logger
}

// NewProcess creates a process-backed Supervisor for the current platform.
func NewProcess(opts Options, logger *slog.Logger) *Process {
	if opts.MaxOutputBytes <= 0 {
		opts.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Process{
		control: NewControl(),
		opts:    opts,
		logger:  logger,
	}
}

// Capabilities reports what this backend enforces on the current platform.
func (p *Process) Capabilities() Capabilities {
	return PlatformCapabilities()
}

// Run starts cmd, feeds it stdin and waits for it to exit, time out or be
// cancelled through ctx. The child and its process group are always killed
// before Run returns.
func (p *Process) Run(ctx context.Context, c Command, stdin string, limits Limits) Result {
	if err := ctx.Err(); err != nil {
		return failed("execution cancelled before start: %v", err)
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return failed("failed to open stdin: %v", err)
	}
	// The child writes straight into os.Pipe files, so cmd.Wait returns when
	// the process exits even if a descendant still holds the write ends.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return failed("failed to open stdout: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return failed("failed to open stderr: %v", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := p.control.Start(cmd, limits)
	// The child holds its own copies of the write ends.
	closeAll(stdoutW, stderrW)
	if startErr != nil {
		closeAll(stdoutR, stderrR)
		p.logger.Debug("process start failed", slog.String("path", c.Path), slog.String("error", startErr.Error()))
		return failed("failed to start process: %v", startErr)
	}
	defer closeAll(stdoutR, stderrR)
	defer p.terminate(cmd)

	p.logger.Debug("process started",
		slog.String("path", c.Path),
		slog.Int("pid", cmd.Process.Pid),
		slog.Duration("timeout", limits.Timeout),
		slog.Int64("memory_bytes", limits.MemoryBytes),
	)

	go feedStdin(stdinPipe, stdin)

	stdout := NewOutputBuffer(p.opts.MaxOutputBytes)
	stderr := NewOutputBuffer(p.opts.MaxOutputBytes)

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		_, _ = io.Copy(stdout, stdoutR)
	}()
	go func() {
		defer readers.Done()
		_, _ = io.Copy(stderr, stderrR)
	}()
	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if limits.Timeout > 0 {
		timer := time.NewTimer(limits.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case waitErr := <-done:
		// Background descendants die with the group; their output so far is kept.
		p.terminate(cmd)
		p.drain(drained, stdoutR, stderrR)
		return p.completed(cmd, waitErr, stdout, stderr)

	case <-timeout:
		p.terminate(cmd)
		<-done
		p.drain(drained, stdoutR, stderrR)
		p.logger.Debug("process timed out", slog.Int("pid", cmd.Process.Pid), slog.Duration("timeout", limits.Timeout))
		return Result{
			Stderr:      fmt.Sprintf("execution timed out after %s", limits.Timeout),
			ExitCode:    1,
			MemoryBytes: peakMemory(cmd.ProcessState),
			TimedOut:    true,
		}

	case <-ctx.Done():
		p.terminate(cmd)
		<-done
		p.drain(drained, stdoutR, stderrR)
		return Result{
			Stderr:   fmt.Sprintf("execution cancelled: %v", ctx.Err()),
			ExitCode: 1,
			Failed:   true,
		}
	}
}

func (p *Process) terminate(cmd *exec.Cmd) {
	if err := p.control.Terminate(cmd); err != nil {
		p.logger.Warn("failed to terminate process", slog.Int("pid", cmd.Process.Pid), slog.String("error", err.Error()))
	}
}

// drain waits for both output readers to reach EOF. If the pipes are still
// held open after drainGrace they are closed from this side.
func (p *Process) drain(drained <-chan struct{}, pipes ...io.Closer) {
	grace := time.NewTimer(drainGrace)
	defer grace.Stop()

	select {
	case <-drained:
		return
	case <-grace.C:
	}
	closeAll(pipes...)
	<-drained
}

func (p *Process) completed(cmd *exec.Cmd, waitErr error, stdout, stderr *OutputBuffer) Result {
	res := Result{
		Stdout:      stdout.String(),
		Stderr:      stderr.String(),
		MemoryBytes: peakMemory(cmd.ProcessState),
		Truncated:   stdout.Truncated() || stderr.Truncated(),
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode < 0 {
			// Killed by a signal: no exit status exists.
			res.ExitCode = 1
			res.Stderr = appendLine(res.Stderr, "process terminated: "+exitErr.ProcessState.String())
		}
	default:
		res.ExitCode = 1
		res.Failed = true
		res.Stderr = appendLine(res.Stderr, "failed to wait for process: "+waitErr.Error())
	}

	if res.Truncated {
		res.Stderr = appendLine(res.Stderr, fmt.Sprintf("output truncated to %d bytes per stream", p.opts.MaxOutputBytes))
	}

	p.logger.Debug("process exited",
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("exit_code", res.ExitCode),
		slog.Int64("memory_bytes", res.MemoryBytes),
	)
	return res
}

// feedStdin writes the payload, terminated by a newline, then closes the
// pipe. An empty payload closes stdin immediately so reads see EOF. Write
// errors are ignored: a child that exits without reading closes its end first.
func feedStdin(w io.WriteCloser, payload string) {
	defer w.Close()
	if payload == "" {
		return
	}
	if !strings.HasSuffix(payload, "\n") {
		payload += "\n"
	}
	_, _ = io.WriteString(w, payload)
}

func closeAll(closers ...io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

func failed(format string, args ...any) Result {
	return Result{
		Stderr:   fmt.Sprintf(format, args...),
		ExitCode: 1,
		Failed:   true,
	}
}

func appendLine(s, line string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s + line
	}
	return s + "\n" + line
}

var _ Supervisor = (*Process)(nil)
