//go:build unix

package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcess(maxOutput int64) *Process {
	return NewProcess(Options{MaxOutputBytes: maxOutput}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func sh(script string) Command {
	return Command{Path: "/bin/sh", Args: []string{"-c", script}}
}

func TestProcess_Run_CapturesStreamsAndExitCode(t *testing.T) {
	p := newTestProcess(0)

	res := p.Run(context.Background(), sh(`echo hello; echo oops >&2; exit 3`), "", Limits{Timeout: 5 * time.Second})

	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t, 3, res.ExitCode)
	assert.False(t, res.TimedOut)
	assert.False(t, res.Failed)
}

func TestProcess_Run_StdinGetsTrailingNewline(t *testing.T) {
	p := newTestProcess(0)

	res := p.Run(context.Background(), sh(`read line; echo "got:$line"`), "abc", Limits{Timeout: 5 * time.Second})

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "got:abc\n", res.Stdout)
}

func TestProcess_Run_StdinNewlineNotDoubled(t *testing.T) {
	p := newTestProcess(0)

	res := p.Run(context.Background(), sh(`wc -l`), "a\nb\n", Limits{Timeout: 5 * time.Second})

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "2", strings.TrimSpace(res.Stdout))
}

func TestProcess_Run_EmptyStdinIsEOF(t *testing.T) {
	p := newTestProcess(0)

	res := p.Run(context.Background(), sh(`cat | wc -c`), "", Limits{Timeout: 5 * time.Second})

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "0", strings.TrimSpace(res.Stdout))
}

func TestProcess_Run_Timeout(t *testing.T) {
	p := newTestProcess(0)

	start := time.Now()
	res := p.Run(context.Background(), sh(`echo partial; sleep 30`), "", Limits{Timeout: 200 * time.Millisecond})
	elapsed := time.Since(start)

	assert.True(t, res.TimedOut)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "execution timed out after 200ms", res.Stderr)
	assert.Empty(t, res.Stdout, "output produced before a timeout is discarded")
	assert.Less(t, elapsed, 3*time.Second)
}

func TestProcess_Run_TimeoutKillsDescendants(t *testing.T) {
	p := newTestProcess(0)

	// The background sleep inherits stdout; Run can only return promptly if
	// the whole group is killed.
	start := time.Now()
	res := p.Run(context.Background(), sh(`sleep 30 & sleep 30`), "", Limits{Timeout: 200 * time.Millisecond})

	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), drainGrace)
}

func TestProcess_Run_ExitWithBackgroundChild(t *testing.T) {
	p := newTestProcess(0)

	// The background sleep keeps the output pipes open after sh exits.
	start := time.Now()
	res := p.Run(context.Background(), sh(`sleep 30 & echo done; exit 0`), "", Limits{Timeout: 3 * time.Second})

	assert.False(t, res.TimedOut)
	assert.False(t, res.Failed)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "done\n", res.Stdout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProcess_Run_ContextCancelled(t *testing.T) {
	p := newTestProcess(0)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res := p.Run(ctx, sh(`sleep 30`), "", Limits{Timeout: 10 * time.Second})

	assert.True(t, res.Failed)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "execution cancelled")
}

func TestProcess_Run_AlreadyCancelled(t *testing.T) {
	p := newTestProcess(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Run(ctx, sh(`echo never`), "", Limits{})

	assert.True(t, res.Failed)
	assert.Empty(t, res.Stdout)
}

func TestProcess_Run_StartFailure(t *testing.T) {
	p := newTestProcess(0)

	res := p.Run(context.Background(), Command{Path: "/nonexistent/interpreter"}, "", Limits{Timeout: time.Second})

	assert.True(t, res.Failed)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "failed to start process")
}

func TestProcess_Run_SignalDeath(t *testing.T) {
	p := newTestProcess(0)

	res := p.Run(context.Background(), sh(`kill -9 $$`), "", Limits{Timeout: 5 * time.Second})

	assert.Equal(t, 1, res.ExitCode)
	assert.False(t, res.Failed)
	assert.Contains(t, res.Stderr, "process terminated: signal: killed")
}

func TestProcess_Run_TruncatesOutput(t *testing.T) {
	p := newTestProcess(10)

	res := p.Run(context.Background(), sh(`printf 0123456789abcdef`), "", Limits{Timeout: 5 * time.Second})

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "0123456789", res.Stdout)
	assert.True(t, res.Truncated)
	assert.Equal(t, "output truncated to 10 bytes per stream", res.Stderr)
}

func TestProcess_Run_WorkingDirectory(t *testing.T) {
	p := newTestProcess(0)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print(1)"), 0o600))

	cmd := sh(`ls`)
	cmd.Dir = dir
	res := p.Run(context.Background(), cmd, "", Limits{Timeout: 5 * time.Second})

	require.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "main.py\n", res.Stdout)
}

func TestProcess_Run_AppliesAddressLimit(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("address-space limits are only applied on linux")
	}
	p := newTestProcess(0)

	res := p.Run(context.Background(), sh(`ulimit -v`), "", Limits{Timeout: 5 * time.Second, MemoryBytes: 64 << 20})

	require.Equal(t, 0, res.ExitCode, res.Stderr)
	assert.Equal(t, "65536", strings.TrimSpace(res.Stdout))
}

func TestProcess_Run_SkipsAddressLimitWhenRuntimeEnforced(t *testing.T) {
	p := newTestProcess(0)

	limits := Limits{Timeout: 5 * time.Second, MemoryBytes: 64 << 20, RuntimeEnforced: true}
	res := p.Run(context.Background(), sh(`ulimit -v`), "", limits)

	require.Equal(t, 0, res.ExitCode, res.Stderr)
	assert.NotEqual(t, "65536", strings.TrimSpace(res.Stdout))
}

func TestProcess_Run_ReportsPeakMemory(t *testing.T) {
	p := newTestProcess(0)

	res := p.Run(context.Background(), sh(`true`), "", Limits{Timeout: 5 * time.Second})

	assert.Equal(t, 0, res.ExitCode)
	assert.Positive(t, res.MemoryBytes)
}

func TestProcess_Capabilities(t *testing.T) {
	caps := newTestProcess(0).Capabilities()

	assert.Equal(t, "process", caps.Backend)
	assert.True(t, caps.ProcessGroups)
	assert.Equal(t, runtime.GOOS == "linux", caps.MemoryLimit)
}
