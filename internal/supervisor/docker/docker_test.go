package docker

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-runner/internal/supervisor"
)

// fakeClient simulates one container per test.
type fakeClient struct {
	mu sync.Mutex

	stdout    string
	stderr    string
	echoStdin bool
	exitCode  int64
	hang      bool
	oomKilled bool
	createErr error

	pulled     []string
	created    *container.Config
	hostConfig *container.HostConfig
	killed     bool
	removed    bool

	server net.Conn
	exited chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{exited: make(chan struct{})}
}

func (f *fakeClient) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, ref)
	return io.NopCloser(strings.NewReader(`{"status":"done"}`)), nil
}

func (f *fakeClient) ContainerCreate(_ context.Context, config *container.Config, hostConfig *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.created = config
	f.hostConfig = hostConfig
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeClient) ContainerAttach(_ context.Context, _ string, _ container.AttachOptions) (types.HijackedResponse, error) {
	clientSide, serverSide := net.Pipe()
	f.server = serverSide
	return types.HijackedResponse{Conn: clientSide, Reader: bufio.NewReader(clientSide)}, nil
}

func (f *fakeClient) ContainerStart(_ context.Context, _ string, _ container.StartOptions) error {
	go f.serve()
	return nil
}

func (f *fakeClient) serve() {
	out := stdcopy.NewStdWriter(f.server, stdcopy.Stdout)
	errOut := stdcopy.NewStdWriter(f.server, stdcopy.Stderr)

	if f.echoStdin {
		line, _ := bufio.NewReader(f.server).ReadString('\n')
		_, _ = out.Write([]byte(line))
	}
	if f.stdout != "" {
		_, _ = out.Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		_, _ = errOut.Write([]byte(f.stderr))
	}
	if f.hang {
		return
	}
	f.server.Close()
	close(f.exited)
}

func (f *fakeClient) ContainerWait(ctx context.Context, _ string, _ container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	waitCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		select {
		case <-f.exited:
			waitCh <- container.WaitResponse{StatusCode: f.exitCode}
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()
	return waitCh, errCh
}

func (f *fakeClient) ContainerInspect(_ context.Context, _ string) (container.InspectResponse, error) {
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			State: &container.State{OOMKilled: f.oomKilled},
		},
	}, nil
}

func (f *fakeClient) ContainerKill(_ context.Context, _ string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
	if f.server != nil {
		f.server.Close()
	}
	return nil
}

func (f *fakeClient) ContainerRemove(_ context.Context, _ string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = options.Force
	return nil
}

func (f *fakeClient) Close() error { return nil }

func newTestSupervisor(cli dockerClient) *Supervisor {
	return newWithClient(cli, DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func pythonCommand(t *testing.T) supervisor.Command {
	return supervisor.Command{Path: "/usr/bin/python3", Args: []string{"-I", "-u", "main.py"}, Dir: t.TempDir()}
}

func TestSupervisor_Run_Success(t *testing.T) {
	cli := newFakeClient()
	cli.stdout = "hello\n"
	cli.stderr = "warning\n"
	s := newTestSupervisor(cli)

	res := s.Run(context.Background(), pythonCommand(t), "", supervisor.Limits{Timeout: 5 * time.Second, MemoryBytes: 64 << 20})

	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "warning\n", res.Stderr)
	assert.False(t, res.TimedOut)
	assert.True(t, cli.removed, "container is force-removed after the run")

	require.NotNil(t, cli.created)
	assert.Equal(t, "python:3.12-alpine", cli.created.Image)
	assert.Equal(t, []string{"python3", "-I", "-u", "main.py"}, []string(cli.created.Cmd))
	assert.Equal(t, workspace, cli.created.WorkingDir)
	assert.True(t, cli.created.NetworkDisabled)

	require.NotNil(t, cli.hostConfig)
	assert.Equal(t, container.NetworkMode("none"), cli.hostConfig.NetworkMode)
	assert.Equal(t, []string{"ALL"}, []string(cli.hostConfig.CapDrop))
	assert.Equal(t, int64(64<<20), cli.hostConfig.Memory)
	assert.Equal(t, int64(64<<20), cli.hostConfig.MemorySwap)
	assert.True(t, strings.HasSuffix(cli.hostConfig.Binds[0], ":/workspace:ro"))
}

func TestSupervisor_Run_ForwardsStdin(t *testing.T) {
	cli := newFakeClient()
	cli.echoStdin = true
	s := newTestSupervisor(cli)

	res := s.Run(context.Background(), pythonCommand(t), "42", supervisor.Limits{Timeout: 5 * time.Second})

	assert.Equal(t, "42\n", res.Stdout)
}

func TestSupervisor_Run_NonZeroExit(t *testing.T) {
	cli := newFakeClient()
	cli.exitCode = 2
	cli.stderr = "Traceback\n"
	s := newTestSupervisor(cli)

	res := s.Run(context.Background(), pythonCommand(t), "", supervisor.Limits{Timeout: 5 * time.Second})

	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, "Traceback\n", res.Stderr)
}

func TestSupervisor_Run_OOMKilled(t *testing.T) {
	cli := newFakeClient()
	cli.exitCode = 137
	cli.oomKilled = true
	s := newTestSupervisor(cli)

	res := s.Run(context.Background(), pythonCommand(t), "", supervisor.Limits{Timeout: 5 * time.Second, MemoryBytes: 16 << 20})

	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "memory limit exceeded")
}

func TestSupervisor_Run_Timeout(t *testing.T) {
	cli := newFakeClient()
	cli.stdout = "partial"
	cli.hang = true
	s := newTestSupervisor(cli)

	res := s.Run(context.Background(), pythonCommand(t), "", supervisor.Limits{Timeout: 100 * time.Millisecond})

	assert.True(t, res.TimedOut)
	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, "execution timed out after 100ms", res.Stderr)
	assert.Empty(t, res.Stdout)
	assert.True(t, cli.killed)
	assert.True(t, cli.removed)
}

func TestSupervisor_Run_UnknownProgram(t *testing.T) {
	cli := newFakeClient()
	s := newTestSupervisor(cli)

	res := s.Run(context.Background(), supervisor.Command{Path: "ruby", Dir: t.TempDir()}, "", supervisor.Limits{})

	assert.True(t, res.Failed)
	assert.Contains(t, res.Stderr, `no image configured for "ruby"`)
	assert.Nil(t, cli.created)
}

func TestSupervisor_Run_CreateFailure(t *testing.T) {
	cli := newFakeClient()
	cli.createErr = errors.New("daemon unavailable")
	s := newTestSupervisor(cli)

	res := s.Run(context.Background(), pythonCommand(t), "", supervisor.Limits{Timeout: time.Second})

	assert.True(t, res.Failed)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "daemon unavailable")
}

func TestSupervisor_PullImages_Deduplicates(t *testing.T) {
	cli := newFakeClient()
	s := newTestSupervisor(cli)

	require.NoError(t, s.pullImages(context.Background()))

	assert.ElementsMatch(t, []string{"python:3.12-alpine", "node:22-alpine"}, cli.pulled)
}

func TestSupervisor_Capabilities(t *testing.T) {
	caps := newTestSupervisor(newFakeClient()).Capabilities()

	assert.Equal(t, "docker", caps.Backend)
	assert.True(t, caps.MemoryLimit)
}
