// Package docker is a Supervisor backend that runs each command in a
// throwaway container with networking disabled, all capabilities dropped and
// the scratch directory mounted read-only at /workspace.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/sakif/code-runner/internal/supervisor"
)

const (
	workspace    = "/workspace"
	cleanupGrace = 5 * time.Second
	drainGrace   = 2 * time.Second
)

// dockerClient is the subset of the Docker API the supervisor uses.
type dockerClient interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// Supervisor implements supervisor.Supervisor using Docker.
type Supervisor struct {
	cli    dockerClient
	config Config
	logger *slog.Logger
}

// New connects to the Docker daemon from the environment and pulls every
// configured image.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Supervisor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: creating client: %w", err)
	}

	s := newWithClient(cli, cfg, logger)
	if err := s.pullImages(ctx); err != nil {
		cli.Close()
		return nil, err
	}
	return s, nil
}

func newWithClient(cli dockerClient, cfg Config, logger *slog.Logger) *Supervisor {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = supervisor.DefaultMaxOutputBytes
	}
	return &Supervisor{cli: cli, config: cfg, logger: logger}
}

func (s *Supervisor) pullImages(ctx context.Context) error {
	pulled := make(map[string]bool)
	for _, ref := range s.config.Images {
		if pulled[ref] {
			continue
		}
		pulled[ref] = true

		s.logger.Info("ensuring docker image is available", slog.String("image", ref))
		reader, err := s.cli.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("docker: pulling image %s: %w", ref, err)
		}
		// Reading to EOF blocks until the pull completes.
		_, err = io.Copy(io.Discard, reader)
		reader.Close()
		if err != nil {
			return fmt.Errorf("docker: pulling image %s: %w", ref, err)
		}
	}
	s.logger.Info("docker images are ready", slog.Int("count", len(pulled)))
	return nil
}

// Close releases the Docker client.
func (s *Supervisor) Close() error {
	return s.cli.Close()
}

// Capabilities reports the container backend's guarantees.
func (s *Supervisor) Capabilities() supervisor.Capabilities {
	return supervisor.Capabilities{
		Backend:          "docker",
		ProcessGroups:    true,
		MemoryLimit:      true,
		MemoryAccounting: false,
	}
}

// Run executes cmd inside a fresh container. The command's working directory
// is mounted at /workspace and the program is resolved by base name inside
// the image. The host environment in cmd.Env is not forwarded.
func (s *Supervisor) Run(ctx context.Context, cmd supervisor.Command, stdin string, limits supervisor.Limits) supervisor.Result {
	if err := ctx.Err(); err != nil {
		return failed("execution cancelled before start: %v", err)
	}

	program := path.Base(cmd.Path)
	ref, ok := s.config.Images[program]
	if !ok {
		return failed("no image configured for %q", program)
	}
	if cmd.Dir == "" {
		return failed("container runs require a working directory")
	}
	// The container user is not the engine's uid.
	if err := os.Chmod(cmd.Dir, 0o755); err != nil {
		return failed("failed to prepare workspace: %v", err)
	}

	id, err := s.create(ctx, ref, program, cmd, limits)
	if err != nil {
		return failed("failed to create container: %v", err)
	}
	defer s.remove(id)

	attach, err := s.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return failed("failed to attach to container: %v", err)
	}
	defer attach.Close()

	if err := s.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return failed("failed to start container: %v", err)
	}

	go func() {
		if stdin != "" {
			if !strings.HasSuffix(stdin, "\n") {
				stdin += "\n"
			}
			_, _ = io.WriteString(attach.Conn, stdin)
		}
		_ = attach.CloseWrite()
	}()

	stdout := supervisor.NewOutputBuffer(s.config.MaxOutputBytes)
	stderr := supervisor.NewOutputBuffer(s.config.MaxOutputBytes)
	outputDone := make(chan struct{})
	go func() {
		// stdcopy demultiplexes the attached stream into stdout and stderr.
		_, _ = stdcopy.StdCopy(stdout, stderr, attach.Reader)
		close(outputDone)
	}()

	waitCh, errCh := s.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	var timeout <-chan time.Time
	if limits.Timeout > 0 {
		timer := time.NewTimer(limits.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case resp := <-waitCh:
		s.drain(outputDone, attach)
		return s.completed(id, resp, stdout, stderr)

	case err := <-errCh:
		s.kill(id)
		s.drain(outputDone, attach)
		if ctx.Err() != nil {
			return failed("execution cancelled: %v", ctx.Err())
		}
		return failed("failed to wait for container: %v", err)

	case <-timeout:
		s.kill(id)
		s.drain(outputDone, attach)
		s.logger.Debug("container timed out", slog.String("id", id), slog.Duration("timeout", limits.Timeout))
		return supervisor.Result{
			Stderr:   fmt.Sprintf("execution timed out after %s", limits.Timeout),
			ExitCode: 1,
			TimedOut: true,
		}

	case <-ctx.Done():
		s.kill(id)
		s.drain(outputDone, attach)
		return failed("execution cancelled: %v", ctx.Err())
	}
}

func (s *Supervisor) create(ctx context.Context, ref, program string, cmd supervisor.Command, limits supervisor.Limits) (string, error) {
	config := &container.Config{
		Image:           ref,
		Cmd:             append([]string{program}, cmd.Args...),
		WorkingDir:      workspace,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		OpenStdin:       true,
		StdinOnce:       true,
		NetworkDisabled: true,
	}

	pids := s.config.PidsLimit
	hostConfig := &container.HostConfig{
		Binds:       []string{cmd.Dir + ":" + workspace + ":ro"},
		NetworkMode: "none",
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			NanoCPUs:  int64(s.config.CPULimit * 1e9),
			PidsLimit: &pids,
		},
	}
	if limits.MemoryBytes > 0 {
		hostConfig.Resources.Memory = limits.MemoryBytes
		// Equal to Memory: no swap on top of the limit.
		hostConfig.Resources.MemorySwap = limits.MemoryBytes
	}

	resp, err := s.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		return "", err
	}
	s.logger.Debug("container created", slog.String("id", resp.ID), slog.String("image", ref))
	return resp.ID, nil
}

func (s *Supervisor) completed(id string, resp container.WaitResponse, stdout, stderr *supervisor.OutputBuffer) supervisor.Result {
	res := supervisor.Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  int(resp.StatusCode),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}
	if resp.Error != nil && resp.Error.Message != "" {
		res.Failed = true
		res.ExitCode = 1
		res.Stderr = appendLine(res.Stderr, "container wait failed: "+resp.Error.Message)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupGrace)
	defer cancel()
	info, err := s.cli.ContainerInspect(ctx, id)
	if err == nil && info.ContainerJSONBase != nil && info.State != nil && info.State.OOMKilled {
		res.ExitCode = 1
		res.Stderr = appendLine(res.Stderr, "memory limit exceeded")
	}

	if res.Truncated {
		res.Stderr = appendLine(res.Stderr, fmt.Sprintf("output truncated to %d bytes per stream", s.config.MaxOutputBytes))
	}
	return res
}

// drain waits for the output copier to finish, closing the attached stream
// if the daemon keeps it open past drainGrace.
func (s *Supervisor) drain(outputDone <-chan struct{}, attach types.HijackedResponse) {
	grace := time.NewTimer(drainGrace)
	defer grace.Stop()

	select {
	case <-outputDone:
	case <-grace.C:
		attach.Close()
		<-outputDone
	}
}

func (s *Supervisor) kill(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupGrace)
	defer cancel()
	if err := s.cli.ContainerKill(ctx, id, "SIGKILL"); err != nil {
		s.logger.Debug("failed to kill container", slog.String("id", id), slog.String("error", err.Error()))
	}
}

func (s *Supervisor) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupGrace)
	defer cancel()
	err := s.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil {
		s.logger.Error("failed to remove container", slog.String("id", id), slog.String("error", err.Error()))
	}
}

func failed(format string, args ...any) supervisor.Result {
	return supervisor.Result{
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

var _ supervisor.Supervisor = (*Supervisor)(nil)
