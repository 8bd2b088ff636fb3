// Package runner turns source code for one language into a supervised
// interpreter run inside a scratch directory.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/sakif/code-runner/internal/model"
	"github.com/sakif/code-runner/internal/supervisor"
)

// MemoryExceeded is appended to stderr when a run dies from its memory limit.
const MemoryExceeded = "memory limit exceeded"

// Run is one invocation of a program.
type Run struct {
	Code   string
	Stdin  string
	Limits supervisor.Limits
}

// Output is a runner's view of one finished run.
type Output struct {
	model.Result
	// TimedOut is set when the supervisor killed the run at its deadline.
	TimedOut bool
	// Failed is set when the run never produced a program result, for
	// example because the source file could not be written.
	Failed bool
}

// Runner executes code for one language.
type Runner interface {
	Language() model.Language
	Execute(ctx context.Context, run Run, workDir string) Output
}

// source is a file the interpreter needs in the scratch directory.
type source struct {
	name    string
	content func(code string) string
}

// interpreter is the shared Runner implementation. Languages differ only in
// the files they materialize, the command line and how their runtime reports
// running out of memory.
type interpreter struct {
	language model.Language
	bin      string
	files    []source
	args     func(limits supervisor.Limits) ([]string, supervisor.Limits)
	oom      func(exitCode int, stderr string) bool
	sup      supervisor.Supervisor
	logger   *slog.Logger
}

func (r *interpreter) Language() model.Language {
	return r.language
}

func (r *interpreter) Execute(ctx context.Context, run Run, workDir string) Output {
	for _, f := range r.files {
		path := filepath.Join(workDir, f.name)
		if err := os.WriteFile(path, []byte(f.content(run.Code)), 0o644); err != nil {
			return Output{
				Result: model.Result{ExitCode: 1, Stderr: fmt.Sprintf("failed to write source file: %v", err)},
				Failed: true,
			}
		}
	}

	args, limits := r.args(run.Limits)
	cmd := supervisor.Command{
		Path: r.bin,
		Args: args,
		Dir:  workDir,
		Env:  environment(workDir),
	}

	res := r.sup.Run(ctx, cmd, run.Stdin, limits)

	stderr := res.Stderr
	exitCode := res.ExitCode
	if res.ExitCode != 0 && run.Limits.MemoryBytes > 0 && r.oom != nil && r.oom(res.ExitCode, stderr) {
		exitCode = 1
		if !strings.Contains(stderr, MemoryExceeded) {
			stderr = appendLine(stderr, MemoryExceeded)
		}
	}

	r.logger.Debug("run finished",
		slog.String("language", string(r.language)),
		slog.Int("exit_code", exitCode),
		slog.Bool("timed_out", res.TimedOut),
	)

	return Output{
		Result: model.Result{
			Stdout:      strings.TrimRightFunc(res.Stdout, unicode.IsSpace),
			Stderr:      stderr,
			ExitCode:    exitCode,
			MemoryUsage: res.MemoryBytes,
		},
		TimedOut: res.TimedOut,
		Failed:   res.Failed,
	}
}

// lastLine returns the last non-blank line of s without surrounding space.
func lastLine(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// environment is the complete child environment: the engine's PATH so the
// interpreter can find its own helpers, a HOME inside the scratch directory
// and a UTF-8 locale. Nothing else from the engine's environment leaks in.
func environment(workDir string) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + workDir,
		"LANG=C.UTF-8",
	}
	// Windows interpreters fail to initialise without these.
	for _, key := range []string{"SYSTEMROOT", "TEMP", "TMP"} {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}

func appendLine(s, line string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s + line
	}
	return s + "\n" + line
}
