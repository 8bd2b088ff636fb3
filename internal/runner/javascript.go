package runner

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/code-runner/internal/model"
	"github.com/sakif/code-runner/internal/supervisor"
)

// DefaultNodeBin is resolved through PATH.
const DefaultNodeBin = "node"

//go:embed harness.js
var harness string

// NewJavaScript returns a Runner that executes the user's code as
// solution.js, loaded from a main.js harness that buffers console output
// and flushes it once on exit.
//
// Memory is bounded with V8's --max-old-space-size rather than an
// address-space limit.
func NewJavaScript(bin string, sup supervisor.Supervisor, logger *slog.Logger) Runner {
	if bin == "" {
		bin = DefaultNodeBin
	}
	return &interpreter{
		language: model.LanguageJavaScript,
		bin:      bin,
		files: []source{
			{name: "solution.js", content: func(code string) string { return code }},
			{name: "main.js", content: func(string) string { return harness }},
		},
		args: func(limits supervisor.Limits) ([]string, supervisor.Limits) {
			args := []string{"main.js"}
			if limits.MemoryBytes > 0 {
				mb := max(limits.MemoryBytes>>20, 1)
				args = append([]string{fmt.Sprintf("--max-old-space-size=%d", mb)}, args...)
				limits.RuntimeEnforced = true
			}
			return args, limits
		},
		oom:    nodeOutOfMemory,
		sup:    sup,
		logger: logger,
	}
}

// nodeOutOfMemory matches V8's fatal heap report. V8 aborts the process, so
// a zero exit status never counts even if the text was printed by user code.
func nodeOutOfMemory(exitCode int, stderr string) bool {
	if exitCode == 0 {
		return false
	}
	for _, line := range strings.Split(stderr, "\n") {
		if strings.HasPrefix(line, "FATAL ERROR:") &&
			(strings.Contains(line, "JavaScript heap out of memory") || strings.Contains(line, "Reached heap limit")) {
			return true
		}
	}
	return false
}
