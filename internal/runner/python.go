package runner

import (
	"log/slog"

	"github.com/sakif/code-runner/internal/model"
	"github.com/sakif/code-runner/internal/supervisor"
)

// DefaultPythonBin is resolved through PATH.
const DefaultPythonBin = "python3"

// NewPython returns a Runner that executes main.py with an isolated (-I),
// unbuffered (-u) interpreter. Python needs no output harness.
func NewPython(bin string, sup supervisor.Supervisor, logger *slog.Logger) Runner {
	if bin == "" {
		bin = DefaultPythonBin
	}
	return &interpreter{
		language: model.LanguagePython,
		bin:      bin,
		files: []source{
			{name: "main.py", content: func(code string) string { return code }},
		},
		args: func(limits supervisor.Limits) ([]string, supervisor.Limits) {
			return []string{"-I", "-u", "main.py"}, limits
		},
		oom:    pythonOutOfMemory,
		sup:    sup,
		logger: logger,
	}
}

// pythonOutOfMemory matches an uncaught allocation failure: exit status 1
// with a bare MemoryError as the final traceback line. A MemoryError raised
// with a message, or one that is caught and printed, does not count.
func pythonOutOfMemory(exitCode int, stderr string) bool {
	return exitCode == 1 && lastLine(stderr) == "MemoryError"
}
