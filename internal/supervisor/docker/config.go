package docker

// Config holds the configuration for container execution.
type Config struct {
	// Images maps an interpreter name (the base name of Command.Path) to the
	// image that provides it.
	Images map[string]string
	// CPULimit is the number of CPUs a container can use.
	CPULimit float64
	// PidsLimit caps the number of processes inside a container.
	PidsLimit int64
	// MaxOutputBytes caps stdout and stderr independently.
	MaxOutputBytes int64
}

// DefaultConfig provides sensible defaults for the supported interpreters.
func DefaultConfig() Config {
	return Config{
		Images: map[string]string{
			"python3": "python:3.12-alpine",
			"python":  "python:3.12-alpine",
			"node":    "node:22-alpine",
		},
		// 0.5 CPU shares
		CPULimit:       0.5,
		PidsLimit:      64,
		MaxOutputBytes: 1 << 20,
	}
}
