// Package config loads the engine settings from the environment.
//
// An optional .env file in the working directory is read first; variables
// already set in the process environment win over the file. Every setting has
// a default, so an empty environment yields a runnable local server.
//
// Invalid values (a PORT that is not a number, an unknown backend name) are
// load errors. All of them are reported together.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Supervisor backends.
const (
	SupervisorProcess = "process"
	SupervisorDocker  = "docker"
)

// Config is the full set of engine settings.
type Config struct {
	Port      int
	LogFormat string // text, json or tint
	LogLevel  string // debug, info, warn or error

	Executor  Executor
	Store     Store
	Sandbox   Sandbox
	Validator Validator
	Auth      Auth
	RateLimit RateLimit
	Kafka     Kafka

	CORSOrigins []string
}

// Executor holds request limits and concurrency.
type Executor struct {
	DefaultTimeout  time.Duration
	MaxTimeout      time.Duration
	DefaultMemoryMB int
	MaxMemoryMB     int
	MaxCodeBytes    int
	MaxTestCases    int
	TestConcurrency int
	MaxConcurrent   int
	WorkRoot        string
}

// Store selects where executions are kept and for how long.
type Store struct {
	Backend       string
	DBPath        string
	Retention     time.Duration // 0 keeps records forever
	PruneInterval time.Duration
}

// Sandbox selects the process supervisor and interpreter locations.
type Sandbox struct {
	Backend        string
	MaxOutputBytes int64
	PythonBin      string
	NodeBin        string
	PythonImage    string
	NodeImage      string
}

// Validator tunes output comparison.
type Validator struct {
	CollapseWhitespace bool
}

// Auth enables bearer-token protection when Secret is set.
type Auth struct {
	Secret   string
	TokenTTL time.Duration
	// Clients maps client id to bcrypt hash of its secret.
	Clients map[string]string
}

// Enabled reports whether requests must carry a bearer token.
func (a Auth) Enabled() bool {
	return a.Secret != ""
}

// RateLimit is a per-client-IP token bucket. RPS 0 disables it.
type RateLimit struct {
	RPS   float64
	Burst int
}

// Kafka enables the queue intake when Brokers is non-empty.
type Kafka struct {
	Brokers       []string
	RequestsTopic string
	ResultsTopic  string
	GroupID       string
}

// Enabled reports whether the queue intake should start.
func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0
}

// Load reads .env (if present) and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: reading .env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	p := parser{lookup: lookup}

	cfg := Config{
		Port:      p.int("PORT", 8080),
		LogFormat: p.oneOf("LOG_FORMAT", "text", "text", "json", "tint"),
		LogLevel:  p.oneOf("LOG_LEVEL", "info", "debug", "info", "warn", "error"),
		Executor: Executor{
			DefaultTimeout:  p.duration("DEFAULT_TIMEOUT", 5*time.Second),
			MaxTimeout:      p.duration("MAX_TIMEOUT", 30*time.Second),
			DefaultMemoryMB: p.int("DEFAULT_MEMORY_MB", 256),
			MaxMemoryMB:     p.int("MAX_MEMORY_MB", 1024),
			MaxCodeBytes:    p.int("MAX_CODE_BYTES", 64<<10),
			MaxTestCases:    p.int("MAX_TEST_CASES", 50),
			TestConcurrency: p.int("EXECUTOR_TEST_CONCURRENCY", 1),
			MaxConcurrent:   p.int("EXECUTOR_MAX_CONCURRENT", 8),
			WorkRoot:        p.string("WORK_ROOT", ""),
		},
		Store: Store{
			Backend:       p.oneOf("STORE_BACKEND", StoreMemory, StoreMemory, StoreSQLite),
			DBPath:        p.string("DB_PATH", "data/executions.db"),
			Retention:     p.duration("STORE_RETENTION", 24*time.Hour),
			PruneInterval: p.duration("STORE_PRUNE_INTERVAL", 10*time.Minute),
		},
		Sandbox: Sandbox{
			Backend:        p.oneOf("SUPERVISOR_BACKEND", SupervisorProcess, SupervisorProcess, SupervisorDocker),
			MaxOutputBytes: int64(p.int("SUPERVISOR_MAX_OUTPUT_BYTES", 1<<20)),
			PythonBin:      p.string("PYTHON_BIN", "python3"),
			NodeBin:        p.string("NODE_BIN", "node"),
			PythonImage:    p.string("PYTHON_IMAGE", "python:3.12-alpine"),
			NodeImage:      p.string("NODE_IMAGE", "node:22-alpine"),
		},
		Validator: Validator{
			CollapseWhitespace: p.bool("VALIDATOR_COLLAPSE_WHITESPACE", false),
		},
		Auth: Auth{
			Secret:   p.string("JWT_SECRET", ""),
			TokenTTL: p.duration("JWT_TTL", 15*time.Minute),
			Clients:  p.clients("API_CLIENTS"),
		},
		RateLimit: RateLimit{
			RPS:   p.float("RATE_LIMIT_RPS", 0),
			Burst: p.int("RATE_LIMIT_BURST", 10),
		},
		Kafka: Kafka{
			Brokers:       p.list("KAFKA_BROKERS"),
			RequestsTopic: p.string("KAFKA_REQUESTS_TOPIC", "execution-requests"),
			ResultsTopic:  p.string("KAFKA_RESULTS_TOPIC", "execution-results"),
			GroupID:       p.string("KAFKA_GROUP_ID", "code-runner"),
		},
		CORSOrigins: p.list("CORS_ORIGINS"),
	}

	if cfg.Auth.Enabled() && len(cfg.Auth.Clients) == 0 {
		p.fail("API_CLIENTS", "required when JWT_SECRET is set")
	}
	if cfg.Store.Retention > 0 && cfg.Store.PruneInterval <= 0 {
		p.fail("STORE_PRUNE_INTERVAL", "must be positive when STORE_RETENTION is set")
	}
	if cfg.Executor.DefaultTimeout > cfg.Executor.MaxTimeout {
		p.fail("DEFAULT_TIMEOUT", "must not exceed MAX_TIMEOUT")
	}
	if cfg.Executor.DefaultMemoryMB > cfg.Executor.MaxMemoryMB {
		p.fail("DEFAULT_MEMORY_MB", "must not exceed MAX_MEMORY_MB")
	}

	if len(p.errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(p.errs...))
	}
	return cfg, nil
}

// parser collects every bad variable so one run reports them all.
type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) fail(key, msg string) {
	p.errs = append(p.errs, fmt.Errorf("%s: %s", key, msg))
}

func (p *parser) raw(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) string(key, fallback string) string {
	if v, ok := p.raw(key); ok {
		return v
	}
	return fallback
}

func (p *parser) int(key string, fallback int) int {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.fail(key, fmt.Sprintf("invalid non-negative integer %q", v))
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		p.fail(key, fmt.Sprintf("invalid non-negative number %q", v))
		return fallback
	}
	return f
}

func (p *parser) bool(key string, fallback bool) bool {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, fmt.Sprintf("invalid boolean %q", v))
		return fallback
	}
	return b
}

// duration accepts Go durations ("1m30s") and bare seconds ("90").
func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		p.fail(key, fmt.Sprintf("invalid duration %q", v))
		return fallback
	}
	return d
}

func (p *parser) oneOf(key, fallback string, allowed ...string) string {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	v = strings.ToLower(v)
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	p.fail(key, fmt.Sprintf("must be one of %s, got %q", strings.Join(allowed, "|"), v))
	return fallback
}

func (p *parser) list(key string) []string {
	v, ok := p.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, field := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// clients parses "id:hash,id:hash". bcrypt hashes contain '$' but never ':'.
func (p *parser) clients(key string) map[string]string {
	entries := p.list(key)
	if len(entries) == 0 {
		return nil
	}
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		id, hash, ok := strings.Cut(entry, ":")
		id, hash = strings.TrimSpace(id), strings.TrimSpace(hash)
		if !ok || id == "" || hash == "" {
			p.fail(key, fmt.Sprintf("entry %q is not id:hash", entry))
			continue
		}
		out[id] = hash
	}
	return out
}
