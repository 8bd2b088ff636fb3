package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.Executor.DefaultTimeout)
	assert.Equal(t, 30*time.Second, cfg.Executor.MaxTimeout)
	assert.Equal(t, 256, cfg.Executor.DefaultMemoryMB)
	assert.Equal(t, 1024, cfg.Executor.MaxMemoryMB)
	assert.Equal(t, 1, cfg.Executor.TestConcurrency)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, SupervisorProcess, cfg.Sandbox.Backend)
	assert.Equal(t, int64(1<<20), cfg.Sandbox.MaxOutputBytes)
	assert.Equal(t, "python3", cfg.Sandbox.PythonBin)
	assert.False(t, cfg.Auth.Enabled())
	assert.False(t, cfg.Kafka.Enabled())
	assert.Zero(t, cfg.RateLimit.RPS)
	assert.Nil(t, cfg.CORSOrigins)
}

func TestFromLookup_Overrides(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"PORT":                          "9090",
		"LOG_FORMAT":                    "TINT",
		"DEFAULT_TIMEOUT":               "2",
		"MAX_TIMEOUT":                   "1m",
		"STORE_BACKEND":                 "sqlite",
		"DB_PATH":                       "/tmp/x.db",
		"STORE_RETENTION":               "0",
		"SUPERVISOR_BACKEND":            "docker",
		"VALIDATOR_COLLAPSE_WHITESPACE": "true",
		"JWT_SECRET":                    "0123456789abcdef",
		"API_CLIENTS":                   "ci:$2a$04$abc, web:$2a$04$def",
		"RATE_LIMIT_RPS":                "2.5",
		"CORS_ORIGINS":                  "http://a.test, ,http://b.test",
		"KAFKA_BROKERS":                 "k1:9092,k2:9092",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "tint", cfg.LogFormat)
	assert.Equal(t, 2*time.Second, cfg.Executor.DefaultTimeout)
	assert.Equal(t, time.Minute, cfg.Executor.MaxTimeout)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, "/tmp/x.db", cfg.Store.DBPath)
	assert.Zero(t, cfg.Store.Retention)
	assert.Equal(t, SupervisorDocker, cfg.Sandbox.Backend)
	assert.True(t, cfg.Validator.CollapseWhitespace)
	assert.True(t, cfg.Auth.Enabled())
	assert.Equal(t, map[string]string{"ci": "$2a$04$abc", "web": "$2a$04$def"}, cfg.Auth.Clients)
	assert.InDelta(t, 2.5, cfg.RateLimit.RPS, 0.0001)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
}

func TestFromLookup_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "bad port", env: map[string]string{"PORT": "eighty"}, want: "PORT"},
		{name: "negative int", env: map[string]string{"MAX_TEST_CASES": "-1"}, want: "MAX_TEST_CASES"},
		{name: "bad duration", env: map[string]string{"MAX_TIMEOUT": "soon"}, want: "MAX_TIMEOUT"},
		{name: "unknown backend", env: map[string]string{"STORE_BACKEND": "redis"}, want: "STORE_BACKEND"},
		{name: "bad bool", env: map[string]string{"VALIDATOR_COLLAPSE_WHITESPACE": "maybe"}, want: "VALIDATOR_COLLAPSE_WHITESPACE"},
		{name: "secret without clients", env: map[string]string{"JWT_SECRET": "0123456789abcdef"}, want: "API_CLIENTS"},
		{name: "malformed client", env: map[string]string{"JWT_SECRET": "0123456789abcdef", "API_CLIENTS": "nohash"}, want: "API_CLIENTS"},
		{name: "default above max", env: map[string]string{"DEFAULT_TIMEOUT": "40"}, want: "DEFAULT_TIMEOUT"},
		{name: "zero prune interval", env: map[string]string{"STORE_PRUNE_INTERVAL": "0"}, want: "STORE_PRUNE_INTERVAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromLookup(lookupFrom(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFromLookup_ReportsAllErrors(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{"PORT": "x", "LOG_LEVEL": "loud"}))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "LOG_LEVEL")
}

func TestFromLookup_PruneIntervalIgnoredWithoutRetention(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{"STORE_RETENTION": "0", "STORE_PRUNE_INTERVAL": "0"}))

	require.NoError(t, err)
	assert.Zero(t, cfg.Store.Retention)
}
