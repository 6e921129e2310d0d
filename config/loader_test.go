package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowkit/flow"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, "sqlite", cfg.Store.SQL.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Executor.ForeachConcurrency)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "flowkit", cfg.Metrics.Namespace)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := writeTempConfig(t, `
store:
  backend: redis
  redis:
    addr: redis.internal:6380
log:
  level: debug
  format: console
executor:
  default_timeout: 45s
  rate_limit_per_sec: 10.5
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "redis.internal:6380", cfg.Store.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 45*time.Second, cfg.Executor.DefaultTimeout)
	assert.Equal(t, 10.5, cfg.Executor.RateLimitPerSec)

	// Untouched sections keep their defaults.
	assert.Equal(t, "sqlite", cfg.Store.SQL.Driver)
	assert.Equal(t, 10, cfg.Store.Redis.PoolSize)
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeTempConfig(t, "store: [not a mapping")
	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "parse config file")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeTempConfig(t, `
store:
  backend: sql
log:
  level: warn
`)
	t.Setenv("FLOWKIT_STORE_BACKEND", "redis")
	t.Setenv("FLOWKIT_STORE_REDIS_ADDR", "10.0.0.5:6379")
	t.Setenv("FLOWKIT_STORE_REDIS_DB", "3")
	t.Setenv("FLOWKIT_STORE_SQL_MIGRATE", "true")
	t.Setenv("FLOWKIT_EXECUTOR_DEFAULT_TIMEOUT", "90s")
	t.Setenv("FLOWKIT_TELEMETRY_ENABLED", "true")
	t.Setenv("FLOWKIT_LOG_OUTPUT_PATHS", "stdout, /var/log/flowkit.log")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Backend, "env beats file")
	assert.Equal(t, "10.0.0.5:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 3, cfg.Store.Redis.DB)
	assert.True(t, cfg.Store.SQL.Migrate)
	assert.Equal(t, 90*time.Second, cfg.Executor.DefaultTimeout)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, []string{"stdout", "/var/log/flowkit.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, "warn", cfg.Log.Level, "file value survives when env is silent")
}

func TestCustomEnvPrefix(t *testing.T) {
	t.Setenv("ORCH_LOG_LEVEL", "error")
	cfg, err := NewLoader().WithEnvPrefix("ORCH").Load()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestLoadRunsValidators(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	require.NoError(t, err)

	t.Setenv("FLOWKIT_STORE_BACKEND", "etcd")
	_, err = NewLoader().
		WithValidator(func(c *Config) error { return c.Validate() }).
		Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Log.Level = "verbose"
	assert.ErrorContains(t, cfg.Validate(), "unknown log level")

	cfg = DefaultConfig()
	cfg.Executor.RateLimitPerSec = -1
	assert.ErrorContains(t, cfg.Validate(), "rate_limit_per_sec")

	cfg = DefaultConfig()
	cfg.Telemetry.SampleRate = 1.5
	assert.ErrorContains(t, cfg.Validate(), "sample_rate")
}

func TestBuildLogger(t *testing.T) {
	logger, err := BuildLogger(LogConfig{Level: "debug", Format: "console", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = BuildLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestParseFlow(t *testing.T) {
	spec, err := ParseFlow([]byte(`
name: research
version: "1.0"
nodePacks: [control, core]
nodes:
  - id: seed
    type: core.constant
    input:
      value: "{{flow.input.query}}"
  - id: branch
    type: control.if
    input:
      value: "{{seed.value}}"
    policy:
      timeoutMs: 5000
      retry:
        maxAttempts: 2
        backoffMs: 100
edges:
  - from: seed
    to: branch
  - from: branch
    to: seed
    type: loop
    maxIterations: 3
    when:
      equals:
        var: branch.result
        value: false
`))
	require.NoError(t, err)

	assert.Equal(t, "research", spec.Name)
	assert.Equal(t, []string{"control", "core"}, spec.NodePacks)
	require.Len(t, spec.Nodes, 2)
	require.Len(t, spec.Edges, 2)

	// Defaults are normalized on parse.
	assert.Equal(t, flow.EdgeForward, spec.Edges[0].Type)
	assert.Equal(t, flow.GateAny, spec.Nodes[0].Gate)

	assert.Equal(t, flow.EdgeLoop, spec.Edges[1].Type)
	assert.Equal(t, 3, spec.Edges[1].MaxIterations)
	require.NotNil(t, spec.Edges[1].When)
	assert.Equal(t, "branch.result", spec.Edges[1].When.Equals.Var)

	branch, ok := spec.Node("branch")
	require.True(t, ok)
	require.NotNil(t, branch.Policy)
	assert.Equal(t, int64(5000), branch.Policy.TimeoutMs)
	assert.Equal(t, 2, branch.Policy.Retry.MaxAttempts)

	_, err = ParseFlow([]byte("nodes: [broken"))
	assert.Error(t, err)
}

func TestLoadFlow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: ok\nnodes:\n  - id: a\n    type: control.noop\n"), 0o644))

	spec, err := LoadFlow(path)
	require.NoError(t, err)
	assert.Equal(t, "ok", spec.Name)

	_, err = LoadFlow(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
