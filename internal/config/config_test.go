package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "trunk", cfg.Timeline.RootBranch)
	assert.Equal(t, PlanDiscard, cfg.Plan.Mode)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tempograph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: badger
  path: /tmp/world
  gc_interval: 1m
timeline:
  root_branch: main
plan:
  mode: commit
logging:
  level: debug
  format: json
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/world", cfg.Storage.Path)
	assert.Equal(t, time.Minute, cfg.Storage.GCInterval)
	assert.Equal(t, "main", cfg.Timeline.RootBranch)
	assert.Equal(t, PlanCommit, cfg.Plan.Mode)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Storage.SyncWrites, "unset fields keep their defaults")
}

func TestLoad_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tempograph.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage": {"backend": "memory"}}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"typo.yaml":   "storage:\n  backend: memory\n  sync_write: true\n",
		"extra.json":  `{"storage": {"backend": "memory"}, "plugins": []}`,
		"nested.yaml": "plan:\n  mode: commit\n  ttl: 5\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not found in type")
		})
	}
}

func TestLoad_EmptyFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Storage.Backend, cfg.Storage.Backend)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tempograph.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plan:\n  mode: commit\n"), 0o600))
	t.Setenv("TEMPOGRAPH_PLAN_MODE", "discard")
	t.Setenv("TEMPOGRAPH_BACKEND", "memory")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, PlanDiscard, cfg.Plan.Mode)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
}

func TestLoadEnv_Malformed(t *testing.T) {
	env := map[string]string{
		"TEMPOGRAPH_SYNC_WRITES":       "maybe",
		"TEMPOGRAPH_TRACE_SAMPLE_RATE": "lots",
		"TEMPOGRAPH_GC_INTERVAL":       "soon",
	}
	cfg := Default()
	err := loadEnv(&cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEMPOGRAPH_SYNC_WRITES")
	assert.Contains(t, err.Error(), "TEMPOGRAPH_TRACE_SAMPLE_RATE")
	assert.Contains(t, err.Error(), "TEMPOGRAPH_GC_INTERVAL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "mongo" }, "storage.backend"},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"empty root", func(c *Config) { c.Timeline.RootBranch = "" }, "root_branch"},
		{"bad plan mode", func(c *Config) { c.Plan.Mode = "maybe" }, "plan.mode"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, err = ParseLevel("warning")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}
