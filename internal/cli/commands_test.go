package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempograph/internal/config"
)

// dbArgs points a command at a fresh sqlite file.
func dbArgs(t *testing.T) []string {
	t.Helper()
	return []string{"--backend", "sqlite", "--db", filepath.Join(t.TempDir(), "world.db")}
}

func run(t *testing.T, db []string, args ...string) string {
	t.Helper()
	out, err := execute(t, "", append(args, db...)...)
	require.NoError(t, err, "tempograph %v", args)
	return out
}

func TestCommands_TimelineRoundTrip(t *testing.T) {
	db := dbArgs(t)

	out := run(t, db, "init")
	assert.Contains(t, out, "Initialized sqlite database")
	assert.Contains(t, out, "Cursor: trunk@0.0")

	assert.Equal(t, "world/hero hp=10 at trunk@0.0\n", run(t, db, "set", "world/hero", "hp", "10"))
	assert.Equal(t, "trunk@0.0 -> trunk@2.0\n", run(t, db, "travel", "2.0"))
	run(t, db, "set", "world/hero", "hp", "7")

	// Each command reopens the database, so the cursor and facts persisted.
	assert.Equal(t, "trunk@2.0\n", run(t, db, "now"))
	assert.Equal(t, "7\n", run(t, db, "get", "world/hero", "hp"))
	assert.Equal(t, "10\n", run(t, db, "get", "world/hero", "hp", "--at", "trunk@1.5"))
	assert.Equal(t, "0.0 10\n2.0 7\n", run(t, db, "history", "world/hero", "hp"))
	assert.Equal(t, "hp\n", run(t, db, "keys", "world/hero"))
}

func TestCommands_BranchAndDelete(t *testing.T) {
	db := dbArgs(t)
	run(t, db, "set", "world/hero", "hp", "10")
	run(t, db, "travel", "3.0")
	run(t, db, "set", "world/hero", "hp", "1")

	out := run(t, db, "branch", "what-if", "--at", "1.0", "--switch")
	assert.Equal(t, "Created branch what-if from trunk@1.0\nCursor: what-if@1.0\n", out)
	assert.Equal(t, "10\n", run(t, db, "get", "world/hero", "hp"))

	run(t, db, "del", "world/hero", "hp")
	out, err := execute(t, "", append([]string{"get", "world/hero", "hp"}, db...)...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCodeOf(err))
	assert.Equal(t, "world/hero hp is unset at what-if@1.0\n", out)

	// The parent branch is untouched.
	assert.Equal(t, "1\n", run(t, db, "get", "world/hero", "hp", "--at", "trunk@3.0"))
	assert.Equal(t, "1.0 deleted\n", run(t, db, "history", "world/hero", "hp"))

	out = run(t, db, "branch")
	assert.Contains(t, out, "  trunk (root) end 3.0\n")
	assert.Contains(t, out, "* what-if from trunk@1.0 end 1.0\n")
}

func TestCommands_Errors(t *testing.T) {
	db := dbArgs(t)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"bad entity", []string{"get", "/hero", "hp"}, ExitCommandError},
		{"bad time", []string{"travel", "trunk@x"}, ExitCommandError},
		{"travel needs one target", []string{"travel", "1.0", "--next-turn"}, ExitCommandError},
		{"unknown branch", []string{"travel", "nowhere@1.0"}, ExitFailure},
		{"history of unknown branch", []string{"history", "world/hero", "hp", "--branch", "nowhere"}, ExitFailure},
		{"duplicate branch", []string{"branch", "trunk"}, ExitFailure},
		{"snapshot save with at", []string{"snapshot", "--save", "--at", "1.0"}, ExitCommandError},
		{"unknown backend", []string{"now", "--backend", "etcd"}, ExitCommandError},
		{"missing world file", []string{"seed", "nope.cue"}, ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "", append(tt.args, db...)...)
			require.Error(t, err)
			assert.Equal(t, tt.code, ExitCodeOf(err), "%v", err)
		})
	}
}

func TestCommands_GetJSON(t *testing.T) {
	db := dbArgs(t)
	run(t, db, "set", "world/hero", "items", `["sword","rope"]`)

	out := run(t, db, "get", "world/hero", "items", "--format", "json")
	var resp struct {
		Status string   `json:"status"`
		Data   StatView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "world/hero", resp.Data.Entity)
	assert.Equal(t, "present", resp.Data.State)
	assert.Equal(t, "trunk@0.0", resp.Data.From)
	assert.Equal(t, []any{"sword", "rope"}, resp.Data.Value)
}

func TestCommands_SeedSnapshotVerify(t *testing.T) {
	db := dbArgs(t)

	out := run(t, db, "seed", filepath.Join("..", "seed", "testdata", "world.cue"))
	assert.Equal(t, "Seeded 1 graph(s), 2 node(s), 1 edge(s), 5 stat(s) at trunk@1.0\n", out)
	assert.Equal(t, "3\n", run(t, db, "get", "world/hero->castle", "distance"))
	assert.Equal(t, `"rain"`+"\n", run(t, db, "get", "world", "weather"))

	out = run(t, db, "snapshot")
	assert.Contains(t, out, `world {"$exists":true,"weather":"rain"}`)
	assert.Contains(t, out, "Digest ")

	out = run(t, db, "snapshot", "--save")
	assert.Contains(t, out, "Saved keyframe ")
	assert.Contains(t, out, "at trunk@1.0")

	out = run(t, db, "verify")
	assert.Contains(t, out, "✓ ")
	assert.Contains(t, out, "1 branch(es)")
}

func TestCommands_GraphLifecycle(t *testing.T) {
	db := dbArgs(t)

	run(t, db, "seed", filepath.Join("..", "seed", "testdata", "world.cue"))
	assert.Equal(t, "Graph limbo added at trunk@1.0\n", run(t, db, "graph", "add", "limbo"))
	assert.Equal(t, "limbo\nworld\n", run(t, db, "graph"))

	run(t, db, "travel", "2.0")
	assert.Equal(t, "Graph world deleted at trunk@2.0\n", run(t, db, "graph", "del", "world"))
	assert.Equal(t, "limbo\n", run(t, db, "graph"))
	assert.Equal(t, "10\n", run(t, db, "get", "world/hero", "hp", "--at", "trunk@1.0"))

	_, err := execute(t, "", append([]string{"get", "world/hero", "hp"}, db...)...)
	assert.Equal(t, ExitFailure, ExitCodeOf(err))
	_, err = execute(t, "", append([]string{"get", "world/hero->castle", "distance"}, db...)...)
	assert.Equal(t, ExitFailure, ExitCodeOf(err))
	_, err = execute(t, "", append([]string{"graph", "del", "world"}, db...)...)
	assert.Equal(t, ExitFailure, ExitCodeOf(err), "a deleted graph cannot be deleted again")
	_, err = execute(t, "", append([]string{"graph", "add", "a/b"}, db...)...)
	assert.Equal(t, ExitCommandError, ExitCodeOf(err))
}

func TestCommands_Badger(t *testing.T) {
	db := []string{"--backend", "badger", "--db", filepath.Join(t.TempDir(), "kv")}
	run(t, db, "set", "world/hero", "hp", "10")
	run(t, db, "travel", "--next-turn")
	assert.Equal(t, "trunk@1.0\n", run(t, db, "now"))
	assert.Equal(t, "10\n", run(t, db, "get", "world/hero", "hp"))
}

func TestCommands_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tempograph.yaml")
	cfg := "storage:\n  backend: sqlite\n  path: " + filepath.Join(dir, "cfg.db") + "\ntimeline:\n  root_branch: main\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))

	out, err := execute(t, "", "now", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "main@0.0\n", out)

	_, err = execute(t, "", "now", "--config", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, ExitCodeOf(err))
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	cfg, err := loadConfig(&RootOptions{Backend: "memory", Verbose: true})
	require.NoError(t, err)
	assert.Equal(t, config.BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)

	_, err = loadConfig(&RootOptions{Backend: "sqlite", Database: ""})
	require.NoError(t, err, "sqlite keeps the default path")
}
