package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "executors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadExecutorConfig_Defaults(t *testing.T) {
	// GIVEN no path
	cfg, err := LoadExecutorConfig("")
	require.NoError(t, err)

	// THEN one local executor with capacity 1
	require.Len(t, cfg.Executors, 1)
	assert.Equal(t, "local", cfg.Executors[0].Type)
	exs, err := BuildExecutors(cfg, ProcessConfig{}, nil)
	require.NoError(t, err)
	require.Len(t, exs, 1)
	assert.Equal(t, 1, exs[0].Capacity())
	assert.Equal(t, "local-0", exs[0].Name())

	// AND a file without executors means the same
	cfg, err = LoadExecutorConfig(writeConfig(t, "defaults: {log: false}\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultExecutorConfig().Executors, cfg.Executors)
}

func TestLoadExecutorConfig_MixedExecutors(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "runlogs")
	path := writeConfig(t, `
defaults:
  log: true
  log_dir: `+logDir+`
executors:
  - type: local
    args: [2]
    log: false
  - type: inprocess
    name: embedded
    args: [3]
  - type: remote
    args: ["me@box", "/srv/sim", 4, "extra.yaml"]
`)
	cfg, err := LoadExecutorConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "", cfg.logDir(cfg.Executors[0]), "per-executor log flag overrides default")
	assert.Equal(t, logDir, cfg.logDir(cfg.Executors[2]))

	run := func(context.Context, int64) error { return nil }
	exs, err := BuildExecutors(cfg, ProcessConfig{Launcher: newFakeLauncher()}, run)
	require.NoError(t, err)
	require.Len(t, exs, 3)

	local, ok := exs[0].(*LocalExecutor)
	require.True(t, ok)
	assert.Equal(t, 2, local.Capacity())
	assert.Equal(t, "", local.cfg.LogDir)

	inproc, ok := exs[1].(*InProcessExecutor)
	require.True(t, ok)
	assert.Equal(t, "embedded", inproc.Name())
	assert.Equal(t, 3, inproc.Capacity())

	remote, ok := exs[2].(*RemoteExecutor)
	require.True(t, ok)
	assert.Equal(t, "me@box", remote.target)
	assert.Equal(t, "/srv/sim", remote.dir)
	assert.Equal(t, []string{"extra.yaml"}, remote.deps)
	assert.Equal(t, 4, remote.Capacity())
	assert.Equal(t, logDir, remote.cfg.LogDir)

	_, err = os.Stat(logDir)
	assert.NoError(t, err, "log dir is created when logging is enabled")
}

func TestLoadExecutorConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown type", "executors: [{type: docker, args: [1]}]", `unknown type "docker"`},
		{"missing capacity", "executors: [{type: local, args: []}]", "expected [capacity]"},
		{"string capacity", `executors: [{type: local, args: ["two"]}]`, "expected integer"},
		{"fractional capacity", "executors: [{type: local, args: [1.5]}]", "expected integer"},
		{"negative capacity", "executors: [{type: inprocess, args: [-1]}]", "non-negative"},
		{"remote short args", `executors: [{type: remote, args: ["h", 2]}]`, "expected [target"},
		{"remote numeric target", `executors: [{type: remote, args: [1, "/d", 2]}]`, "expected non-empty string"},
		{"db on inprocess", "executors: [{type: inprocess, args: [1], db: runs.db}]", "db does not apply"},
		{"bad yaml", "executors: [", "parsing executor config"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadExecutorConfig(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadExecutorConfig_MissingFile(t *testing.T) {
	_, err := LoadExecutorConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "reading executor config")
}

func TestBuildExecutors_InProcessNeedsRunFunc(t *testing.T) {
	cfg := &ExecutorConfig{Executors: []ExecutorSpec{{Type: "inprocess", Args: []any{1}}}}
	_, err := BuildExecutors(cfg, ProcessConfig{}, nil)
	assert.ErrorContains(t, err, "need a run function")
}

func TestBuildExecutors_DatabasePathPerExecutor(t *testing.T) {
	path := writeConfig(t, `
executors:
  - type: local
    args: [1]
  - type: remote
    args: ["me@box", "/srv/sim", 1]
    db: /shared/runs.db
`)
	cfg, err := LoadExecutorConfig(path)
	require.NoError(t, err)

	// GIVEN a dispatcher whose own database is local.db
	l := newFakeLauncher()
	l.exitImmediately["ssh"] = true
	l.exitImmediately["scp"] = true
	proc := ProcessConfig{Binary: "/opt/agentsim", DB: "local.db", Args: []string{"--log", "info"}, Launcher: l}
	exs, err := BuildExecutors(cfg, proc, nil)
	require.NoError(t, err)

	// WHEN a run goes to each executor
	require.NoError(t, exs[0].Submit(context.Background(), 2))
	require.NoError(t, exs[1].Submit(context.Background(), 3))

	// THEN the local run uses the dispatcher's path and the remote run its own
	calls := l.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "/opt/agentsim run --run-id 2 --db local.db --log info", calls[0])
	assert.Equal(t, "ssh me@box cd /srv/sim && ./agentsim run --run-id 3 --db /shared/runs.db --log info", calls[3])
	l.finishAll()
	eventuallyIdle(t, exs[0])
	eventuallyIdle(t, exs[1])
}

func TestBuildExecutors_RemoteWithoutDatabaseRejected(t *testing.T) {
	cfg := &ExecutorConfig{Executors: []ExecutorSpec{{Type: "remote", Args: []any{"me@box", "/srv/sim", 1}}}}

	_, err := BuildExecutors(cfg, ProcessConfig{DB: "local.db", Launcher: newFakeLauncher()}, nil)
	assert.ErrorContains(t, err, "remote executors need a db path")

	// without a dispatcher database there is nothing to reach
	_, err = BuildExecutors(cfg, ProcessConfig{Launcher: newFakeLauncher()}, nil)
	assert.NoError(t, err)
}
