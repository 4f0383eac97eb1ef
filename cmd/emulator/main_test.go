package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/emulator/internal/emutest"
	"github.com/cartridge/emulator/internal/recording"
)

func TestHelperProcess(t *testing.T) { emutest.RunHelper() }

// writeConfig points the supervisor at the helper emulator.
func writeConfig(t *testing.T) string {
	t.Helper()
	sc := emutest.Config(t, emutest.Options{})
	doc := map[string]any{
		"log_level": "warn",
		"supervisor": map[string]any{
			"binary":          sc.Binary,
			"binary_args":     sc.BinaryArgs,
			"port":            0,
			"plugins_path":    sc.PluginsPath,
			"input_dir":       sc.InputDir,
			"snapshot_dir":    sc.SnapshotDir,
			"save_state":      sc.SaveState,
			"env":             sc.Env,
			"grace_period":    "50ms",
			"poll_interval":   "20ms",
			"poll_count":      5,
			"connect_timeout": "10s",
			"io_timeout":      "10s",
		},
		"reward": map[string]any{"policy": "score"},
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "emulator.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.ExecuteContext(ctx)
}

func TestVersion(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestInvalidConfigIsReported(t *testing.T) {
	t.Setenv("EMULATOR_STORAGE_DRIVER", "redis")
	err := execute(t, "play")
	assert.ErrorContains(t, err, "unknown driver")
}

func TestPlayThenReplay(t *testing.T) {
	cfg := writeConfig(t)
	traces := t.TempDir()

	require.NoError(t, execute(t, "--config", cfg, "play",
		"--max-episodes", "2", "--max-steps", "4", "--seed", "3", "--trace-dir", traces))

	files, err := filepath.Glob(filepath.Join(traces, "*.trace"))
	require.NoError(t, err)
	require.Len(t, files, 2)
	trace, err := recording.LoadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, 4, trace.Len())
	assert.Equal(t, "start", trace.SaveState)

	args := append([]string{"--config", cfg, "replay"}, files...)
	require.NoError(t, execute(t, args...))

	trace.Steps[1].Score += 7
	bad := filepath.Join(t.TempDir(), "bad.trace")
	require.NoError(t, trace.SaveFile(bad))
	err = execute(t, "--config", cfg, "replay", "--max-retries", "0", bad)
	assert.ErrorContains(t, err, "1 of 1 traces desynced")
}

func TestScriptPolicyPlaysTrace(t *testing.T) {
	cfg := writeConfig(t)
	script := filepath.Join(t.TempDir(), "script.trace")
	tr := recording.Trace{}
	tr.Append("001", 0)
	tr.Append("201", 0)
	require.NoError(t, tr.SaveFile(script))
	traces := t.TempDir()

	require.NoError(t, execute(t, "--config", cfg, "play",
		"--policy", "script", "--script", script, "--max-episodes", "1", "--trace-dir", traces))

	files, err := filepath.Glob(filepath.Join(traces, "*.trace"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	played, err := recording.LoadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, tr.Actions(), played.Actions())
}
