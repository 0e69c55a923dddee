package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wwwzy/loopie/internal/storage"
)

// setupConfig 写一个指向临时数据库的配置文件并预置数据
func setupConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "loopie.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
backend:
  base_url: "http://127.0.0.1:1"
storage:
  path: %q
log:
  level: "error"
`, dbPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))

	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: dbPath, EnableWAL: true})
	require.NoError(t, err)
	defer store.Close()

	old := time.Now().UTC().Add(-72 * time.Hour)
	finished := old.Add(time.Minute)
	require.NoError(t, store.InsertRun(ctx, &storage.AutomationRun{
		RunID: "run-old", Goal: "open the settings page", Status: storage.RunStatusSuccess,
		Reason: "done", Steps: 2, StartedAt: old, FinishedAt: &finished,
	}))
	require.NoError(t, store.InsertStep(ctx, &storage.AutomationStep{RunID: "run-old", StepIndex: 0, Kind: "CLICK", Status: "success"}))
	require.NoError(t, store.InsertStep(ctx, &storage.AutomationStep{RunID: "run-old", StepIndex: 1, Kind: "DONE", Status: "success"}))
	require.NoError(t, store.InsertRun(ctx, &storage.AutomationRun{
		RunID: "run-new", Goal: "reply to mail", Status: storage.RunStatusStopped,
		Reason: "budget", Steps: 50, StartedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.InsertMessage(ctx, &storage.TranscriptMessage{SessionID: "s", Role: "user", Content: "hi", CreatedAt: old}))
	return cfgPath, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRunsListAndShow(t *testing.T) {
	cfgPath, _ := setupConfig(t)

	out, err := execute(t, "--config", cfgPath, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "RUN ID")
	assert.Contains(t, out, "run-old")
	assert.Contains(t, out, "run-new")
	// 按开始时间倒序
	assert.Less(t, strings.Index(out, "run-new"), strings.Index(out, "run-old"))

	out, err = execute(t, "--config", cfgPath, "runs", "show", "run-old")
	require.NoError(t, err)
	assert.Contains(t, out, "open the settings page")
	assert.Contains(t, out, "success (done)")
	assert.Contains(t, out, "CLICK")
	assert.Contains(t, out, "DONE")

	_, err = execute(t, "--config", cfgPath, "runs", "show", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStorageInfoAndPrune(t *testing.T) {
	cfgPath, dbPath := setupConfig(t)

	out, err := execute(t, "--config", cfgPath, "storage", "info")
	require.NoError(t, err)
	assert.Contains(t, out, dbPath)
	assert.Contains(t, out, "AutomationRuns")

	out, err = execute(t, "--config", cfgPath, "storage", "prune", "--runs-days", "1", "--messages-days", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 run(s), 1 message(s)")

	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: dbPath})
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.CountRuns(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, runs)
	steps, err := store.CountSteps(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, steps)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "你好…", truncate("你好世界", 3))
}
