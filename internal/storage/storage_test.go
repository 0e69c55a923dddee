package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "loopie.db")
	s, err := Open(ctx, Config{
		Path:      dbPath,
		EnableWAL: true,
	})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute).UTC()
	if err := s.InsertRun(ctx, &AutomationRun{RunID: "run-1", Goal: "open settings", StartedAt: started}); err != nil {
		t.Fatalf("insert run: %v", err)
	}

	got, err := s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != RunStatusRunning {
		t.Fatalf("expected running status, got %s", got.Status)
	}

	status := RunStatusSuccess
	reason := "done"
	steps := 3
	finished := time.Now().UTC()
	if err := s.UpdateRun(ctx, "run-1", RunUpdate{
		Status:     &status,
		Reason:     &reason,
		Steps:      &steps,
		FinishedAt: &finished,
	}); err != nil {
		t.Fatalf("update run: %v", err)
	}

	got, err = s.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != RunStatusSuccess || got.Reason != "done" || got.Steps != 3 {
		t.Fatalf("unexpected run: status=%s reason=%s steps=%d", got.Status, got.Reason, got.Steps)
	}
	if got.FinishedAt == nil {
		t.Fatalf("expected finished_at to be set")
	}
}

func TestRunNotFound(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	status := RunStatusStopped
	if err := s.UpdateRun(ctx, "missing", RunUpdate{Status: &status}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestStepsOrderedByIndex(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	if err := s.InsertRun(ctx, &AutomationRun{RunID: "run-2", Goal: "type hello"}); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	for _, idx := range []int{2, 0, 1} {
		step := AutomationStep{
			RunID:     "run-2",
			StepIndex: idx,
			Kind:      "click",
			Status:    "success",
		}
		if err := s.InsertStep(ctx, &step); err != nil {
			t.Fatalf("insert step %d: %v", idx, err)
		}
	}

	steps, err := s.ListSteps(ctx, "run-2")
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	for i, st := range steps {
		if st.StepIndex != i {
			t.Fatalf("expected index %d at position %d, got %d", i, i, st.StepIndex)
		}
	}
}

func TestQueryRuns(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	base := time.Now().Add(-10 * time.Minute).UTC()
	runs := []AutomationRun{
		{RunID: "a", Goal: "g1", Status: RunStatusSuccess, StartedAt: base},
		{RunID: "b", Goal: "g2", Status: RunStatusStopped, StartedAt: base.Add(time.Minute)},
		{RunID: "c", Goal: "g3", Status: RunStatusSuccess, StartedAt: base.Add(2 * time.Minute)},
	}
	for i := range runs {
		if err := s.InsertRun(ctx, &runs[i]); err != nil {
			t.Fatalf("insert run %s: %v", runs[i].RunID, err)
		}
	}

	got, err := s.QueryRuns(ctx, RunQuery{Status: RunStatusSuccess, Desc: true, Limit: 10})
	if err != nil {
		t.Fatalf("query runs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(got))
	}
	if got[0].RunID != "c" || got[1].RunID != "a" {
		t.Fatalf("unexpected order: %s then %s", got[0].RunID, got[1].RunID)
	}
}

func TestTranscriptMessagesQuery(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	base := time.Now().Add(-5 * time.Minute).UTC()
	m1 := TranscriptMessage{SessionID: "s1", Role: "user", Content: "what is on screen?", HasImage: true, CreatedAt: base}
	m2 := TranscriptMessage{SessionID: "s1", Role: "assistant", Content: "A settings window.", CreatedAt: base.Add(10 * time.Second)}
	m3 := TranscriptMessage{SessionID: "s2", Role: "user", Content: "hello", CreatedAt: base.Add(20 * time.Second)}
	for _, m := range []*TranscriptMessage{&m1, &m2, &m3} {
		if err := s.InsertMessage(ctx, m); err != nil {
			t.Fatalf("insert message: %v", err)
		}
	}

	got, err := s.QueryMessages(ctx, MessageQuery{SessionID: "s1", Contains: "settings", Limit: 10})
	if err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(got) != 1 || got[0].Role != "assistant" {
		t.Fatalf("unexpected messages: %+v", got)
	}

	affected, err := s.DeleteMessagesBeforeLimited(ctx, base.Add(15*time.Second), 10)
	if err != nil {
		t.Fatalf("delete messages: %v", err)
	}
	if affected != 2 {
		t.Fatalf("expected delete 2 messages, got %d", affected)
	}

	n, err := s.CountMessages(ctx)
	if err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 message left, got %d", n)
	}
}

func TestDeleteRunsKeepsRunning(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour).UTC()
	if err := s.InsertRun(ctx, &AutomationRun{RunID: "done-run", Goal: "g", Status: RunStatusSuccess, StartedAt: old}); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	if err := s.InsertRun(ctx, &AutomationRun{RunID: "live-run", Goal: "g", StartedAt: old}); err != nil {
		t.Fatalf("insert run: %v", err)
	}
	if err := s.InsertStep(ctx, &AutomationStep{RunID: "done-run", StepIndex: 0, Status: "success"}); err != nil {
		t.Fatalf("insert step: %v", err)
	}

	affected, err := s.DeleteRunsBeforeLimited(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("delete runs: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected delete 1 run, got %d", affected)
	}

	if _, err := s.GetRun(ctx, "live-run"); err != nil {
		t.Fatalf("running run should survive: %v", err)
	}
	steps, err := s.CountSteps(ctx)
	if err != nil {
		t.Fatalf("count steps: %v", err)
	}
	if steps != 0 {
		t.Fatalf("expected steps of deleted run to be removed, got %d", steps)
	}
}

func TestNormalizeLimits(t *testing.T) {
	if normalizeLimit(0) != defaultLimit || normalizeLimit(maxLimit+1) != maxLimit || normalizeLimit(7) != 7 {
		t.Fatalf("normalizeLimit boundaries wrong")
	}
	if normalizeDeleteLimit(-1) != defaultDeleteLimit || normalizeDeleteLimit(maxDeleteLimit+1) != maxDeleteLimit {
		t.Fatalf("normalizeDeleteLimit boundaries wrong")
	}
}

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN(Config{Path: "/tmp/loopie.db", EnableWAL: true, BusyTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}
	if !strings.HasPrefix(dsn, "file:/tmp/loopie.db?") {
		t.Fatalf("unexpected dsn: %s", dsn)
	}
	for _, want := range []string{"busy_timeout%282000%29", "journal_mode%28WAL%29", "foreign_keys%281%29"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %s missing %s", dsn, want)
		}
	}

	a, _ := buildDSN(Config{InMemory: true})
	b, _ := buildDSN(Config{InMemory: true})
	if a == b || !strings.Contains(a, "mode=memory") {
		t.Fatalf("in-memory dsns should be distinct: %s %s", a, b)
	}

	if _, err := buildDSN(Config{}); err == nil {
		t.Fatalf("expected error without path")
	}
}

func TestOpenInMemoryIsolated(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, Config{InMemory: true})
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer a.Close()
	b, err := Open(ctx, Config{InMemory: true})
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer b.Close()

	if err := a.InsertRun(ctx, &AutomationRun{RunID: "r", Goal: "g", Status: RunStatusRunning, StartedAt: time.Now()}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	n, err := b.CountRuns(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("in-memory stores should not share rows, got %d", n)
	}
}
