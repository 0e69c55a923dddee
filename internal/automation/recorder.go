package automation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/wwwzy/loopie/internal/storage"
)

// 单条 Detail 落库的最大长度
const maxDetailLen = 4000

// StoreRecorder 把运行与步骤写入 storage。
type StoreRecorder struct {
	store *storage.Storage
}

func NewStoreRecorder(store *storage.Storage) *StoreRecorder {
	return &StoreRecorder{store: store}
}

func (r *StoreRecorder) StartRun(ctx context.Context, runID, goal string, startedAt time.Time) error {
	if r == nil || r.store == nil {
		return errors.New("recorder store is nil")
	}
	return r.store.InsertRun(ctx, &storage.AutomationRun{
		RunID:     runID,
		Goal:      goal,
		Status:    storage.RunStatusRunning,
		StartedAt: startedAt,
	})
}

func (r *StoreRecorder) RecordStep(ctx context.Context, runID string, step StepRecord) error {
	if r == nil || r.store == nil {
		return errors.New("recorder store is nil")
	}

	row := storage.AutomationStep{
		RunID:      runID,
		StepIndex:  step.Index,
		Status:     step.Outcome.Status,
		Detail:     truncate(step.Outcome.Detail, maxDetailLen),
		StartedAt:  step.StartedAt,
		FinishedAt: step.FinishedAt,
	}
	if step.Action != nil {
		row.Kind = step.Action.Kind
		if b, err := json.Marshal(step.Action); err == nil {
			row.ActionJSON = string(b)
		}
	}
	return r.store.InsertStep(ctx, &row)
}

func (r *StoreRecorder) FinishRun(ctx context.Context, res Result) error {
	if r == nil || r.store == nil {
		return errors.New("recorder store is nil")
	}

	status := storage.RunStatusStopped
	if res.Reason.Success() {
		status = storage.RunStatusSuccess
	}
	reason := string(res.Reason)
	steps := res.Steps
	finished := res.FinishedAt
	up := storage.RunUpdate{
		Status:     &status,
		Reason:     &reason,
		Steps:      &steps,
		FinishedAt: &finished,
	}
	if res.Err != nil {
		msg := truncate(res.Err.Error(), maxDetailLen)
		up.ErrorMessage = &msg
	}
	return r.store.UpdateRun(ctx, res.RunID, up)
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max], "")
}
