package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

const (
	defaultLimit = 200
	maxLimit     = 5000

	defaultDeleteLimit = 500
	maxDeleteLimit     = 900
)

const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusStopped = "stopped"
)

var ErrNotFound = errors.New("not found")

func (s *Storage) InsertRun(ctx context.Context, run *AutomationRun) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if run == nil {
		return errors.New("run is nil")
	}
	if run.RunID == "" {
		return errors.New("run id is required")
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("insert automation run: %w", err)
	}
	return nil
}

type RunUpdate struct {
	Status       *string
	Reason       *string
	Steps        *int
	ErrorMessage *string
	FinishedAt   *time.Time
}

func (s *Storage) UpdateRun(ctx context.Context, runID string, up RunUpdate) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}

	updates := make(map[string]interface{})
	if up.Status != nil {
		updates["status"] = *up.Status
	}
	if up.Reason != nil {
		updates["reason"] = *up.Reason
	}
	if up.Steps != nil {
		updates["steps"] = *up.Steps
	}
	if up.ErrorMessage != nil {
		updates["error_message"] = *up.ErrorMessage
	}
	if up.FinishedAt != nil {
		updates["finished_at"] = *up.FinishedAt
	}
	if len(updates) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&AutomationRun{}).Where("run_id = ?", runID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update automation run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("automation run %s: %w", runID, ErrNotFound)
	}
	return nil
}

func (s *Storage) GetRun(ctx context.Context, runID string) (*AutomationRun, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var run AutomationRun
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("automation run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get automation run: %w", err)
	}
	return &run, nil
}

type RunQuery struct {
	// Status 精确匹配运行状态。
	Status string
	// From/To 过滤 StartedAt 区间：[From, To]（两端包含）。
	From *time.Time
	To   *time.Time
	// Limit 限制返回条数；<=0 使用默认值。
	Limit int
	// Desc 按 StartedAt 倒序返回（优先返回最新运行）。
	Desc bool
}

func (s *Storage) QueryRuns(ctx context.Context, q RunQuery) ([]AutomationRun, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	db := s.db.WithContext(ctx).Model(&AutomationRun{})
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.From != nil {
		db = db.Where("started_at >= ?", *q.From)
	}
	if q.To != nil {
		db = db.Where("started_at <= ?", *q.To)
	}
	if q.Desc {
		db = db.Order("started_at DESC")
	} else {
		db = db.Order("started_at ASC")
	}

	var out []AutomationRun
	if err := db.Limit(normalizeLimit(q.Limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query automation runs: %w", err)
	}
	return out, nil
}

func (s *Storage) InsertStep(ctx context.Context, step *AutomationStep) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if step == nil {
		return errors.New("step is nil")
	}
	now := time.Now().UTC()
	if step.StartedAt.IsZero() {
		step.StartedAt = now
	}
	if step.FinishedAt.IsZero() {
		step.FinishedAt = now
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = now
	}
	if err := s.db.WithContext(ctx).Create(step).Error; err != nil {
		return fmt.Errorf("insert automation step: %w", err)
	}
	return nil
}

// ListSteps 按 StepIndex 升序返回一次运行的全部步骤。
func (s *Storage) ListSteps(ctx context.Context, runID string) ([]AutomationStep, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	var out []AutomationStep
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("step_index ASC").
		Limit(maxLimit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list automation steps: %w", err)
	}
	return out, nil
}

func (s *Storage) InsertMessage(ctx context.Context, msg *TranscriptMessage) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if msg == nil {
		return errors.New("message is nil")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("insert transcript message: %w", err)
	}
	return nil
}

type MessageQuery struct {
	SessionID string
	Role      string
	// Contains 对 Content 做子串匹配（SQL LIKE）。
	Contains string
	From     *time.Time
	To       *time.Time
	Limit    int
	Desc     bool
}

func (s *Storage) QueryMessages(ctx context.Context, q MessageQuery) ([]TranscriptMessage, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	db := s.db.WithContext(ctx).Model(&TranscriptMessage{})
	if q.SessionID != "" {
		db = db.Where("session_id = ?", q.SessionID)
	}
	if q.Role != "" {
		db = db.Where("role = ?", q.Role)
	}
	if q.Contains != "" {
		db = db.Where("content LIKE ?", "%"+q.Contains+"%")
	}
	if q.From != nil {
		db = db.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		db = db.Where("created_at <= ?", *q.To)
	}
	if q.Desc {
		db = db.Order("created_at DESC")
	} else {
		db = db.Order("created_at ASC")
	}

	var out []TranscriptMessage
	if err := db.Limit(normalizeLimit(q.Limit)).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query transcript messages: %w", err)
	}
	return out, nil
}

// DeleteRunsBeforeLimited 删除 StartedAt 早于 before 且已结束的运行及其步骤，每次最多 limit 条运行。
func (s *Storage) DeleteRunsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}

	limit = normalizeDeleteLimit(limit)

	var runIDs []string
	err := s.db.WithContext(ctx).Model(&AutomationRun{}).
		Select("run_id").
		Where("started_at < ? AND status <> ?", before, RunStatusRunning).
		Order("id ASC").
		Limit(limit).
		Find(&runIDs).Error
	if err != nil {
		return 0, fmt.Errorf("select automation run ids: %w", err)
	}
	if len(runIDs) == 0 {
		return 0, nil
	}

	var affected int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id IN ?", runIDs).Delete(&AutomationStep{}).Error; err != nil {
			return fmt.Errorf("delete automation steps: %w", err)
		}
		res := tx.Where("run_id IN ?", runIDs).Delete(&AutomationRun{})
		if res.Error != nil {
			return fmt.Errorf("delete automation runs: %w", res.Error)
		}
		affected = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *Storage) DeleteMessagesBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}

	limit = normalizeDeleteLimit(limit)

	var ids []uint64
	err := s.db.WithContext(ctx).Model(&TranscriptMessage{}).
		Select("id").
		Where("created_at < ?", before).
		Order("id ASC").
		Limit(limit).
		Find(&ids).Error
	if err != nil {
		return 0, fmt.Errorf("select transcript message ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&TranscriptMessage{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete transcript messages: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Storage) CountRuns(ctx context.Context) (int64, error) {
	return s.count(ctx, &AutomationRun{})
}

func (s *Storage) CountSteps(ctx context.Context) (int64, error) {
	return s.count(ctx, &AutomationStep{})
}

func (s *Storage) CountMessages(ctx context.Context) (int64, error) {
	return s.count(ctx, &TranscriptMessage{})
}

func (s *Storage) count(ctx context.Context, model interface{}) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(model).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func normalizeLimit(v int) int {
	if v <= 0 {
		return defaultLimit
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}

func normalizeDeleteLimit(v int) int {
	if v <= 0 {
		return defaultDeleteLimit
	}
	if v > maxDeleteLimit {
		return maxDeleteLimit
	}
	return v
}
