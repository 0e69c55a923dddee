package storage

import "time"

// AutomationRun 记录一次自动化运行。
//
// 一条记录对应一次 “目标 -> 若干步骤 -> 结束” 的完整运行；
// 运行开始时以 running 状态插入，结束时回填 Status/Reason/Steps/FinishedAt。
type AutomationRun struct {
	// ID 为自增主键（内部使用）。
	ID uint64 `gorm:"primaryKey"`
	// RunID 为运行的唯一标识（uuid），步骤记录通过它关联。
	RunID string `gorm:"size:64;not null;uniqueIndex"`
	// Goal 为用户的原始指令。
	Goal string `gorm:"type:text;not null"`
	// Status 为 running/success/stopped。
	Status string `gorm:"size:32;not null;index"`
	// Reason 为结束原因（done/budget/capture_error/plan_error/canceled/panic）。
	Reason string `gorm:"size:32;index"`
	// Steps 为实际执行的迭代次数。
	Steps int `gorm:"not null;default:0"`
	// ErrorMessage 存放非正常结束时的错误信息。
	ErrorMessage string `gorm:"type:text"`
	StartedAt    time.Time `gorm:"not null;index"`
	FinishedAt   *time.Time
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
}

// AutomationStep 记录一次迭代：规划出的动作与执行结果。
type AutomationStep struct {
	ID uint64 `gorm:"primaryKey"`
	// RunID 与 StepIndex 组成联合索引，按运行顺序读取步骤。
	RunID     string `gorm:"size:64;not null;index:idx_automation_steps_run_index,priority:1"`
	StepIndex int    `gorm:"not null;index:idx_automation_steps_run_index,priority:2"`
	// Kind 为动作类型；规划结果无效时为空。
	Kind string `gorm:"size:64;index"`
	// ActionJSON 为归一化后的动作（JSON）。
	ActionJSON string `gorm:"type:text"`
	// Status 为 success/failure。
	Status string `gorm:"size:32;not null;index"`
	Detail string `gorm:"type:text"`
	StartedAt  time.Time `gorm:"not null"`
	FinishedAt time.Time `gorm:"not null;index"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime"`
}

// TranscriptMessage 是对话区中的一条消息。
type TranscriptMessage struct {
	ID uint64 `gorm:"primaryKey"`
	// SessionID 标识一次 chat 会话。
	SessionID string `gorm:"size:64;not null;index:idx_transcript_session_time,priority:1"`
	// Role 为 user/assistant/system。
	Role    string `gorm:"size:16;not null;index"`
	Content string `gorm:"type:text;not null"`
	// HasImage 表示该消息附带了截图（截图本身不落库）。
	HasImage  bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null;index:idx_transcript_session_time,priority:2"`
}
