package automation

import (
	"context"
	"time"
)

// LastState 是最近一次执行的 Action 及其结果，会回传给下一次规划请求。
type LastState struct {
	Action  *Action     `json:"action"`
	Outcome StepOutcome `json:"outcome"`
}

// LoopState 只在一次自动化运行期间存在，运行结束即丢弃。
type LoopState struct {
	Goal      string
	StepIndex int
	LastState *LastState
	Done      bool
}

// PlanRequest 为发送给规划服务的请求体。
type PlanRequest struct {
	Base64Image string     `json:"base64Image"`
	Goal        string     `json:"goal"`
	Credential  string     `json:"credential"`
	LastState   *LastState `json:"lastState"`
}

// Reason 描述一次运行结束的原因。
type Reason string

const (
	ReasonDone         Reason = "done"
	ReasonBudget       Reason = "budget"
	ReasonCaptureError Reason = "capture_error"
	ReasonPlanError    Reason = "plan_error"
	ReasonCanceled     Reason = "canceled"
	ReasonPanic        Reason = "panic"
)

func (r Reason) Success() bool {
	return r == ReasonDone
}

// Result 汇总一次运行。Err 保存导致非正常结束的错误（预算耗尽时为 nil）。
type Result struct {
	RunID      string
	Goal       string
	Reason     Reason
	Steps      int
	LastState  *LastState
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Capturer 抓取当前屏幕并返回 base64 编码的 PNG。
type Capturer interface {
	Capture(ctx context.Context) (string, error)
}

// Planner 根据截图、目标和上一步结果给出下一步动作的原始 JSON。
type Planner interface {
	NextAction(ctx context.Context, req PlanRequest) ([]byte, error)
}

// Executor 执行一个归一化后的动作。实现不得返回错误，所有失败都折叠为 StepOutcome。
type Executor interface {
	ExecuteAction(ctx context.Context, action Action) StepOutcome
}

// Sink 接收给用户看的进度行。
type Sink interface {
	Append(line string)
}

// SinkFunc 让普通函数满足 Sink。
type SinkFunc func(line string)

func (f SinkFunc) Append(line string) { f(line) }

// RunRecorder 持久化运行与步骤；写入失败只记录日志，不影响运行。
type RunRecorder interface {
	StartRun(ctx context.Context, runID, goal string, startedAt time.Time) error
	RecordStep(ctx context.Context, runID string, step StepRecord) error
	FinishRun(ctx context.Context, res Result) error
}

// StepRecord 是一次迭代的完整记录。Action 为 nil 表示规划结果无效。
type StepRecord struct {
	Index      int
	Action     *Action
	Outcome    StepOutcome
	StartedAt  time.Time
	FinishedAt time.Time
}
