package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultMaxSteps  = 50
	DefaultStepDelay = time.Second
)

// 转录区固定文案
const (
	MsgStopped       = "stopped: max steps or error"
	MsgInvalidAction = "Invalid action"
)

var (
	ErrAlreadyRunning = errors.New("automation already running")
	ErrEmptyGoal      = errors.New("goal is required")
	ErrCaptureFailed  = errors.New("screen capture failed")
	ErrPlanFailed     = errors.New("planner request failed")
)

type Config struct {
	// MaxSteps 为单次运行允许的最大迭代次数。
	MaxSteps int `mapstructure:"max_steps"`
	// StepDelay 为两次迭代之间的固定间隔，给目标环境留出稳定时间。
	StepDelay time.Duration `mapstructure:"step_delay"`
}

func DefaultConfig() Config {
	return Config{
		MaxSteps:  DefaultMaxSteps,
		StepDelay: DefaultStepDelay,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.StepDelay < 0 {
		c.StepDelay = 0
	}
	return c
}

// Controller 驱动 “截图 -> 规划 -> 执行 -> 记录” 循环。
//
// 同一时刻只允许一次运行；并发的 Run 会得到 ErrAlreadyRunning。
// 每一步都依赖上一步的结果，因此循环严格串行。
type Controller struct {
	cfg Config

	capturer Capturer
	planner  Planner
	executor Executor
	sink     Sink
	recorder RunRecorder
	logger   *zap.Logger

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewController(cfg Config, capturer Capturer, planner Planner, executor Executor, sink Sink) (*Controller, error) {
	if capturer == nil {
		return nil, errors.New("capturer is required")
	}
	if planner == nil {
		return nil, errors.New("planner is required")
	}
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	if sink == nil {
		sink = SinkFunc(func(string) {})
	}
	return &Controller{
		cfg:      cfg.withDefaults(),
		capturer: capturer,
		planner:  planner,
		executor: executor,
		sink:     sink,
		logger:   zap.NewNop(),
	}, nil
}

func (c *Controller) WithRecorder(r RunRecorder) *Controller {
	if c == nil {
		return nil
	}
	c.recorder = r
	return c
}

func (c *Controller) WithLogger(l *zap.Logger) *Controller {
	if c == nil {
		return nil
	}
	if l != nil {
		c.logger = l.Named("automation")
	}
	return c
}

func (c *Controller) Config() Config {
	return c.cfg
}

// Running 报告当前是否有运行在进行。
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Cancel 取消进行中的运行；没有运行时返回 false。
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

// Run 执行一次完整的自动化运行。
//
// 返回的 error 只表示运行没有开始（目标为空、已有运行）；
// 运行中的各种失败都体现在 Result.Reason/Result.Err 和转录区中。
func (c *Controller) Run(ctx context.Context, goal, credential string) (Result, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return Result{}, ErrEmptyGoal
	}
	if !c.running.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRunning
	}
	defer c.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}()

	res := Result{
		RunID:     uuid.New().String(),
		Goal:      goal,
		StartedAt: time.Now().UTC(),
	}
	log := c.logger.With(zap.String("run_id", res.RunID))
	log.Info("automation started", zap.String("goal", goal), zap.Int("max_steps", c.cfg.MaxSteps))

	if c.recorder != nil {
		if err := c.recorder.StartRun(runCtx, res.RunID, goal, res.StartedAt); err != nil {
			log.Warn("record run start failed", zap.Error(err))
		}
	}

	c.sink.Append(fmt.Sprintf("Starting automation: %s", goal))

	state := &LoopState{Goal: goal}
	res.Reason, res.Err = c.loop(runCtx, state, credential, res.RunID, log)
	res.Steps = state.StepIndex
	res.LastState = state.LastState
	res.FinishedAt = time.Now().UTC()

	c.report(res)
	log.Info("automation finished",
		zap.String("reason", string(res.Reason)),
		zap.Int("steps", res.Steps),
		zap.Error(res.Err),
	)

	if c.recorder != nil {
		// 取消后仍需落库，使用不受 runCtx 影响的 context
		if err := c.recorder.FinishRun(context.WithoutCancel(ctx), res); err != nil {
			log.Warn("record run finish failed", zap.Error(err))
		}
	}
	return res, nil
}

func (c *Controller) loop(ctx context.Context, state *LoopState, credential, runID string, log *zap.Logger) (Reason, error) {
	for state.StepIndex < c.cfg.MaxSteps {
		if err := ctx.Err(); err != nil {
			return ReasonCanceled, err
		}

		reason, err := c.step(ctx, state, credential, runID, log)
		state.StepIndex++
		if reason != "" {
			return reason, err
		}
		if state.Done {
			return ReasonDone, nil
		}

		if state.StepIndex < c.cfg.MaxSteps {
			if err := sleep(ctx, c.cfg.StepDelay); err != nil {
				return ReasonCanceled, err
			}
		}
	}
	return ReasonBudget, nil
}

// step 执行一次迭代。返回非空 Reason 表示运行必须终止。
func (c *Controller) step(ctx context.Context, state *LoopState, credential, runID string, log *zap.Logger) (reason Reason, err error) {
	startedAt := time.Now().UTC()
	log = log.With(zap.Int("step", state.StepIndex+1))

	defer func() {
		if r := recover(); r != nil {
			log.Error("automation step panicked", zap.Any("panic", r))
			reason = ReasonPanic
			err = fmt.Errorf("step %d panicked: %v", state.StepIndex+1, r)
		}
	}()

	// 1. 截图，失败立即终止（不重试）
	image, err := c.capturer.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ReasonCanceled, ctx.Err()
		}
		c.sink.Append(fmt.Sprintf("Screen capture failed: %v", err))
		return ReasonCaptureError, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	// 2. 请求规划服务，单次尝试
	raw, err := c.planner.NextAction(ctx, PlanRequest{
		Base64Image: image,
		Goal:        state.Goal,
		Credential:  credential,
		LastState:   state.LastState,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ReasonCanceled, ctx.Err()
		}
		c.sink.Append(fmt.Sprintf("Planner error: %v", err))
		return ReasonPlanError, fmt.Errorf("%w: %v", ErrPlanFailed, err)
	}

	// 3. 归一化
	action, err := NormalizeAction(raw)
	if err != nil {
		log.Warn("planner returned invalid action", zap.Error(err))
		c.sink.Append(MsgInvalidAction)
		outcome := StepOutcome{Status: StatusFailure, Detail: err.Error()}
		state.LastState = &LastState{Action: nil, Outcome: outcome}
		c.recordStep(ctx, runID, StepRecord{
			Index:      state.StepIndex,
			Outcome:    outcome,
			StartedAt:  startedAt,
			FinishedAt: time.Now().UTC(),
		}, log)
		return "", nil
	}
	c.sink.Append(fmt.Sprintf("Step %d: %s", state.StepIndex+1, action.Label()))

	// 4. 执行，失败只作为反馈
	outcome := c.execute(ctx, *action, log)
	if outcome.Failed() {
		c.sink.Append(fmt.Sprintf("Execution failed: %s", outcome.Detail))
	}
	log.Debug("action executed",
		zap.String("kind", action.Kind),
		zap.String("status", outcome.Status),
		zap.String("detail", outcome.Detail),
	)

	// 5. 记录
	state.LastState = &LastState{Action: action, Outcome: outcome}
	c.recordStep(ctx, runID, StepRecord{
		Index:      state.StepIndex,
		Action:     action,
		Outcome:    outcome,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
	}, log)

	// 6. 终止动作
	if action.IsDone() {
		state.Done = true
	}
	return "", nil
}

func (c *Controller) execute(ctx context.Context, action Action, log *zap.Logger) (outcome StepOutcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("executor panicked", zap.Any("panic", r))
			outcome = Failure("executor panicked: %v", r)
		}
	}()
	outcome = c.executor.ExecuteAction(ctx, action)
	if outcome.Status == "" {
		outcome.Status = StatusSuccess
	}
	if outcome.Failed() && outcome.Detail == "" {
		outcome.Detail = "unknown error"
	}
	return outcome
}

func (c *Controller) recordStep(ctx context.Context, runID string, rec StepRecord, log *zap.Logger) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordStep(context.WithoutCancel(ctx), runID, rec); err != nil {
		log.Warn("record step failed", zap.Error(err))
	}
}

func (c *Controller) report(res Result) {
	switch res.Reason {
	case ReasonDone:
		c.sink.Append(fmt.Sprintf("Automation complete after %d step(s).", res.Steps))
		return
	case ReasonCanceled:
		c.sink.Append("Automation canceled.")
	case ReasonPanic:
		c.sink.Append(fmt.Sprintf("Automation error: %v", res.Err))
	}
	c.sink.Append(MsgStopped)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
