// Package assistant 把一轮用户输入路由到自动化、截图问答或普通问答。
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/wwwzy/loopie/internal/automation"
	"github.com/wwwzy/loopie/internal/transcribe"
	"github.com/wwwzy/loopie/internal/ui"
)

// 自动化指令前缀
var automationPrefixes = []string{"/do", "/auto"}

const (
	MsgAutomationBusy  = "An automation is already running. Use /stop to cancel it."
	MsgAutomationUsage = "Usage: /do <goal>"
	MsgTranscribeFail  = "Transcription failed: "
	MsgNoSpeech        = "No speech detected."
)

var ErrNotConfigured = errors.New("not configured")

type Asker interface {
	Ask(ctx context.Context, message, key string) (string, error)
}

type ImageAnalyser interface {
	AnalyseImage(ctx context.Context, image, prompt, key string) (string, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (transcribe.Transcript, error)
}

// Automator 由 automation.Controller 实现。
type Automator interface {
	Run(ctx context.Context, goal, credential string) (automation.Result, error)
	Cancel() bool
}

type Credentials struct {
	GeminiKey string `mapstructure:"gemini_key"`
	GroqKey   string `mapstructure:"groq_key"`
}

// Deps 为 Assistant 的协作者；未提供的能力在调用时报 ErrNotConfigured。
type Deps struct {
	Asker       Asker
	Analyser    ImageAnalyser
	Transcriber Transcriber
	Automator   Automator
	Capturer    automation.Capturer
}

type Assistant struct {
	session *ui.Session
	deps    Deps
	creds   Credentials
	logger  *zap.Logger
}

var _ ui.ChatBackend = (*Assistant)(nil)

func New(session *ui.Session, deps Deps, creds Credentials) (*Assistant, error) {
	if session == nil {
		return nil, errors.New("session is required")
	}
	if deps.Asker == nil {
		return nil, fmt.Errorf("asker: %w", ErrNotConfigured)
	}
	return &Assistant{session: session, deps: deps, creds: creds, logger: zap.NewNop()}, nil
}

func (a *Assistant) WithLogger(l *zap.Logger) *Assistant {
	if l != nil {
		a.logger = l.Named("assistant")
	}
	return a
}

// AutomationGoal 判断文本是否为自动化指令，并返回目标。
func AutomationGoal(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, p := range automationPrefixes {
		if lower == p {
			return "", true
		}
		if strings.HasPrefix(lower, p+" ") {
			return strings.TrimSpace(trimmed[len(p)+1:]), true
		}
	}
	return "", false
}

// Handle 处理一条文本消息。失败只写入对话区，返回的 error 仅表示调用方用法错误。
func (a *Assistant) Handle(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	// 只有截图时照常提问，后端使用默认提示词
	if text == "" && !a.session.State.Snapshot().HasPendingScreenshot() {
		return nil
	}
	tr := a.session.Transcript

	if goal, ok := AutomationGoal(text); ok {
		tr.AddUser(text, false)
		return a.runAutomation(ctx, goal)
	}

	img := a.session.State.TakePendingScreenshot()
	shown := text
	if shown == "" {
		shown = " "
	}
	tr.AddUser(shown, img != "")

	tr.ShowTyping()
	defer tr.RemoveTyping()

	var (
		reply string
		err   error
	)
	if img != "" {
		if a.deps.Analyser == nil {
			err = fmt.Errorf("image analysis: %w", ErrNotConfigured)
		} else {
			reply, err = a.deps.Analyser.AnalyseImage(ctx, img, text, a.creds.GeminiKey)
		}
	} else {
		reply, err = a.deps.Asker.Ask(ctx, text, a.creds.GeminiKey)
	}
	if err != nil {
		a.logger.Warn("assistant request failed", zap.Bool("image", img != ""), zap.Error(err))
		tr.AddAssistant(ui.MsgSorry)
		return nil
	}
	tr.AddAssistant(reply)
	return nil
}

func (a *Assistant) runAutomation(ctx context.Context, goal string) error {
	tr := a.session.Transcript
	if a.deps.Automator == nil {
		tr.AddAssistant(ui.MsgSorry)
		return fmt.Errorf("automation: %w", ErrNotConfigured)
	}
	if goal == "" {
		tr.AddAssistant(MsgAutomationUsage)
		return nil
	}

	res, err := a.deps.Automator.Run(ctx, goal, a.creds.GeminiKey)
	switch {
	case errors.Is(err, automation.ErrAlreadyRunning):
		tr.AddAssistant(MsgAutomationBusy)
		return nil
	case err != nil:
		a.logger.Warn("automation not started", zap.Error(err))
		tr.AddAssistant(ui.MsgSorry)
		return nil
	}
	a.logger.Info("automation finished",
		zap.String("run_id", res.RunID),
		zap.String("reason", string(res.Reason)),
		zap.Int("steps", res.Steps),
	)
	return nil
}

// Voice 转写录音，然后按普通文本处理。
func (a *Assistant) Voice(ctx context.Context, audio io.Reader, filename string) error {
	tr := a.session.Transcript
	if a.deps.Transcriber == nil {
		tr.AddAssistant(MsgTranscribeFail + ErrNotConfigured.Error())
		return nil
	}

	loader := tr.ShowLoader(ui.MsgTranscribing)
	result, err := a.deps.Transcriber.Transcribe(ctx, audio, filename)
	tr.RemoveLoader(loader)
	if err != nil {
		a.logger.Warn("transcription failed", zap.Error(err))
		if errors.Is(err, transcribe.ErrMissingAPIKey) {
			tr.AddAssistant(err.Error())
			return nil
		}
		tr.AddAssistant(MsgTranscribeFail + err.Error())
		return nil
	}

	text := strings.TrimSpace(result.Text)
	if text == "" && !a.session.State.Snapshot().HasPendingScreenshot() {
		tr.AddAssistant(MsgNoSpeech)
		return nil
	}
	return a.Handle(ctx, text)
}

// Screenshot 截图并挂到下一条消息上。
func (a *Assistant) Screenshot(ctx context.Context) error {
	if a.deps.Capturer == nil {
		return fmt.Errorf("capture: %w", ErrNotConfigured)
	}
	img, err := a.deps.Capturer.Capture(ctx)
	if err != nil {
		return err
	}
	a.session.State.SetPendingScreenshot(img)
	return nil
}

func (a *Assistant) StopAutomation() bool {
	if a.deps.Automator == nil {
		return false
	}
	return a.deps.Automator.Cancel()
}
