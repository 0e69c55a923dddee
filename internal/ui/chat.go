package ui

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// ChatBackend 处理一轮用户输入，结果写入 Session 的 Transcript。
type ChatBackend interface {
	// Handle 路由一条文本消息（自动化指令、截图问答或普通问答）。
	Handle(ctx context.Context, text string) error
	// Voice 转写录音后按文本消息处理。
	Voice(ctx context.Context, audio io.Reader, filename string) error
	// Screenshot 截图并挂到下一条消息上。
	Screenshot(ctx context.Context) error
	// StopAutomation 取消进行中的自动化，没有运行时返回 false。
	StopAutomation() bool
}

type ChatUI interface {
	Run(ctx context.Context, backend ChatBackend, session *Session, opts ChatOptions) error
}

type ChatOptions struct {
	// ShowSystem 控制是否显示自动化进度等 system 消息。
	ShowSystem bool
}

// Session 是一次 chat 的全部可变状态。
type Session struct {
	ID         string
	State      *State
	Transcript *Transcript
}

func NewSession() *Session {
	return &Session{
		ID:         uuid.New().String(),
		State:      NewState(),
		Transcript: NewTranscript(),
	}
}
