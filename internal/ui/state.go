package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Modal 为可切换的弹层。
type Modal string

const (
	ModalSettings  Modal = "settings"
	ModalCalendar  Modal = "calendar"
	ModalChat      Modal = "chat"
	ModalDashboard Modal = "dashboard"
)

var Modals = []Modal{ModalSettings, ModalCalendar, ModalChat, ModalDashboard}

var (
	ErrUnknownModal        = errors.New("unknown modal")
	ErrRecordingInProgress = errors.New("recording in progress")
	ErrCaptureInProgress   = errors.New("screen capture in progress")
)

func ParseModal(s string) (Modal, error) {
	m := Modal(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modals {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModal, s)
}

// Snapshot 是 State 的只读拷贝。
type Snapshot struct {
	Settings  bool
	Calendar  bool
	Chat      bool
	Dashboard bool

	Recording         bool
	Capturing         bool
	PendingScreenshot string
	WindowVisible     bool
}

// HasPendingScreenshot 表示下一条消息会附带截图。
func (s Snapshot) HasPendingScreenshot() bool {
	return s.PendingScreenshot != ""
}

func (s Snapshot) IsOpen(m Modal) bool {
	switch m {
	case ModalSettings:
		return s.Settings
	case ModalCalendar:
		return s.Calendar
	case ModalChat:
		return s.Chat
	case ModalDashboard:
		return s.Dashboard
	}
	return false
}

// State 由顶层视图持有并向下传递，所有修改都通过方法完成。
//
// 录音与截图互斥：录音期间不能隐藏窗口截图，截图期间不能开始录音。
type State struct {
	mu sync.RWMutex
	s  Snapshot

	subMu sync.Mutex
	subs  []func(Snapshot)
}

func NewState() *State {
	return &State{s: Snapshot{WindowVisible: true}}
}

func (st *State) Snapshot() Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

// Toggle 切换弹层；打开一个弹层时关闭其余弹层。返回切换后的状态。
func (st *State) Toggle(m Modal) (bool, error) {
	var open bool
	err := st.update(func(s *Snapshot) error {
		p := modalField(s, m)
		if p == nil {
			return fmt.Errorf("%w: %q", ErrUnknownModal, m)
		}
		open = !*p
		closeModals(s)
		*p = open
		return nil
	})
	return open, err
}

func (st *State) CloseModals() {
	_ = st.update(func(s *Snapshot) error {
		closeModals(s)
		return nil
	})
}

func (st *State) SetPendingScreenshot(b64 string) {
	_ = st.update(func(s *Snapshot) error {
		s.PendingScreenshot = b64
		return nil
	})
}

func (st *State) ClearPendingScreenshot() {
	st.SetPendingScreenshot("")
}

// TakePendingScreenshot 取出并清空待发送截图。
func (st *State) TakePendingScreenshot() string {
	var img string
	_ = st.update(func(s *Snapshot) error {
		img = s.PendingScreenshot
		s.PendingScreenshot = ""
		return nil
	})
	return img
}

func (st *State) SetRecording(on bool) error {
	return st.update(func(s *Snapshot) error {
		if on && s.Capturing {
			return ErrCaptureInProgress
		}
		s.Recording = on
		return nil
	})
}

func (st *State) SetWindowVisible(v bool) {
	_ = st.update(func(s *Snapshot) error {
		s.WindowVisible = v
		return nil
	})
}

// Subscribe 注册状态变更回调，返回取消函数。
func (st *State) Subscribe(fn func(Snapshot)) func() {
	st.subMu.Lock()
	defer st.subMu.Unlock()
	st.subs = append(st.subs, fn)
	idx := len(st.subs) - 1
	return func() {
		st.subMu.Lock()
		defer st.subMu.Unlock()
		if idx < len(st.subs) {
			st.subs[idx] = nil
		}
	}
}

func (st *State) update(fn func(s *Snapshot) error) error {
	st.mu.Lock()
	before := st.s
	if err := fn(&st.s); err != nil {
		st.mu.Unlock()
		return err
	}
	after := st.s
	st.mu.Unlock()

	if before != after {
		st.notify(after)
	}
	return nil
}

func (st *State) notify(s Snapshot) {
	st.subMu.Lock()
	subs := append([]func(Snapshot){}, st.subs...)
	st.subMu.Unlock()
	for _, fn := range subs {
		if fn != nil {
			fn(s)
		}
	}
}

func modalField(s *Snapshot, m Modal) *bool {
	switch m {
	case ModalSettings:
		return &s.Settings
	case ModalCalendar:
		return &s.Calendar
	case ModalChat:
		return &s.Chat
	case ModalDashboard:
		return &s.Dashboard
	}
	return nil
}

func closeModals(s *Snapshot) {
	s.Settings = false
	s.Calendar = false
	s.Chat = false
	s.Dashboard = false
}

// Window 把 State 的窗口可见性暴露为 capture.Window。
func (st *State) Window() *StateWindow {
	return &StateWindow{state: st}
}

// StateWindow 在终端环境下没有真实窗口，隐藏/显示只修改状态位，
// 同时承担录音与截图的互斥。
type StateWindow struct {
	state *State
}

func (w *StateWindow) Visible() bool {
	return w.state.Snapshot().WindowVisible
}

func (w *StateWindow) Hide(ctx context.Context) error {
	return w.state.update(func(s *Snapshot) error {
		if s.Recording {
			return ErrRecordingInProgress
		}
		s.Capturing = true
		s.WindowVisible = false
		return nil
	})
}

func (w *StateWindow) Show(ctx context.Context) error {
	return w.state.update(func(s *Snapshot) error {
		s.Capturing = false
		s.WindowVisible = true
		return nil
	})
}
