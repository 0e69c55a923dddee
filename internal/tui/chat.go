package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/loopie/internal/shortcut"
	"github.com/wwwzy/loopie/internal/ui"
)

type ChatUI struct{}

func (u *ChatUI) Run(ctx context.Context, backend ui.ChatBackend, session *ui.Session, opts ui.ChatOptions) error {
	if backend == nil {
		return fmt.Errorf("tui: backend is nil")
	}
	if session == nil {
		session = ui.NewSession()
	}
	m, err := newChatModel(ctx, backend, session, opts)
	if err != nil {
		return err
	}
	defer m.unsubscribe()

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	backend.StopAutomation()
	return err
}

// transcriptMsg 表示 Transcript 有新内容。
type transcriptMsg struct{}

// backendDoneMsg 为一次后台调用的结果。
type backendDoneMsg struct {
	err  error
	note string
}

type streamTickMsg struct{}
type cancelMsg struct{}

type chatModel struct {
	ctx     context.Context
	backend ui.ChatBackend
	session *ui.Session
	opts    ui.ChatOptions

	keys        *shortcut.Dispatcher
	updates     chan struct{}
	unsubscribe func()

	width  int
	height int

	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	pending    int
	followTail bool
	seen       int
	note       string

	streaming  bool
	streamMsg  *schema.Message
	streamPos  int
	streamFull string

	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, backend ui.ChatBackend, session *ui.Session, opts ui.ChatOptions) (chatModel, error) {
	keys, err := shortcut.NewDispatcher(shortcut.DefaultDebounce, shortcut.DefaultBindings()...)
	if err != nil {
		return chatModel{}, fmt.Errorf("bind shortcuts: %w", err)
	}

	s := spinner.New()
	s.Spinner = spinner.MiniDot

	ti := textinput.New()
	ti.Placeholder = "Type a message, /do <goal> to automate, enter to send"
	ti.Prompt = ""
	ti.Focus()

	vp := viewport.New(0, 0)
	vp.SetContent("")

	// 后台自动化持续追加消息；channel 只做“有更新”通知，满了就丢弃
	updates := make(chan struct{}, 1)
	unsubscribe := session.Transcript.Subscribe(func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	})

	return chatModel{
		ctx:         ctx,
		backend:     backend,
		session:     session,
		opts:        opts,
		keys:        keys,
		updates:     updates,
		unsubscribe: unsubscribe,
		viewport:    vp,
		input:       ti,
		spinner:     s,
		followTail:  true,
		seen:        session.Transcript.Len(),
	}, nil
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitCancel(m.ctx), waitTranscript(m.updates))
}

func waitCancel(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return cancelMsg{}
	}
}

func waitTranscript(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return transcriptMsg{}
	}
}

func (m chatModel) thinking() bool {
	return m.pending > 0 || m.session.Transcript.Typing()
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case cancelMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		inputHeight := 3
		footerHeight := 1
		headerHeight := 1
		chatHeight := m.height - inputHeight - footerHeight - headerHeight
		if chatHeight < 1 {
			chatHeight = 1
		}

		m.viewport.Width = m.width
		m.viewport.Height = chatHeight
		m.input.Width = max(10, m.width-4)

		m.resetMarkdownRenderer()
		m.updateViewportContent(m.renderChat())
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case transcriptMsg:
		m.startStreamingNew()
		m.updateViewportContent(m.renderChat())
		cmds := []tea.Cmd{waitTranscript(m.updates)}
		if m.streaming {
			cmds = append(cmds, streamTick())
		}
		return m, tea.Batch(cmds...)

	case backendDoneMsg:
		if m.pending > 0 {
			m.pending--
		}
		m.note = msg.note
		if msg.err != nil {
			m.note = "error: " + msg.err.Error()
		}
		return m, nil

	case streamTickMsg:
		if !m.streaming {
			return m, nil
		}
		m.streamPos = min(len(m.streamFull), m.streamPos+32)
		if m.streamPos >= len(m.streamFull) {
			m.streaming = false
		}
		m.updateViewportContent(m.renderChat())
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.backend.StopAutomation()
			return m, tea.Quit
		}

		if action, ok := m.keys.Dispatch(msg.String()); ok {
			return m.applyShortcut(action)
		} else if action != "" {
			// 防抖窗口内的重复按键
			return m, nil
		}

		if !m.session.State.Snapshot().WindowVisible {
			return m, nil
		}

		switch msg.String() {
		case "pgup", "pageup":
			m.viewport.PageUp()
			m.followTail = false
			return m, nil
		case "pgdown", "pagedown":
			m.viewport.PageDown()
			if m.viewport.AtBottom() {
				m.followTail = true
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)

		if msg.String() == "enter" {
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, cmd
			}
			m.input.SetValue("")
			m.followTail = true
			m.note = ""
			return m.submit(text)
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) applyShortcut(action shortcut.Action) (tea.Model, tea.Cmd) {
	state := m.session.State
	switch action {
	case shortcut.ActionClose:
		m.backend.StopAutomation()
		return m, tea.Quit
	case shortcut.ActionToggle:
		state.SetWindowVisible(!state.Snapshot().WindowVisible)
	case shortcut.ActionShow:
		state.SetWindowVisible(true)
	}
	return m, nil
}

// submit 处理一行输入，与控制台界面的命令保持一致。
func (m chatModel) submit(text string) (tea.Model, tea.Cmd) {
	cmd, arg := splitCommand(text)
	state := m.session.State

	switch cmd {
	case "exit", "quit":
		m.backend.StopAutomation()
		return m, tea.Quit
	case "/stop":
		if !m.backend.StopAutomation() {
			m.note = "no automation running"
		}
		return m, nil
	case "/clear-shot":
		state.ClearPendingScreenshot()
		return m, nil
	case "/modal":
		modal, err := ui.ParseModal(arg)
		if err != nil {
			m.note = err.Error()
			return m, nil
		}
		open, _ := state.Toggle(modal)
		m.note = fmt.Sprintf("%s %s", modal, openLabel(open))
		return m, nil
	case "/shot":
		m.pending++
		return m, m.call(func(ctx context.Context) (string, error) {
			if err := m.backend.Screenshot(ctx); err != nil {
				return "", fmt.Errorf("screenshot failed: %w", err)
			}
			return "screenshot attached to next message", nil
		})
	case "/listen":
		m.pending++
		return m, m.call(func(ctx context.Context) (string, error) {
			return "", ui.Listen(ctx, m.backend, state, arg)
		})
	default:
		m.pending++
		return m, m.call(func(ctx context.Context) (string, error) {
			return "", m.backend.Handle(ctx, text)
		})
	}
}

func (m chatModel) call(fn func(ctx context.Context) (string, error)) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		note, err := fn(ctx)
		return backendDoneMsg{note: note, err: err}
	}
}

func (m chatModel) View() string {
	snap := m.session.State.Snapshot()
	if !snap.WindowVisible {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).
			Render("loopie is hidden. ctrl+t or ctrl+n to show, esc to quit.")
	}

	header := lipgloss.NewStyle().Bold(true).Render("Loopie")
	chat := m.viewport.View()
	inputLine := m.inputView(snap)
	footer := m.footerView(snap)
	return lipgloss.JoinVertical(lipgloss.Left, header, chat, inputLine, footer)
}

func (m chatModel) footerView(snap ui.Snapshot) string {
	left := "Enter send | PgUp/PgDn scroll | Ctrl+T hide | Esc quit"

	var flags []string
	for _, modal := range ui.Modals {
		if snap.IsOpen(modal) {
			flags = append(flags, "["+string(modal)+"]")
		}
	}
	if snap.Recording {
		flags = append(flags, "● rec")
	}
	if snap.Capturing {
		flags = append(flags, "capturing")
	}
	if m.note != "" {
		flags = append(flags, m.note)
	}
	if m.thinking() {
		flags = append(flags, m.spinner.View()+" Thinking...")
	}
	right := strings.Join(flags, "  ")

	style := lipgloss.NewStyle().Width(m.width).Padding(0, 1)
	return style.Render(lipgloss.JoinHorizontal(lipgloss.Left, left, lipgloss.NewStyle().Width(max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2)).Render(""), right))
}

func (m chatModel) inputView(snap ui.Snapshot) string {
	borderColor := lipgloss.Color("240")
	if snap.HasPendingScreenshot() {
		borderColor = lipgloss.Color("42")
	}
	content := m.input.View()
	if snap.HasPendingScreenshot() {
		content = "[+screenshot] " + content
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Padding(0, 1).
		Width(max(1, m.input.Width+2)).
		Render(content)
}

func (m *chatModel) updateViewportContent(content string) {
	oldYOffset := m.viewport.YOffset
	m.viewport.SetContent(content)
	if m.followTail {
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(oldYOffset)
}

func streamTick() tea.Cmd {
	return tea.Tick(45*time.Millisecond, func(time.Time) tea.Msg { return streamTickMsg{} })
}

// startStreamingNew 对新增的助手回复做打字机效果。
func (m *chatModel) startStreamingNew() {
	msgs := m.session.Transcript.Messages()
	start := m.seen
	if start > len(msgs) {
		start = 0
	}
	m.seen = len(msgs)

	for i := len(msgs) - 1; i >= start; i-- {
		msg := msgs[i]
		if msg == nil || msg.Role != schema.Assistant || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		m.streaming = true
		m.streamMsg = msg
		m.streamFull = msg.Content
		m.streamPos = min(len(m.streamFull), 32)
		return
	}
}

func (m *chatModel) resetMarkdownRenderer() {
	if m.width <= 0 {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(m.bubbleMaxContentWidth()),
	)
	if err == nil {
		m.renderer = r
	}
}

func (m chatModel) renderChat() string {
	if m.width <= 0 {
		m.width = 80
	}

	var b strings.Builder
	for _, msg := range m.session.Transcript.Messages() {
		if msg == nil {
			continue
		}
		if msg.Role == schema.System && !m.opts.ShowSystem {
			continue
		}

		content := msg.Content
		if m.streaming && msg == m.streamMsg {
			content = m.streamFull[:m.streamPos]
			if strings.TrimSpace(content) == "" {
				content = "…"
			}
		}
		content = strings.TrimRight(content, "\n")

		line := m.renderOneMessage(msg, content)
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m chatModel) bubbleMaxContentWidth() int {
	if m.width <= 0 {
		return 72
	}
	return max(20, m.width-8)
}

func (m chatModel) desiredContentWidth(s string) int {
	w := max(10, maxLineWidth(s))
	return min(m.bubbleMaxContentWidth(), w)
}

func (m chatModel) wrapToWidth(s string, width int) string {
	if width <= 0 {
		return s
	}
	return lipgloss.NewStyle().Width(width).Render(s)
}

func maxLineWidth(s string) int {
	s = strings.TrimRight(s, "\n")
	if strings.TrimSpace(s) == "" {
		return 0
	}
	maxW := 0
	for _, line := range strings.Split(s, "\n") {
		if w := lipgloss.Width(strings.TrimRight(line, " ")); w > maxW {
			maxW = w
		}
	}
	return maxW
}

func (m chatModel) renderOneMessage(msg *schema.Message, content string) string {
	switch {
	case ui.IsLoader(msg):
		return m.renderLoader(content)
	case msg.Role == schema.User:
		hasImage, _ := msg.Extra[ui.ExtraHasImage].(bool)
		return m.renderUser(content, hasImage)
	case msg.Role == schema.Assistant:
		if strings.TrimSpace(content) == "" {
			content = "(no text output)"
		}
		return m.renderAssistant(content)
	default:
		return m.renderProgress(content)
	}
}

func (m chatModel) renderAssistant(content string) string {
	md := content
	if m.renderer != nil {
		if rendered, err := m.renderer.Render(md); err == nil {
			md = strings.TrimRight(rendered, "\n")
		}
	}
	md = m.wrapToWidth(md, m.desiredContentWidth(md))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(md)
}

func (m chatModel) renderUser(content string, hasImage bool) string {
	if hasImage {
		content = "🖼 " + content
	}
	content = m.wrapToWidth(content, m.desiredContentWidth(content))
	bubble := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("205")).
		Padding(0, 1).
		MaxWidth(max(20, m.width-4)).
		Render(content)
	return lipgloss.NewStyle().Width(m.width).Align(lipgloss.Right).Render(bubble)
}

func (m chatModel) renderLoader(content string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true).
		Render(m.spinner.View() + " " + content)
}

// renderProgress 渲染自动化进度等 system 消息。
func (m chatModel) renderProgress(content string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("245")).
		Render("  > " + m.wrapToWidth(content, m.bubbleMaxContentWidth()))
}

func splitCommand(line string) (string, string) {
	lower := strings.ToLower(line)
	if lower == "exit" || lower == "quit" {
		return lower, ""
	}
	if !strings.HasPrefix(line, "/") {
		return "", line
	}
	cmd, arg, _ := strings.Cut(line, " ")
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "/stop", "/shot", "/clear-shot", "/modal", "/listen":
		return cmd, strings.TrimSpace(arg)
	}
	// /do、/auto 等交给 backend 路由
	return "", line
}

func openLabel(open bool) string {
	if open {
		return "opened"
	}
	return "closed"
}
