package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
)

type ConsoleChatUI struct {
	In  io.Reader
	Out io.Writer
}

func (u *ConsoleChatUI) Run(ctx context.Context, backend ChatBackend, session *Session, opts ChatOptions) error {
	in := u.In
	if in == nil {
		return fmt.Errorf("console ui: In is nil")
	}
	out := u.Out
	if out == nil {
		return fmt.Errorf("console ui: Out is nil")
	}
	if backend == nil {
		return fmt.Errorf("console ui: backend is nil")
	}
	if session == nil {
		session = NewSession()
	}
	out = &lockedWriter{w: out}

	// 新消息到达时立即打印（自动化进度在后台持续追加）
	p := &consolePrinter{out: out, transcript: session.Transcript, showSystem: opts.ShowSystem}
	p.seen = session.Transcript.Len()
	unsubscribe := session.Transcript.Subscribe(p.flush)
	defer unsubscribe()

	reader := bufio.NewReader(in)
	fmt.Fprintln(out, "Loopie chat. Commands: /do <goal>, /shot, /clear-shot, /listen <file.wav>, /stop, /modal <name>, exit/quit.")

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "bye.")
			return nil
		default:
		}

		prompt := "you: "
		if session.State.Snapshot().HasPendingScreenshot() {
			prompt = "you [+screenshot]: "
		}
		fmt.Fprint(out, prompt)

		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if strings.TrimSpace(line) == "" {
					return nil
				}
			} else {
				return fmt.Errorf("read input: %w", err)
			}
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		cmd, arg := splitCommand(line)
		switch cmd {
		case "exit", "quit":
			backend.StopAutomation()
			fmt.Fprintln(out, "bye.")
			return nil
		case "/stop":
			if !backend.StopAutomation() {
				fmt.Fprintln(out, "(no automation running)")
			}
		case "/shot":
			if err := backend.Screenshot(ctx); err != nil {
				fmt.Fprintf(out, "screenshot failed: %v\n", err)
			} else {
				fmt.Fprintln(out, "(screenshot attached to next message)")
			}
		case "/clear-shot":
			session.State.ClearPendingScreenshot()
		case "/modal":
			m, err := ParseModal(arg)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			open, _ := session.State.Toggle(m)
			fmt.Fprintf(out, "(%s %s)\n", m, openLabel(open))
		case "/listen":
			if err := Listen(ctx, backend, session.State, arg); err != nil {
				fmt.Fprintln(out, err)
			}
		case "/do", "/auto":
			// 自动化在后台运行，进度通过订阅打印；期间仍可输入 /stop
			wg.Add(1)
			go func(text string) {
				defer wg.Done()
				if err := backend.Handle(ctx, text); err != nil {
					fmt.Fprintf(out, "automation: %v\n", err)
				}
			}(line)
		default:
			if err := backend.Handle(ctx, line); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

// Listen 把录音文件交给 backend 转写；转写期间处于录音状态，不能截图。
func Listen(ctx context.Context, backend ChatBackend, state *State, path string) error {
	if path == "" {
		return errors.New("usage: /listen <file.wav>")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	if err := state.SetRecording(true); err != nil {
		return err
	}
	defer func() { _ = state.SetRecording(false) }()
	return backend.Voice(ctx, f, filepath.Base(path))
}

type consolePrinter struct {
	mu         sync.Mutex
	out        io.Writer
	transcript *Transcript
	showSystem bool
	seen       int
}

func (p *consolePrinter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := p.transcript.Messages()
	if len(msgs) < p.seen {
		// Clear 或移除了加载指示
		p.seen = len(msgs)
		return
	}
	for _, m := range msgs[p.seen:] {
		printMessage(p.out, m, p.showSystem)
	}
	p.seen = len(msgs)
}

func printMessage(w io.Writer, msg *schema.Message, showSystem bool) {
	content := strings.TrimSpace(msg.Content)
	switch msg.Role {
	case schema.User:
		// 用户输入已在终端回显
	case schema.System:
		if showSystem {
			fmt.Fprintf(w, "  > %s\n", content)
		}
	default:
		if content == "" {
			fmt.Fprintln(w, "assistant: (no text output)")
			return
		}
		fmt.Fprintf(w, "assistant: %s\n", content)
	}
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
	return strings.ToLower(cmd), strings.TrimSpace(arg)
}

func openLabel(open bool) string {
	if open {
		return "opened"
	}
	return "closed"
}

// lockedWriter 串行化后台自动化与主循环的输出。
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
