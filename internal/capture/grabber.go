package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultTimeout = 10 * time.Second
	// 命令参数中的占位符，会被替换为临时文件路径
	OutputPlaceholder = "{out}"
)

type Config struct {
	// Command 为外部截图命令，例如 "grim"、"screencapture"。
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	// File 为固定 PNG 文件（演示/测试用）；设置后优先于 Command。
	File    string        `mapstructure:"file"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// NewGrabber 根据配置选择截图来源。
func NewGrabber(cfg Config) (Grabber, error) {
	switch {
	case strings.TrimSpace(cfg.File) != "":
		return FileGrabber{Path: cfg.File}, nil
	case strings.TrimSpace(cfg.Command) != "":
		return &CommandGrabber{Command: cfg.Command, Args: cfg.Args, Timeout: cfg.Timeout}, nil
	default:
		return nil, ErrNoCaptureSource
	}
}

// CommandGrabber 调用外部截图工具。
//
// 参数中出现 {out} 时，截图写入临时文件后读取；否则从 stdout 读取 PNG。
type CommandGrabber struct {
	Command string
	Args    []string
	Timeout time.Duration
}

func (g *CommandGrabber) Grab(ctx context.Context) ([]byte, error) {
	if g == nil || g.Command == "" {
		return nil, ErrNoCaptureSource
	}
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string(nil), g.Args...)
	outPath := ""
	for i, a := range args {
		if !strings.Contains(a, OutputPlaceholder) {
			continue
		}
		if outPath == "" {
			dir, err := os.MkdirTemp("", "loopie-capture-")
			if err != nil {
				return nil, fmt.Errorf("create temp dir: %w", err)
			}
			defer os.RemoveAll(dir)
			outPath = filepath.Join(dir, "screen.png")
		}
		args[i] = strings.ReplaceAll(a, OutputPlaceholder, outPath)
	}

	cmd := exec.CommandContext(ctx, g.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s not found", ErrNoCaptureSource, g.Command)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("run %s: %w", g.Command, err)
		}
		return nil, fmt.Errorf("run %s: %w: %s", g.Command, err, msg)
	}

	if outPath != "" {
		b, err := os.ReadFile(outPath)
		if err != nil {
			return nil, fmt.Errorf("read capture output: %w", err)
		}
		return b, nil
	}
	return stdout.Bytes(), nil
}

// FileGrabber 每次返回同一个 PNG 文件的内容。
type FileGrabber struct {
	Path string
}

func (g FileGrabber) Grab(ctx context.Context) ([]byte, error) {
	if g.Path == "" {
		return nil, ErrNoCaptureSource
	}
	b, err := os.ReadFile(g.Path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("read %s (check screen capture permission): %w", g.Path, err)
		}
		return nil, fmt.Errorf("read %s: %w", g.Path, err)
	}
	return b, nil
}
