// Package capture 负责在隐藏自身窗口的前提下抓取屏幕截图。
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	ErrNoCaptureSource = errors.New("no capture source configured")
	ErrNotPNG          = errors.New("captured data is not a PNG image")
	ErrEmptyCapture    = errors.New("captured image is empty")
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// Window 是截图期间需要隐藏的应用窗口。
type Window interface {
	Visible() bool
	Hide(ctx context.Context) error
	Show(ctx context.Context) error
}

// Grabber 抓取整屏并返回 PNG 字节。
type Grabber interface {
	Grab(ctx context.Context) ([]byte, error)
}

// WithHidden 在窗口隐藏的状态下执行 fn，返回后（包括 panic）恢复原先的可见性。
func WithHidden(ctx context.Context, w Window, fn func(ctx context.Context) error) (err error) {
	if w == nil || !w.Visible() {
		return fn(ctx)
	}

	if err := w.Hide(ctx); err != nil {
		return fmt.Errorf("hide window: %w", err)
	}
	defer func() {
		// 恢复不受调用方取消影响
		if showErr := w.Show(context.WithoutCancel(ctx)); showErr != nil && err == nil {
			err = fmt.Errorf("restore window: %w", showErr)
		}
	}()

	return fn(ctx)
}

// Helper 组合 Window 与 Grabber，满足 automation.Capturer。
type Helper struct {
	window  Window
	grabber Grabber
	logger  *zap.Logger
}

func NewHelper(window Window, grabber Grabber) *Helper {
	return &Helper{window: window, grabber: grabber, logger: zap.NewNop()}
}

func (h *Helper) WithLogger(l *zap.Logger) *Helper {
	if l != nil {
		h.logger = l.Named("capture")
	}
	return h
}

// Capture 返回 base64 编码的 PNG（不带 data URL 前缀）。
func (h *Helper) Capture(ctx context.Context) (string, error) {
	img, err := h.CapturePNG(ctx)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(img), nil
}

// CapturePNG 返回原始 PNG 字节。
func (h *Helper) CapturePNG(ctx context.Context) ([]byte, error) {
	if h == nil || h.grabber == nil {
		return nil, ErrNoCaptureSource
	}

	var img []byte
	err := WithHidden(ctx, h.window, func(ctx context.Context) error {
		b, err := h.grabber.Grab(ctx)
		if err != nil {
			return err
		}
		img = b
		return nil
	})
	if err != nil {
		h.logger.Warn("screen capture failed", zap.Error(err))
		return nil, err
	}
	if err := ValidatePNG(img); err != nil {
		return nil, err
	}
	h.logger.Debug("screen captured", zap.Int("bytes", len(img)))
	return img, nil
}

// ValidatePNG 检查 PNG 文件头。
func ValidatePNG(b []byte) error {
	if len(b) == 0 {
		return ErrEmptyCapture
	}
	if !bytes.HasPrefix(b, pngMagic) {
		return ErrNotPNG
	}
	return nil
}

// DataURL 把 base64 PNG 包装成 data URL，仅用于展示；图片分析接口收纯 base64。
func DataURL(b64 string) string {
	return "data:image/png;base64," + b64
}
