// Package transcribe 把录音上传到 Whisper 兼容接口转成文字。
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultEndpoint       = "https://api.groq.com/openai/v1/audio/transcriptions"
	DefaultModel          = "whisper-large-v3-turbo"
	DefaultResponseFormat = "verbose_json"
	DefaultFilename       = "audio.wav"
	DefaultTimeout        = 60 * time.Second
)

var ErrMissingAPIKey = errors.New("Please set your GROQ API key in the settings.")

type Config struct {
	Endpoint       string        `mapstructure:"endpoint"`
	Model          string        `mapstructure:"model"`
	ResponseFormat string        `mapstructure:"response_format"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Segment 为 verbose_json 返回的分段信息。
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcript struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

type Client struct {
	cfg        Config
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, apiKey string) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ResponseFormat == "" {
		cfg.ResponseFormat = DefaultResponseFormat
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:        cfg,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
}

func (c *Client) WithLogger(l *zap.Logger) *Client {
	if l != nil {
		c.logger = l.Named("transcribe")
	}
	return c
}

func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// Transcribe 上传音频并返回识别结果。识别为空时 Text 为单个空格。
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (Transcript, error) {
	if c.apiKey == "" {
		return Transcript{}, ErrMissingAPIKey
	}
	if audio == nil {
		return Transcript{}, errors.New("audio is nil")
	}
	if filename == "" {
		filename = DefaultFilename
	}

	// 1. 组装 multipart 表单
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Transcript{}, fmt.Errorf("create form file: %w", err)
	}
	n, err := io.Copy(fw, audio)
	if err != nil {
		return Transcript{}, fmt.Errorf("copy audio: %w", err)
	}
	if err := mw.WriteField("model", c.cfg.Model); err != nil {
		return Transcript{}, fmt.Errorf("write model field: %w", err)
	}
	if err := mw.WriteField("response_format", c.cfg.ResponseFormat); err != nil {
		return Transcript{}, fmt.Errorf("write response_format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, fmt.Errorf("close multipart: %w", err)
	}

	// 2. 发送请求
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, &buf)
	if err != nil {
		return Transcript{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("post transcription: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcript{}, fmt.Errorf("read transcription response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Transcript{}, fmt.Errorf("transcription failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// 3. 解析结果
	var out Transcript
	if err := json.Unmarshal(body, &out); err != nil {
		return Transcript{}, fmt.Errorf("decode transcription: %w", err)
	}
	if strings.TrimSpace(out.Text) == "" {
		out.Text = " "
	}
	c.logger.Debug("audio transcribed",
		zap.Int64("bytes", n),
		zap.String("language", out.Language),
		zap.Int("segments", len(out.Segments)),
	)
	return out, nil
}
