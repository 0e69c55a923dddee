package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const DefaultImagePrompt = "Describe this image."

var ErrEmptyReply = errors.New("backend returned an empty reply")

type askRequest struct {
	UserMessage  string `json:"userMessage"`
	GeminiAPIKey string `json:"geminiApiKey"`
}

type analyseRequest struct {
	Image        string `json:"image"`
	Prompt       string `json:"prompt"`
	GeminiAPIKey string `json:"geminiApiKey"`
}

// Ask 发送一条普通问题。后端可能返回 JSON 字符串，或带 response/text 字段的对象。
func (c *Client) Ask(ctx context.Context, message, key string) (string, error) {
	body, err := c.postJSON(ctx, PathAsk, askRequest{UserMessage: message, GeminiAPIKey: key})
	if err != nil {
		return "", err
	}
	return decodeReply(body, "response", "text", "reply")
}

// AnalyseImage 让后端描述一张截图。image 为不带 data URL 前缀的纯 base64 PNG。
func (c *Client) AnalyseImage(ctx context.Context, image, prompt, key string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultImagePrompt
	}
	body, err := c.postJSON(ctx, PathAnalyseImage, analyseRequest{Image: image, Prompt: prompt, GeminiAPIKey: key})
	if err != nil {
		return "", err
	}
	return decodeReply(body, "description", "response", "text")
}

func decodeReply(body []byte, keys ...string) (string, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", ErrEmptyReply
	}

	var s string
	if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
		if s == "" {
			return "", ErrEmptyReply
		}
		return s, nil
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		// 非 JSON 按纯文本处理
		return trimmed, nil
	}
	for _, k := range keys {
		if v, ok := obj[k].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: missing %s", ErrEmptyReply, strings.Join(keys, "/"))
}
