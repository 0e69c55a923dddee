package automation

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// KindDone 是规划服务用来表示“目标已达成”的终止动作。
const KindDone = "done"

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// maxWrapDepth 限制 {action:{action:{...}}} 的解包层数。
const maxWrapDepth = 3

var ErrInvalidAction = errors.New("invalid action")

// Action 是归一化后的一次 UI 操作。
type Action struct {
	// Kind 为动作类型标签（click/type/done ...），统一为小写。
	Kind string `json:"kind"`
	// X/Y 为可选的屏幕坐标。
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
	// Value 为可选载荷，例如要输入的文本。
	Value string `json:"value,omitempty"`
	// Description 为给人看的动作说明。
	Description string `json:"description,omitempty"`
}

func (a Action) IsDone() bool {
	return a.Kind == KindDone
}

// Label 返回用于转录区展示的 "kind - description"。
func (a Action) Label() string {
	if a.Description == "" {
		return a.Kind
	}
	return a.Kind + " - " + a.Description
}

// StepOutcome 是执行一次 Action 的结果。
type StepOutcome struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func Success() StepOutcome {
	return StepOutcome{Status: StatusSuccess}
}

func Failure(format string, args ...any) StepOutcome {
	return StepOutcome{Status: StatusFailure, Detail: fmt.Sprintf(format, args...)}
}

func (o StepOutcome) Failed() bool {
	return o.Status != StatusSuccess
}

// NormalizeAction 将规划服务返回的原始 JSON 解析为规范的 Action。
//
// 解析顺序：
//  1. 空内容或 null：返回 ErrInvalidAction。
//  2. action 字段是对象：使用内层对象（支持多层包装）。
//  3. action 字段是字符串：作为 kind 的简写，其余字段从外层读取。
//  4. 扁平对象：直接读取 kind（或 type）。
//
// 平铺与双层包装的输入得到完全相同的 Action。
func NormalizeAction(raw []byte) (*Action, error) {
	return normalize(raw, 0)
}

func normalize(raw []byte, depth int) (*Action, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrInvalidAction
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected object, got %s", ErrInvalidAction, preview(trimmed))
	}

	var fields map[string]jsoniter.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	if inner, ok := fields["action"]; ok {
		inner = bytes.TrimSpace(inner)
		switch {
		case len(inner) > 0 && inner[0] == '{' && depth < maxWrapDepth:
			if a, err := normalize(inner, depth+1); err == nil {
				return a, nil
			}
		case len(inner) > 0 && inner[0] == '"':
			var kind string
			if err := json.Unmarshal(inner, &kind); err == nil && strings.TrimSpace(kind) != "" {
				a := flatten(fields)
				a.Kind = canonicalKind(kind)
				return &a, nil
			}
		}
	}

	a := flatten(fields)
	if a.Kind == "" {
		return nil, fmt.Errorf("%w: missing kind in %s", ErrInvalidAction, preview(trimmed))
	}
	return &a, nil
}

func flatten(fields map[string]jsoniter.RawMessage) Action {
	var a Action
	a.Kind = canonicalKind(stringField(fields, "kind"))
	if a.Kind == "" {
		a.Kind = canonicalKind(stringField(fields, "type"))
	}
	a.X = numberField(fields, "x")
	a.Y = numberField(fields, "y")
	a.Value = stringField(fields, "value")
	a.Description = strings.TrimSpace(stringField(fields, "description"))
	return a
}

func canonicalKind(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func stringField(fields map[string]jsoniter.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// 数字等非字符串值按原文保留
	v := strings.TrimSpace(string(raw))
	if v == "null" {
		return ""
	}
	return v
}

func numberField(fields map[string]jsoniter.RawMessage, key string) *float64 {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &v
		}
	}
	return nil
}

func preview(b []byte) string {
	const limit = 120
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
