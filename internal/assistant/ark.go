package assistant

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/wwwzy/loopie/internal/ui"
)

// SystemPrompt 为直连模型时的系统提示词，包含变量 {os}、{time}。
const SystemPrompt = `You are Loopie, a desktop assistant that can see the user's screen and operate it.
Answer briefly and clearly. When the user wants something done on screen, suggest prefixing the request with /do.

Environment:
- OS: {os}
- Time: {time}`

// 带入模型的最大历史消息数
const maxHistory = 20

type ArkConfig struct {
	APIKey  string `mapstructure:"api_key"`
	ModelID string `mapstructure:"model_id"`
	BaseURL string `mapstructure:"base_url"`
}

// NewArkChatModel 初始化 Ark ChatModel
func NewArkChatModel(ctx context.Context, cfg ArkConfig) (*ark.ChatModel, error) {
	if cfg.APIKey == "" || cfg.ModelID == "" {
		return nil, fmt.Errorf("ARK_API_KEY, ARK_MODEL_ID must be set")
	}
	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.ModelID,
		BaseURL: cfg.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}
	return cm, nil
}

const (
	NodeTemplate  = "template_node"
	NodeChatModel = "chat_model_node"
)

// ModelAsker 直接调用 eino ChatModel 回答问题，会带上对话区里的最近历史。
type ModelAsker struct {
	runnable   compose.Runnable[map[string]any, *schema.Message]
	transcript *ui.Transcript
}

// NewModelAsker 把 “提示词模板 -> ChatModel” 编译成一张图。
func NewModelAsker(ctx context.Context, cm model.BaseChatModel, transcript *ui.Transcript) (*ModelAsker, error) {
	if cm == nil {
		return nil, errors.New("chat model is nil")
	}
	template := prompt.FromMessages(schema.FString,
		schema.SystemMessage(SystemPrompt),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	g := compose.NewGraph[map[string]any, *schema.Message]()
	if err := g.AddChatTemplateNode(NodeTemplate, template); err != nil {
		return nil, err
	}
	if err := g.AddChatModelNode(NodeChatModel, cm); err != nil {
		return nil, err
	}
	if err := g.AddEdge(compose.START, NodeTemplate); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeTemplate, NodeChatModel); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeChatModel, compose.END); err != nil {
		return nil, err
	}

	runnable, err := g.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile ask graph failed: %w", err)
	}
	return &ModelAsker{runnable: runnable, transcript: transcript}, nil
}

// Ask 满足 Asker；key 由模型配置提供，这里忽略。
func (a *ModelAsker) Ask(ctx context.Context, message, _ string) (string, error) {
	reply, err := a.runnable.Invoke(ctx, map[string]any{
		"os":      runtime.GOOS,
		"time":    time.Now().Format(time.RFC3339),
		"history": a.history(message),
		"query":   message,
	})
	if err != nil {
		return "", fmt.Errorf("chat model generate failed: %w", err)
	}
	content := strings.TrimSpace(reply.Content)
	if content == "" {
		return "", errors.New("chat model returned empty content")
	}
	return content, nil
}

// history 返回用户/助手消息，不含本轮刚追加的用户输入。
func (a *ModelAsker) history(current string) []*schema.Message {
	if a.transcript == nil {
		return nil
	}
	all := a.transcript.Messages()
	if n := len(all); n > 0 && all[n-1].Role == schema.User && all[n-1].Content == current {
		all = all[:n-1]
	}

	out := make([]*schema.Message, 0, len(all))
	for _, m := range all {
		if ui.IsLoader(m) {
			continue
		}
		if m.Role != schema.User && m.Role != schema.Assistant {
			continue
		}
		out = append(out, &schema.Message{Role: m.Role, Content: m.Content})
	}
	if len(out) > maxHistory {
		out = out[len(out)-maxHistory:]
	}
	return out
}
