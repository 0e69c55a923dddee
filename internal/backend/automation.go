package backend

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/wwwzy/loopie/internal/automation"
)

var (
	_ automation.Planner  = (*Client)(nil)
	_ automation.Executor = (*Client)(nil)
)

// NextAction 请求下一步动作，返回原始 JSON，由 automation.NormalizeAction 负责解析。
func (c *Client) NextAction(ctx context.Context, req automation.PlanRequest) ([]byte, error) {
	return c.postJSON(ctx, PathNextAction, req)
}

// ExecuteAction 请求后端执行动作。所有失败都折叠为 failure 结果，不返回 error。
func (c *Client) ExecuteAction(ctx context.Context, action automation.Action) automation.StepOutcome {
	body, err := c.postJSON(ctx, PathExecuteAction, action)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			detail := se.Body
			if detail == "" {
				detail = se.Error()
			}
			return automation.StepOutcome{Status: automation.StatusFailure, Detail: detail}
		}
		return automation.Failure("%v", err)
	}

	if len(strings.TrimSpace(string(body))) == 0 {
		return automation.Success()
	}

	var out automation.StepOutcome
	if err := json.Unmarshal(body, &out); err != nil {
		c.logger.Warn("decode execute-action response failed", zap.Error(err))
		return automation.Failure("decode execute-action response: %v", err)
	}
	if out.Status == "" {
		out.Status = automation.StatusSuccess
	}
	return out
}
