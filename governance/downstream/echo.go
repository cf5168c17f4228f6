package downstream

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/agentgov/governance"
	"github.com/BaSui01/agentgov/governance/cost"
)

// Echo 回显解析后的参数与上下文，输入 token 按 prompt 计数
type Echo struct {
	estimator *cost.Estimator
}

// NewEcho 创建回显调用，estimator 为 nil 时不计 token
func NewEcho(estimator *cost.Estimator) *Echo {
	return &Echo{estimator: estimator}
}

// Invoke 实现 governance.Operation
func (e *Echo) Invoke(ctx context.Context, inv *governance.Invocation) (*governance.OperationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := json.Marshal(map[string]any{
		"resource_type": inv.ResourceType,
		"params":        inv.Params,
		"user":          inv.User,
		"organization":  inv.Organization,
	})
	if err != nil {
		return nil, err
	}

	var usage cost.Usage
	if e.estimator != nil && inv.Prompt != "" {
		usage.InputTokens = int64(e.estimator.CountTokens(inv.Prompt))
	}
	return &governance.OperationResult{Usage: usage, Output: out}, nil
}
