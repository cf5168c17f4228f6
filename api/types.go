package api

import (
	"encoding/json"

	"github.com/BaSui01/agentgov/governance/cost"
	"github.com/BaSui01/agentgov/governance/params"
	"github.com/BaSui01/agentgov/types"
)

// =============================================================================
// 助手调用
// =============================================================================

// InvokeRequest 助手调用请求，主体来自认证信息而非请求体
type InvokeRequest struct {
	// 资源类型，决定限流规则与参数 Schema
	ResourceType string `json:"resource_type" example:"assistant_report"`
	// 模型名称
	Model string `json:"model" example:"claude-3-5-sonnet"`
	// 提示词，用于估算成本并透传下游
	Prompt string `json:"prompt,omitempty"`
	// 调用方给出的预估成本（美分），为空时按提示词估算
	EstimatedCostCents *int64 `json:"estimated_cost_cents,omitempty"`
	// AI 提取的参数，优先级最低
	AIParams params.Values `json:"ai_params,omitempty"`
	// 当前仪表盘筛选
	DashboardFilter *params.DashboardFilter `json:"dashboard_filter,omitempty"`
	// 业务规则强制参数，优先级最高
	ForcedParams params.Values `json:"forced_params,omitempty"`
	// 透传元数据
	Metadata types.Metadata `json:"metadata,omitempty"`
}

// InvokeResponse 调用完成后的响应
type InvokeResponse struct {
	RequestID string          `json:"request_id"`
	Params    params.Values   `json:"params"`
	Usage     *cost.Usage     `json:"usage,omitempty"`
	CostCents int64           `json:"cost_cents"`
	Output    json.RawMessage `json:"output,omitempty"`
	Degraded  []string        `json:"degraded,omitempty"`
}

// =============================================================================
// 管理端点
// =============================================================================

// InvalidateContextRequest 上下文批量失效请求
type InvalidateContextRequest struct {
	// 为空时使用调用方所属组织
	OrganizationID string   `json:"organization_id,omitempty"`
	UserIDs        []string `json:"user_ids,omitempty"`
}

// InvalidateContextResponse 上下文批量失效结果
type InvalidateContextResponse struct {
	OrganizationID string `json:"organization_id"`
	Invalidated    int    `json:"invalidated"`
}

// ResetRateLimitRequest 限流窗口重置请求
type ResetRateLimitRequest struct {
	ResourceType string `json:"resource_type"`
	// 为空时重置组织维度的窗口
	SubjectID string `json:"subject_id,omitempty"`
}
