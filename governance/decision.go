package governance

import (
	"encoding/json"
	"net/http"

	"github.com/BaSui01/agentgov/governance/budget"
	"github.com/BaSui01/agentgov/governance/cost"
	"github.com/BaSui01/agentgov/governance/params"
	"github.com/BaSui01/agentgov/types"
)

// Outcome 治理结果
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeRateLimited    Outcome = "rate_limited"
	OutcomeBudgetExceeded Outcome = "budget_exceeded"
	OutcomeInvalidParams  Outcome = "invalid_params"
)

// RateLimitRejection 限流拒绝
type RateLimitRejection struct {
	Allowed           bool   `json:"allowed"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
	Message           string `json:"message"`
	Limit             int    `json:"limit"`
	ResourceType      string `json:"resource_type"`
	Degraded          bool   `json:"degraded,omitempty"`
}

// BudgetRejection 预算拒绝
type BudgetRejection struct {
	Allowed    bool          `json:"allowed"`
	Reason     budget.Reason `json:"reason"`
	Message    string        `json:"message"`
	Suggestion string        `json:"suggestion"`
	Usage      budget.Usage  `json:"usage"`
	Limits     budget.Limits `json:"limits"`
}

// Decision 一次请求的治理结果。拒绝不是错误，通过 Outcome 区分。
type Decision struct {
	Outcome   Outcome `json:"outcome"`
	RequestID string  `json:"request_id"`

	RateLimit        *RateLimitRejection `json:"rate_limit,omitempty"`
	Budget           *BudgetRejection    `json:"budget,omitempty"`
	ValidationErrors []params.FieldError `json:"validation_errors,omitempty"`

	Params    params.Values   `json:"params,omitempty"`
	Usage     *cost.Usage     `json:"usage,omitempty"`
	CostCents int64           `json:"cost_cents"`
	Output    json.RawMessage `json:"output,omitempty"`

	// Degraded 以降级方式通过的阶段，例如 rate_limit、budget
	Degraded []string `json:"degraded,omitempty"`
}

// Allowed 请求是否已被执行
func (d *Decision) Allowed() bool {
	return d.Outcome == OutcomeCompleted
}

// Err 把拒绝转换为结构化错误，供 HTTP 层映射状态码
func (d *Decision) Err() *types.Error {
	switch d.Outcome {
	case OutcomeRateLimited:
		return types.NewError(types.ErrRateLimited, d.RateLimit.Message).
			WithHTTPStatus(http.StatusTooManyRequests).WithRetryable(true)
	case OutcomeBudgetExceeded:
		return types.NewError(types.ErrBudgetExceeded, d.Budget.Message).
			WithHTTPStatus(http.StatusPaymentRequired)
	case OutcomeInvalidParams:
		return types.NewError(types.ErrValidationFailed, "invalid parameters").
			WithHTTPStatus(http.StatusBadRequest)
	default:
		return nil
	}
}
