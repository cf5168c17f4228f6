package handlers

import (
	"net/http"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgov/api"
	"github.com/BaSui01/agentgov/governance"
	"github.com/BaSui01/agentgov/governance/budget"
	"github.com/BaSui01/agentgov/governance/ctxcache"
	"github.com/BaSui01/agentgov/governance/ratelimit"
	"github.com/BaSui01/agentgov/types"
)

// AdminRole 允许调用管理端点的角色
const AdminRole = "admin"

// =============================================================================
// 🛡️ 治理 Handler
// =============================================================================

// GovernanceHandler 助手调用与治理管理端点
type GovernanceHandler struct {
	governor  *governance.Governor
	operation governance.Operation
	budget    *budget.Enforcer
	contexts  *ctxcache.Cache
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
}

// NewGovernanceHandler 创建治理处理器
func NewGovernanceHandler(
	governor *governance.Governor,
	operation governance.Operation,
	enforcer *budget.Enforcer,
	contexts *ctxcache.Cache,
	limiter *ratelimit.Limiter,
	logger *zap.Logger,
) *GovernanceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GovernanceHandler{
		governor:  governor,
		operation: operation,
		budget:    enforcer,
		contexts:  contexts,
		limiter:   limiter,
		logger:    logger.With(zap.String("handler", "governance")),
	}
}

// HandleInvoke 治理并执行一次助手调用
// @Summary 助手调用
// @Tags 助手
// @Accept json
// @Produce json
// @Param request body api.InvokeRequest true "调用请求"
// @Success 200 {object} Response "调用完成"
// @Failure 400 {object} Response "参数无效"
// @Failure 402 {object} Response "超出预算"
// @Failure 429 {object} Response "请求过于频繁"
// @Router /api/v1/assistant/invoke [post]
func (h *GovernanceHandler) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	var req api.InvokeRequest
	if !DecodeJSONBody(w, r, &req, h.logger) {
		return
	}
	if req.ResourceType == "" {
		WriteError(w, r, types.NewInvalidRequestError("resource_type is required"), h.logger)
		return
	}

	requestID, _ := types.RequestID(r.Context())
	decision, err := h.governor.Handle(r.Context(), governance.Request{
		RequestID:          requestID,
		Subject:            subject,
		ResourceType:       req.ResourceType,
		Model:              req.Model,
		Prompt:             req.Prompt,
		EstimatedCostCents: req.EstimatedCostCents,
		AIParams:           req.AIParams,
		DashboardFilter:    req.DashboardFilter,
		ForcedParams:       req.ForcedParams,
		Metadata:           req.Metadata,
	}, h.operation)
	if err != nil {
		if r.Context().Err() != nil {
			// 调用方已断开，无需响应
			h.logger.Debug("client gone", zap.String("request_id", requestID), zap.Error(err))
			return
		}
		WriteInternalError(w, r, err, h.logger)
		return
	}

	switch decision.Outcome {
	case governance.OutcomeCompleted:
		WriteSuccess(w, r, api.InvokeResponse{
			RequestID: decision.RequestID,
			Params:    decision.Params,
			Usage:     decision.Usage,
			CostCents: decision.CostCents,
			Output:    decision.Output,
			Degraded:  decision.Degraded,
		})
	case governance.OutcomeRateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(decision.RateLimit.RetryAfterSeconds))
		WriteRejection(w, r, decision.Err(), decision.RateLimit)
	case governance.OutcomeBudgetExceeded:
		WriteRejection(w, r, decision.Err(), decision.Budget)
	case governance.OutcomeInvalidParams:
		WriteErrorDetails(w, r, decision.Err(), decision.ValidationErrors, h.logger)
	default:
		WriteInternalError(w, r, types.NewError(types.ErrInternalError, "unknown outcome "+string(decision.Outcome)), h.logger)
	}
}

// HandleBudgetStatus 返回调用方当日与本月的预算用量
// @Summary 预算状态
// @Tags 助手
// @Produce json
// @Success 200 {object} Response "预算状态"
// @Failure 503 {object} Response "账本不可用"
// @Router /api/v1/assistant/budget [get]
func (h *GovernanceHandler) HandleBudgetStatus(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.subject(w, r)
	if !ok {
		return
	}
	status, err := h.budget.Status(r.Context(), subject)
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrStoreUnavailable, "budget ledger unavailable").
			WithCause(err).WithRetryable(true), h.logger)
		return
	}
	WriteSuccess(w, r, status)
}

// HandleInvalidateContext 批量失效组织与成员的上下文缓存（管理员）
// @Summary 失效上下文缓存
// @Tags 管理
// @Accept json
// @Produce json
// @Param request body api.InvalidateContextRequest true "失效请求"
// @Success 200 {object} Response "已失效"
// @Failure 403 {object} Response "无权限"
// @Router /api/v1/assistant/context/invalidate [post]
func (h *GovernanceHandler) HandleInvalidateContext(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.admin(w, r)
	if !ok {
		return
	}
	var req api.InvalidateContextRequest
	if !DecodeJSONBody(w, r, &req, h.logger) {
		return
	}
	if req.OrganizationID == "" {
		req.OrganizationID = subject.OrganizationID
	}
	if req.OrganizationID != subject.OrganizationID {
		WriteError(w, r, types.NewError(types.ErrForbidden, "cannot invalidate another organization"), h.logger)
		return
	}

	h.contexts.InvalidateOrganizationMembers(r.Context(), req.OrganizationID, req.UserIDs)
	invalidated := 1
	for _, id := range req.UserIDs {
		if id != "" {
			invalidated++
		}
	}
	WriteSuccess(w, r, api.InvalidateContextResponse{OrganizationID: req.OrganizationID, Invalidated: invalidated})
}

// HandleResetRateLimit 清空一个限流窗口（管理员）
// @Summary 重置限流
// @Tags 管理
// @Accept json
// @Produce json
// @Param request body api.ResetRateLimitRequest true "重置请求"
// @Success 200 {object} Response "已重置"
// @Router /api/v1/assistant/ratelimit/reset [post]
func (h *GovernanceHandler) HandleResetRateLimit(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.admin(w, r)
	if !ok {
		return
	}
	var req api.ResetRateLimitRequest
	if !DecodeJSONBody(w, r, &req, h.logger) {
		return
	}
	if req.ResourceType == "" {
		WriteError(w, r, types.NewInvalidRequestError("resource_type is required"), h.logger)
		return
	}

	target := types.Subject{SubjectID: req.SubjectID, OrganizationID: subject.OrganizationID}
	if err := h.limiter.Reset(r.Context(), req.ResourceType, target); err != nil {
		WriteError(w, r, types.NewError(types.ErrStoreUnavailable, "rate limit store unavailable").
			WithCause(err).WithRetryable(true), h.logger)
		return
	}
	h.logger.Info("rate limit window reset",
		zap.String("resource_type", req.ResourceType),
		zap.String("key", ratelimit.Key(req.ResourceType, target)),
		zap.String("by", subject.SubjectID),
	)
	WriteSuccess(w, r, map[string]string{"key": ratelimit.Key(req.ResourceType, target)})
}

// =============================================================================
// 🔧 辅助方法
// =============================================================================

func (h *GovernanceHandler) subject(w http.ResponseWriter, r *http.Request) (types.Subject, bool) {
	subject, ok := types.SubjectFromContext(r.Context())
	if !ok {
		WriteError(w, r, types.NewError(types.ErrUnauthorized, "missing organization identity"), h.logger)
		return types.Subject{}, false
	}
	return subject, true
}

func (h *GovernanceHandler) admin(w http.ResponseWriter, r *http.Request) (types.Subject, bool) {
	subject, ok := h.subject(w, r)
	if !ok {
		return subject, false
	}
	roles, _ := types.Roles(r.Context())
	if !slices.Contains(roles, AdminRole) {
		WriteError(w, r, types.NewError(types.ErrForbidden, "admin role required"), h.logger)
		return subject, false
	}
	return subject, true
}
