package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentgov/governance/budget"
	"github.com/BaSui01/agentgov/governance/cost"
	"github.com/BaSui01/agentgov/governance/ctxcache"
	"github.com/BaSui01/agentgov/governance/params"
	"github.com/BaSui01/agentgov/governance/ratelimit"
	"github.com/BaSui01/agentgov/internal/metrics"
	"github.com/BaSui01/agentgov/types"
)

const instrumentationName = "github.com/BaSui01/agentgov/governance"

// Request 一次入站的助手请求
type Request struct {
	RequestID string        `json:"request_id,omitempty"`
	Subject   types.Subject `json:"subject"`
	// ResourceType 同时决定限流规则与参数 Schema
	ResourceType string `json:"resource_type"`
	Model        string `json:"model"`
	Prompt       string `json:"prompt,omitempty"`
	// EstimatedCostCents 为空时由 Estimator 根据 Prompt 估算
	EstimatedCostCents *int64 `json:"estimated_cost_cents,omitempty"`

	AIParams        params.Values           `json:"ai_params,omitempty"`
	DashboardFilter *params.DashboardFilter `json:"dashboard_filter,omitempty"`
	ForcedParams    params.Values           `json:"forced_params,omitempty"`
	Metadata        types.Metadata          `json:"metadata,omitempty"`
}

// Invocation 传给下游的已治理调用
type Invocation struct {
	RequestID    string                `json:"request_id"`
	ResourceType string                `json:"resource_type"`
	Subject      types.Subject         `json:"subject"`
	Model        string                `json:"model"`
	Prompt       string                `json:"prompt,omitempty"`
	Params       params.Values         `json:"params"`
	User         *ctxcache.UserContext `json:"user,omitempty"`
	Organization *ctxcache.OrgContext  `json:"organization,omitempty"`
	Metadata     types.Metadata        `json:"metadata,omitempty"`
}

// OperationResult 下游返回的用量与输出
type OperationResult struct {
	Usage  cost.Usage      `json:"usage"`
	Output json.RawMessage `json:"output,omitempty"`
}

// Operation 下游调用边界
type Operation interface {
	Invoke(ctx context.Context, inv *Invocation) (*OperationResult, error)
}

// OperationFunc 函数适配器
type OperationFunc func(ctx context.Context, inv *Invocation) (*OperationResult, error)

// Invoke 实现 Operation
func (f OperationFunc) Invoke(ctx context.Context, inv *Invocation) (*OperationResult, error) {
	return f(ctx, inv)
}

// Components Governor 依赖的组件，启动时构造一次并显式传入
type Components struct {
	Limiter   *ratelimit.Limiter
	Budget    *budget.Enforcer
	Contexts  *ctxcache.Cache
	Recorder  *cost.Recorder
	Estimator *cost.Estimator
	Schemas   params.Lookuper
}

// Option 配置 Governor
type Option func(*Governor)

// WithClock 注入时钟
func WithClock(clock func() time.Time) Option {
	return func(g *Governor) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithLocation 组织未配置时区时使用的日历时区
func WithLocation(loc *time.Location) Option {
	return func(g *Governor) {
		if loc != nil {
			g.location = loc
		}
	}
}

// Governor 请求治理器
type Governor struct {
	Components

	clock    func() time.Time
	location *time.Location
	tracer   trace.Tracer
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// New 创建 Governor
func New(c Components, collector *metrics.Collector, logger *zap.Logger, opts ...Option) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.Schemas == nil {
		c.Schemas = params.Registry{}
	}
	g := &Governor{
		Components: c,
		clock:      time.Now,
		location:   time.UTC,
		tracer:     otel.Tracer(instrumentationName),
		metrics:    collector,
		logger:     logger.With(zap.String("component", "governor")),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// checks 并发阶段的结果
type checks struct {
	rate   ratelimit.Result
	budget budget.Decision
	user   *ctxcache.UserContext
	org    *ctxcache.OrgContext
}

// Handle 治理并执行一次请求。
// 策略拒绝与参数校验失败以 Decision 返回；只有调用方取消与下游失败返回错误。
func (g *Governor) Handle(ctx context.Context, req Request, op Operation) (*Decision, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Subject.OrganizationID == "" {
		return nil, types.NewInvalidRequestError("organization is required")
	}
	if req.ResourceType == "" {
		return nil, types.NewInvalidRequestError("resource_type is required")
	}

	ctx, span := g.tracer.Start(ctx, "governance.handle", trace.WithAttributes(
		attribute.String("governance.request_id", req.RequestID),
		attribute.String("governance.resource_type", req.ResourceType),
		attribute.String("tenant.id", req.Subject.OrganizationID),
		attribute.String("user.id", req.Subject.SubjectID),
		attribute.String("llm.model", req.Model),
	))
	defer span.End()

	decision, err := g.handle(ctx, req, op)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("governance.outcome", string(decision.Outcome)))
	g.metrics.RecordDecision(req.ResourceType, string(decision.Outcome))
	return decision, nil
}

func (g *Governor) handle(ctx context.Context, req Request, op Operation) (*Decision, error) {
	c, err := g.runChecks(ctx, req)
	if err != nil {
		return nil, err
	}

	decision := &Decision{RequestID: req.RequestID}
	if c.rate.Degraded {
		decision.Degraded = append(decision.Degraded, "rate_limit")
	}
	if c.budget.Reason == budget.ReasonCheckFailed {
		decision.Degraded = append(decision.Degraded, "budget")
	}

	now := g.clock()
	if !c.rate.Allowed {
		decision.Outcome = OutcomeRateLimited
		decision.RateLimit = &RateLimitRejection{
			RetryAfterSeconds: c.rate.RetryAfterSeconds(now),
			Message:           c.rate.Message(now),
			Limit:             c.rate.Limit,
			ResourceType:      req.ResourceType,
			Degraded:          c.rate.Degraded,
		}
		return decision, nil
	}
	if !c.budget.Allowed {
		decision.Outcome = OutcomeBudgetExceeded
		decision.Budget = &BudgetRejection{
			Reason:     c.budget.Reason,
			Message:    c.budget.Message(),
			Suggestion: c.budget.Suggestion,
			Usage:      c.budget.Usage,
			Limits:     c.budget.Limits,
		}
		return decision, nil
	}

	resolved, err := g.resolveParams(ctx, req, c.org, now)
	if err != nil {
		var ve *params.ValidationError
		if errors.As(err, &ve) {
			decision.Outcome = OutcomeInvalidParams
			decision.ValidationErrors = ve.Errors
			return decision, nil
		}
		return nil, err
	}
	decision.Params = resolved

	inv := &Invocation{
		RequestID:    req.RequestID,
		ResourceType: req.ResourceType,
		Subject:      req.Subject,
		Model:        req.Model,
		Prompt:       req.Prompt,
		Params:       resolved,
		User:         c.user,
		Organization: c.org,
		Metadata:     req.Metadata.Clone(),
	}
	result, err := g.invoke(ctx, inv, op)
	if err != nil {
		return nil, err
	}
	// 调用方已放弃的请求不计费
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	decision.Outcome = OutcomeCompleted
	decision.Usage = &result.Usage
	decision.Output = result.Output
	decision.CostCents = g.recordCost(ctx, req, result.Usage)
	return decision, nil
}

// runChecks 并发执行限流、预算与上下文获取
func (g *Governor) runChecks(ctx context.Context, req Request) (checks, error) {
	var c checks
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return g.stage(egCtx, "rate_limit", func(ctx context.Context) error {
			res, err := g.Limiter.Check(ctx, req.ResourceType, req.Subject)
			c.rate = res
			return err
		})
	})

	eg.Go(func() error {
		return g.stage(egCtx, "budget", func(ctx context.Context) error {
			c.budget = g.Budget.CheckBudget(ctx, req.Subject, g.estimate(req))
			return nil
		})
	})

	if req.Subject.HasUser() {
		eg.Go(func() error {
			return g.stage(egCtx, "user_context", func(ctx context.Context) error {
				user, err := g.Contexts.User(ctx, req.Subject.SubjectID)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					g.logger.Warn("user context unavailable, continuing without it",
						zap.String("user_id", req.Subject.SubjectID), zap.Error(err))
					return nil
				}
				c.user = user
				return nil
			})
		})
	}

	eg.Go(func() error {
		return g.stage(egCtx, "org_context", func(ctx context.Context) error {
			org, err := g.Contexts.Organization(ctx, req.Subject.OrganizationID)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				g.logger.Warn("organization context unavailable, continuing without it",
					zap.String("organization_id", req.Subject.OrganizationID), zap.Error(err))
				return nil
			}
			c.org = org
			return nil
		})
	})

	if err := eg.Wait(); err != nil {
		return checks{}, err
	}
	// 调用方取消时预算检查会放行，这里统一以取消结束
	if err := ctx.Err(); err != nil {
		return checks{}, err
	}
	return c, nil
}

// estimate 返回预算检查使用的预估成本
func (g *Governor) estimate(req Request) int64 {
	if req.EstimatedCostCents != nil {
		if *req.EstimatedCostCents < 0 {
			return 0
		}
		return *req.EstimatedCostCents
	}
	if g.Estimator == nil {
		return 0
	}
	return g.Estimator.EstimateCents(req.Model, req.Prompt)
}

// resolveParams 在组织时区的日历上合并参数
func (g *Governor) resolveParams(ctx context.Context, req Request, org *ctxcache.OrgContext, now time.Time) (params.Values, error) {
	var out params.Values
	err := g.stage(ctx, "params", func(context.Context) error {
		schema, _ := g.Schemas.Lookup(req.ResourceType)
		loc := g.location
		if org != nil {
			loc = org.Location(g.location)
		}
		var err error
		out, err = params.ResolveParams(schema, req.AIParams, params.Options{
			DashboardFilter: req.DashboardFilter,
			ForcedParams:    req.ForcedParams,
			Now:             now,
			Location:        loc,
		})
		return err
	})
	g.metrics.RecordParamValidation(err == nil)
	return out, err
}

// invoke 调用下游
func (g *Governor) invoke(ctx context.Context, inv *Invocation, op Operation) (*OperationResult, error) {
	var result *OperationResult
	err := g.stage(ctx, "invoke", func(ctx context.Context) error {
		var err error
		result, err = op.Invoke(ctx, inv)
		if err == nil && result == nil {
			err = errors.New("operation returned no result")
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, ok := types.AsError(err); ok {
			return nil, err
		}
		return nil, types.NewUpstreamError(fmt.Sprintf("%s failed", inv.ResourceType), err)
	}
	return result, nil
}

// recordCost 写入账本，与调用方取消解耦。写入失败只记录日志，仍返回计算出的成本。
func (g *Governor) recordCost(ctx context.Context, req Request, usage cost.Usage) int64 {
	var cents int64
	_ = g.stage(context.WithoutCancel(ctx), "cost", func(ctx context.Context) error {
		rec, err := g.Recorder.Record(ctx, cost.Entry{
			Subject:   req.Subject,
			Model:     req.Model,
			Usage:     usage,
			RequestID: req.RequestID,
		})
		if err != nil {
			cents = g.Recorder.Pricing().Calculate(req.Model, usage)
			return err
		}
		cents = rec.CostCents
		return nil
	})
	return cents
}

// stage 为单个阶段创建 span 并记录耗时
func (g *Governor) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := g.tracer.Start(ctx, "governance."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	g.metrics.RecordStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
