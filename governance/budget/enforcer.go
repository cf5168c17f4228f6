package budget

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentgov/config"
	"github.com/BaSui01/agentgov/governance/ledger"
	"github.com/BaSui01/agentgov/internal/metrics"
	"github.com/BaSui01/agentgov/types"
)

// MonthlyMultiplier 月度上限 = 组织每日上限 × 30
const MonthlyMultiplier = 30

// Limits 每日上限（分）
type Limits struct {
	OrgDailyCents  int64 `json:"org_daily_cents"`
	UserDailyCents int64 `json:"user_daily_cents"`
}

// OrgMonthlyCents 组织月度上限
func (l Limits) OrgMonthlyCents() int64 {
	return l.OrgDailyCents * MonthlyMultiplier
}

// DefaultLimits 组织 $100/天，个人 $20/天
var DefaultLimits = Limits{OrgDailyCents: 10000, UserDailyCents: 2000}

// NormalizeLimits 非正数的上限替换为默认值并记录告警
func NormalizeLimits(l Limits, logger *zap.Logger) Limits {
	if logger == nil {
		logger = zap.NewNop()
	}
	if l.OrgDailyCents <= 0 {
		logger.Warn("invalid organization daily budget, using default",
			zap.Int64("configured", l.OrgDailyCents),
			zap.Int64("default", DefaultLimits.OrgDailyCents),
		)
		l.OrgDailyCents = DefaultLimits.OrgDailyCents
	}
	if l.UserDailyCents <= 0 {
		logger.Warn("invalid user daily budget, using default",
			zap.Int64("configured", l.UserDailyCents),
			zap.Int64("default", DefaultLimits.UserDailyCents),
		)
		l.UserDailyCents = DefaultLimits.UserDailyCents
	}
	return l
}

// LimitsFrom 从预算配置读取上限
func LimitsFrom(cfg config.BudgetConfig) Limits {
	return Limits{OrgDailyCents: cfg.OrgDailyLimitCents, UserDailyCents: cfg.UserDailyLimitCents}
}

// Reason 拒绝或降级原因
type Reason string

const (
	ReasonOrgCap      Reason = "org_cap"
	ReasonUserCap     Reason = "user_cap"
	ReasonCheckFailed Reason = "budget_check_failed"
)

const (
	SuggestionOrgCap  = "Contact your administrator to raise the organization's daily AI budget or try again tomorrow."
	SuggestionUserCap = "You have reached your personal daily AI budget; try again tomorrow or ask an administrator for a higher limit."
)

// Usage 当天已用金额（分）
type Usage struct {
	OrgDailyCents  int64 `json:"org_daily_cents"`
	UserDailyCents int64 `json:"user_daily_cents"`
}

// Decision 预算检查结果
type Decision struct {
	Allowed        bool   `json:"allowed"`
	Reason         Reason `json:"reason,omitempty"`
	Suggestion     string `json:"suggestion,omitempty"`
	Usage          Usage  `json:"usage"`
	Limits         Limits `json:"limits"`
	EstimatedCents int64  `json:"estimated_cents"`
}

// Message 面向用户的拒绝说明
func (d Decision) Message() string {
	switch d.Reason {
	case ReasonOrgCap:
		return fmt.Sprintf("Organization daily AI budget exceeded (%d of %d cents used).", d.Usage.OrgDailyCents, d.Limits.OrgDailyCents)
	case ReasonUserCap:
		return fmt.Sprintf("Personal daily AI budget exceeded (%d of %d cents used).", d.Usage.UserDailyCents, d.Limits.UserDailyCents)
	default:
		return ""
	}
}

// Option 配置 Enforcer
type Option func(*Enforcer)

// WithAlertThreshold 设置告警阈值（0-1），非法值被忽略
func WithAlertThreshold(threshold float64) Option {
	return func(e *Enforcer) {
		if threshold > 0 && threshold <= 1 {
			e.alertThreshold = threshold
		}
	}
}

// Enforcer 预算预检
type Enforcer struct {
	ledger   ledger.Store
	calendar ledger.Calendar
	limits   Limits
	metrics  *metrics.Collector
	logger   *zap.Logger

	alertThreshold float64
	alertMu        sync.Mutex
	alertHandlers  []AlertHandler
	alertDate      string
	alerted        map[string]bool
}

// New 创建预算检查器
func New(store ledger.Store, calendar ledger.Calendar, limits Limits, collector *metrics.Collector, logger *zap.Logger, opts ...Option) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "budget_enforcer"))
	e := &Enforcer{
		ledger:         store,
		calendar:       calendar,
		limits:         NormalizeLimits(limits, logger),
		metrics:        collector,
		logger:         logger,
		alertThreshold: 0.8,
		alerted:        make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Limits 生效的上限
func (e *Enforcer) Limits() Limits {
	return e.limits
}

// CheckBudget 判断本次调用是否超出组织或个人的每日上限。
// 汇总失败时放行并标记 ReasonCheckFailed。
func (e *Enforcer) CheckBudget(ctx context.Context, subject types.Subject, estimatedCents int64) Decision {
	if estimatedCents < 0 {
		estimatedCents = 0
	}
	decision := Decision{Limits: e.limits, EstimatedCents: estimatedCents}

	today := e.calendar.Today()
	usage, err := e.dailyUsage(ctx, subject, today)
	if err != nil {
		e.metrics.RecordBudgetCheck("check_failed")
		e.logger.Warn("budget check failed, allowing request",
			zap.String("organization_id", subject.OrganizationID),
			zap.String("subject", subject.Key()),
			zap.Error(err),
		)
		decision.Allowed = true
		decision.Reason = ReasonCheckFailed
		return decision
	}
	decision.Usage = usage

	switch {
	case usage.OrgDailyCents+estimatedCents > e.limits.OrgDailyCents:
		decision.Reason = ReasonOrgCap
		decision.Suggestion = SuggestionOrgCap
	case subject.HasUser() && usage.UserDailyCents+estimatedCents > e.limits.UserDailyCents:
		decision.Reason = ReasonUserCap
		decision.Suggestion = SuggestionUserCap
	default:
		decision.Allowed = true
	}

	if decision.Allowed {
		e.metrics.RecordBudgetCheck("allowed")
	} else {
		e.metrics.RecordBudgetCheck(string(decision.Reason))
		e.logger.Info("budget exceeded",
			zap.String("organization_id", subject.OrganizationID),
			zap.String("subject", subject.Key()),
			zap.String("reason", string(decision.Reason)),
			zap.Int64("org_used", usage.OrgDailyCents),
			zap.Int64("user_used", usage.UserDailyCents),
			zap.Int64("estimated", estimatedCents),
		)
	}

	e.checkAlerts(subject, today, usage)
	return decision
}

// dailyUsage 并行汇总组织与个人当天用量
func (e *Enforcer) dailyUsage(ctx context.Context, subject types.Subject, today string) (Usage, error) {
	var usage Usage
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		total, err := e.ledger.SumCostCents(gctx, ledger.OrgRange(subject.OrganizationID, today, today))
		if err != nil {
			return fmt.Errorf("organization usage: %w", err)
		}
		usage.OrgDailyCents = total
		return nil
	})
	if subject.HasUser() {
		g.Go(func() error {
			total, err := e.ledger.SumCostCents(gctx, ledger.UserRange(subject.OrganizationID, subject.SubjectID, today, today))
			if err != nil {
				return fmt.Errorf("user usage: %w", err)
			}
			usage.UserDailyCents = total
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Usage{}, err
	}
	return usage, nil
}
