package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgov/config"
	"github.com/BaSui01/agentgov/governance/store"
	"github.com/BaSui01/agentgov/internal/cache"
	"github.com/BaSui01/agentgov/internal/metrics"
	"github.com/BaSui01/agentgov/types"
)

// Counter 执行一次滑动窗口计数
type Counter interface {
	SlidingWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (cache.WindowResult, error)
	Delete(ctx context.Context, keys ...string)
}

// Provider 解析当前可用的计数器。网络缓存不可用时返回错误。
type Provider func(ctx context.Context) (Counter, error)

// StoreProvider 基于熔断保护存储的 Provider
func StoreProvider(s *store.Store) Provider {
	return func(ctx context.Context) (Counter, error) {
		if !s.Available(ctx) {
			return nil, store.ErrUnavailable
		}
		return s, nil
	}
}

// Rule 单个资源类型的限流规则
type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) valid() bool {
	return r.Limit > 0 && r.Window > 0
}

// DefaultRule 未配置资源类型使用的规则
var DefaultRule = Rule{Limit: 60, Window: time.Minute}

// Result 一次限流检查的结果
type Result struct {
	ResourceType string    `json:"resource_type"`
	Allowed      bool      `json:"allowed"`
	Remaining    int       `json:"remaining"`
	Limit        int       `json:"limit"`
	ResetAt      time.Time `json:"reset_at"`
	// Degraded 表示结果未经网络缓存计数（故障放行或故障拒绝）
	Degraded bool `json:"degraded,omitempty"`
}

// RetryAfterSeconds 距离 ResetAt 的秒数，向上取整且至少为 1
func (r Result) RetryAfterSeconds(now time.Time) int {
	return RetryAfterSeconds(r.ResetAt, now)
}

// RetryAfterSeconds = max(1, ceil((resetAt-now)/1s))
func RetryAfterSeconds(resetAt, now time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Message 面向用户的拒绝提示
func (r Result) Message(now time.Time) string {
	return fmt.Sprintf("Too many requests. Please try again in %d seconds.", r.RetryAfterSeconds(now))
}

// Config 限流器配置
type Config struct {
	Rules       map[string]Rule
	DefaultRule Rule
	// FailClosed 网络缓存不可用时拒绝请求
	FailClosed bool
	// Cooldown 故障拒绝时的合成重试间隔，通常等于熔断冷却时间
	Cooldown time.Duration
	Clock    func() time.Time
}

// ConfigFrom 从治理配置构建限流配置
func ConfigFrom(g config.GovernanceConfig) Config {
	rules := make(map[string]Rule, len(g.RateLimits))
	for name, r := range g.RateLimits {
		rules[name] = Rule{Limit: r.Limit, Window: r.Window}
	}
	return Config{
		Rules:       rules,
		DefaultRule: Rule{Limit: g.DefaultRateLimit.Limit, Window: g.DefaultRateLimit.Window},
		FailClosed:  g.FailClosedEnabled(),
		Cooldown:    g.Breaker.Cooldown,
	}
}

// window 已解析的窗口句柄
type window struct {
	rule    Rule
	counter Counter
}

// Limiter 滑动窗口限流器
type Limiter struct {
	provider Provider
	config   Config
	metrics  *metrics.Collector
	logger   *zap.Logger

	mu      sync.Mutex
	windows map[string]*window
}

// New 创建限流器。非法规则被替换为默认规则并记录告警。
func New(provider Provider, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "rate_limiter"))

	if !cfg.DefaultRule.valid() {
		if cfg.DefaultRule != (Rule{}) {
			logger.Warn("invalid default rate limit, using built-in default",
				zap.Int("limit", cfg.DefaultRule.Limit),
				zap.Duration("window", cfg.DefaultRule.Window),
			)
		}
		cfg.DefaultRule = DefaultRule
	}
	rules := make(map[string]Rule, len(cfg.Rules))
	for name, r := range cfg.Rules {
		if !r.valid() {
			logger.Warn("invalid rate limit rule, using default",
				zap.String("resource_type", name),
				zap.Int("limit", r.Limit),
				zap.Duration("window", r.Window),
			)
			r = cfg.DefaultRule
		}
		rules[name] = r
	}
	cfg.Rules = rules
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Limiter{
		provider: provider,
		config:   cfg,
		metrics:  collector,
		logger:   logger,
		windows:  make(map[string]*window),
	}
}

// Rule 返回资源类型生效的规则
func (l *Limiter) Rule(resourceType string) Rule {
	if r, ok := l.config.Rules[resourceType]; ok {
		return r
	}
	return l.config.DefaultRule
}

// Key 限流计数键
func Key(resourceType string, subject types.Subject) string {
	return "ratelimit:" + resourceType + ":" + subject.Key()
}

// Check 计入一次请求并返回限流结果。
// 只有调用方取消时返回错误；存储故障按 FailClosed 策略转为结果。
func (l *Limiter) Check(ctx context.Context, resourceType string, subject types.Subject) (Result, error) {
	now := l.config.Clock()
	rule := l.Rule(resourceType)

	w, err := l.resolve(ctx, resourceType)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return l.degraded(resourceType, subject, rule, now, err), nil
	}

	res, err := w.counter.SlidingWindow(ctx, Key(resourceType, subject), int64(w.rule.Limit), w.rule.Window, now)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		l.drop(resourceType)
		return l.degraded(resourceType, subject, rule, now, err), nil
	}

	remaining := w.rule.Limit - int(res.Count)
	if remaining < 0 {
		remaining = 0
	}
	result := Result{
		ResourceType: resourceType,
		Allowed:      res.Admitted,
		Remaining:    remaining,
		Limit:        w.rule.Limit,
		ResetAt:      res.ResetAt,
	}
	if result.Allowed {
		l.metrics.RecordRateLimit(resourceType, "allowed")
	} else {
		l.metrics.RecordRateLimit(resourceType, "denied")
		l.logger.Info("rate limit exceeded",
			zap.String("resource_type", resourceType),
			zap.String("subject", subject.Key()),
			zap.Int("limit", w.rule.Limit),
			zap.Time("reset_at", res.ResetAt),
		)
	}
	return result, nil
}

// Reset 清除主体在资源类型上的窗口
func (l *Limiter) Reset(ctx context.Context, resourceType string, subject types.Subject) error {
	w, err := l.resolve(ctx, resourceType)
	if err != nil {
		return err
	}
	w.counter.Delete(ctx, Key(resourceType, subject))
	return nil
}

// resolve 返回缓存的窗口句柄，不存在时经 Provider 解析
func (l *Limiter) resolve(ctx context.Context, resourceType string) (*window, error) {
	l.mu.Lock()
	w, ok := l.windows[resourceType]
	l.mu.Unlock()
	if ok {
		return w, nil
	}

	counter, err := l.provider(ctx)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		return nil, errors.New("rate limit provider returned no counter")
	}
	w = &window{rule: l.Rule(resourceType), counter: counter}

	l.mu.Lock()
	l.windows[resourceType] = w
	l.mu.Unlock()
	return w, nil
}

func (l *Limiter) drop(resourceType string) {
	l.mu.Lock()
	delete(l.windows, resourceType)
	l.mu.Unlock()
}

// degraded 按 FailClosed 策略构造结果
func (l *Limiter) degraded(resourceType string, subject types.Subject, rule Rule, now time.Time, cause error) Result {
	fields := []zap.Field{
		zap.String("resource_type", resourceType),
		zap.String("subject", subject.Key()),
		zap.Error(cause),
	}

	if l.config.FailClosed {
		l.metrics.RecordRateLimit(resourceType, "fail_closed")
		l.logger.Warn("rate limit store unavailable, denying request", fields...)
		return Result{
			ResourceType: resourceType,
			Allowed:      false,
			Remaining:    0,
			Limit:        rule.Limit,
			ResetAt:      now.Add(l.config.Cooldown),
			Degraded:     true,
		}
	}

	l.metrics.RecordRateLimit(resourceType, "fail_open")
	l.logger.Error("rate limit store unavailable, allowing request without enforcement", fields...)
	return Result{
		ResourceType: resourceType,
		Allowed:      true,
		Remaining:    rule.Limit,
		Limit:        rule.Limit,
		ResetAt:      now.Add(rule.Window),
		Degraded:     true,
	}
}
