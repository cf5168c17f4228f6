package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// GovernanceConfig 请求治理配置
type GovernanceConfig struct {
	// 部署环境: production, staging, development
	Environment string `yaml:"environment" env:"ENVIRONMENT"`

	// 网络缓存不可用时限流是否拒绝请求。未设置时生产环境为 true，其余为 false。
	FailClosed *bool `yaml:"fail_closed" env:"FAIL_CLOSED"`

	// Breaker 网络缓存熔断器
	Breaker BreakerConfig `yaml:"breaker" env:"BREAKER"`

	// RateLimits 按资源类型的限流规则
	// 环境变量格式: assistant_chat=20/60s,assistant_report=5/1h
	RateLimits RateLimitRules `yaml:"rate_limits" env:"RATE_LIMITS"`

	// DefaultRateLimit 未配置的资源类型使用的规则
	DefaultRateLimit RateLimitRule `yaml:"default_rate_limit" env:"DEFAULT_RATE_LIMIT"`

	// Budget 预算上限
	Budget BudgetConfig `yaml:"budget" env:"BUDGET"`

	// ContextCache 上下文缓存 TTL
	ContextCache ContextCacheConfig `yaml:"context_cache" env:"CONTEXT_CACHE"`

	// Pricing 模型价格覆盖
	Pricing PricingConfig `yaml:"pricing" env:"PRICING"`

	// Estimation 调用前成本估算
	Estimation EstimationConfig `yaml:"estimation" env:"ESTIMATION"`

	// Downstream 下游操作
	Downstream DownstreamConfig `yaml:"downstream" env:"DOWNSTREAM"`

	// Background 异步写入任务池
	Background BackgroundConfig `yaml:"background" env:"BACKGROUND"`

	// SchemasPath 参数 Schema 的 YAML 文件，为空时不做字段校验
	SchemasPath string `yaml:"schemas_path" env:"SCHEMAS_PATH"`
}

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	// 连续失败次数阈值
	Threshold int `yaml:"threshold" env:"THRESHOLD"`
	// 单次调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 冷却时间（探测间隔）
	Cooldown time.Duration `yaml:"cooldown" env:"COOLDOWN"`
}

// RateLimitRule 单个资源类型的限流规则
type RateLimitRule struct {
	Limit  int           `yaml:"limit" json:"limit"`
	Window time.Duration `yaml:"window" json:"window"`
}

// UnmarshalText 解析 "20/60s" 格式
func (r *RateLimitRule) UnmarshalText(text []byte) error {
	limitStr, windowStr, ok := strings.Cut(strings.TrimSpace(string(text)), "/")
	if !ok {
		return fmt.Errorf("rate limit rule %q: expected <limit>/<window>", text)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
	if err != nil {
		return fmt.Errorf("rate limit rule %q: %w", text, err)
	}
	window, err := time.ParseDuration(strings.TrimSpace(windowStr))
	if err != nil {
		return fmt.Errorf("rate limit rule %q: %w", text, err)
	}
	r.Limit = limit
	r.Window = window
	return nil
}

// String 返回 "20/1m0s" 格式
func (r RateLimitRule) String() string {
	return fmt.Sprintf("%d/%s", r.Limit, r.Window)
}

// RateLimitRules 资源类型 → 限流规则
type RateLimitRules map[string]RateLimitRule

// UnmarshalText 解析 "a=20/60s,b=5/1h" 格式，覆盖同名规则
func (rs *RateLimitRules) UnmarshalText(text []byte) error {
	if *rs == nil {
		*rs = make(RateLimitRules)
	}
	for _, part := range strings.Split(string(text), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, rule, ok := strings.Cut(part, "=")
		if !ok {
			return fmt.Errorf("rate limit entry %q: expected <type>=<limit>/<window>", part)
		}
		var r RateLimitRule
		if err := r.UnmarshalText([]byte(rule)); err != nil {
			return err
		}
		(*rs)[strings.TrimSpace(name)] = r
	}
	return nil
}

// Names 按字母序返回资源类型
func (rs RateLimitRules) Names() []string {
	names := make([]string, 0, len(rs))
	for name := range rs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BudgetConfig 预算配置，金额单位为分
type BudgetConfig struct {
	// 组织每日上限
	OrgDailyLimitCents int64 `yaml:"org_daily_limit_cents" env:"ORG_DAILY_LIMIT_CENTS"`
	// 个人每日上限
	UserDailyLimitCents int64 `yaml:"user_daily_limit_cents" env:"USER_DAILY_LIMIT_CENTS"`
	// 账本日期使用的时区（IANA 名称），写入与汇总使用同一时区
	Timezone string `yaml:"timezone" env:"TIMEZONE"`
}

// ContextCacheConfig 上下文缓存配置
type ContextCacheConfig struct {
	// 身份快照 TTL
	UserTTL time.Duration `yaml:"user_ttl" env:"USER_TTL"`
	// 组织快照 TTL
	OrgTTL time.Duration `yaml:"org_ttl" env:"ORG_TTL"`
}

// ModelPrice 每 1000 token 的价格（分）
type ModelPrice struct {
	InputPer1K  int64 `yaml:"input_per_1k" json:"input_per_1k"`
	OutputPer1K int64 `yaml:"output_per_1k" json:"output_per_1k"`
}

// PricingConfig 模型价格配置
type PricingConfig struct {
	// 未知模型的价格，未设置时使用内置默认值
	Default ModelPrice `yaml:"default" env:"-"`
	// 按模型覆盖
	Models map[string]ModelPrice `yaml:"models" env:"-"`
}

// EstimationConfig 调用前成本估算配置
type EstimationConfig struct {
	// 预期输出 token 数
	ExpectedOutputTokens int `yaml:"expected_output_tokens" env:"EXPECTED_OUTPUT_TOKENS"`
	// tiktoken 编码名称
	Encoding string `yaml:"encoding" env:"ENCODING"`
}

// DownstreamConfig 下游操作配置
type DownstreamConfig struct {
	// 下游服务地址，为空时使用内置回显操作
	URL string `yaml:"url" env:"URL"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 认证 Token
	Token string `yaml:"token" env:"TOKEN"`
}

// BackgroundConfig 异步任务池配置
type BackgroundConfig struct {
	Workers   int `yaml:"workers" env:"WORKERS"`
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// IsProduction 是否生产环境
func (g *GovernanceConfig) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(g.Environment))
	return env == "production" || env == "prod"
}

// FailClosedEnabled 返回生效的 FAIL_CLOSED 策略
func (g *GovernanceConfig) FailClosedEnabled() bool {
	if g.FailClosed != nil {
		return *g.FailClosed
	}
	return g.IsProduction()
}

// Location 账本日期时区
func (g *GovernanceConfig) Location() (*time.Location, error) {
	if g.Budget.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(g.Budget.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid budget timezone %q: %w", g.Budget.Timezone, err)
	}
	return loc, nil
}
