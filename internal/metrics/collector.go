// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。
// 所有记录方法对 nil 接收者安全，组件在未注入收集器时无需判空。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 治理指标
	decisionsTotal   *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	rateLimitChecks  *prometheus.CounterVec
	budgetChecks     *prometheus.CounterVec
	costCents        *prometheus.CounterVec
	tokensUsed       *prometheus.CounterVec
	paramValidations *prometheus.CounterVec

	// 缓存指标
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	storeFallbacks     *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	backgroundFailures *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 治理指标
	c.decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "governance_decisions_total",
			Help:      "Total number of governed requests by outcome",
		},
		[]string{"operation", "outcome"},
	)

	c.stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "governance_stage_duration_seconds",
			Help:      "Duration of each governance stage in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"stage"},
	)

	c.rateLimitChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_checks_total",
			Help:      "Total number of rate limit checks by result",
		},
		[]string{"resource_type", "result"}, // result: allowed, denied, fail_open, fail_closed
	)

	c.budgetChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_checks_total",
			Help:      "Total number of budget checks by result",
		},
		[]string{"result"},
	)

	c.costCents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_cents_total",
			Help:      "Total recorded cost in cents",
		},
		[]string{"model"},
	)

	c.tokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"model", "type"}, // type: input, output, cache_read, cache_write
	)

	c.paramValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "param_validations_total",
			Help:      "Total number of parameter resolutions by result",
		},
		[]string{"result"},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.storeFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_fallbacks_total",
			Help:      "Total number of operations served by the in-process fallback store",
		},
		[]string{"operation"},
	)

	c.breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	c.breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	c.backgroundFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_task_failures_total",
			Help:      "Total number of failed fire-and-forget tasks",
		},
		[]string{"task"},
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🛡️ 治理指标记录
// =============================================================================

// RecordDecision 记录一次治理结果
func (c *Collector) RecordDecision(operation, outcome string) {
	if c == nil {
		return
	}
	c.decisionsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordStage 记录某个阶段的耗时
func (c *Collector) RecordStage(stage string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordRateLimit 记录限流检查结果
func (c *Collector) RecordRateLimit(resourceType, result string) {
	if c == nil {
		return
	}
	c.rateLimitChecks.WithLabelValues(resourceType, result).Inc()
}

// RecordBudgetCheck 记录预算检查结果
func (c *Collector) RecordBudgetCheck(result string) {
	if c == nil {
		return
	}
	c.budgetChecks.WithLabelValues(result).Inc()
}

// RecordCost 记录一次调用的成本与 token 用量
func (c *Collector) RecordCost(model string, costCents int64, input, output, cacheRead, cacheWrite int) {
	if c == nil {
		return
	}
	c.costCents.WithLabelValues(model).Add(float64(costCents))
	c.tokensUsed.WithLabelValues(model, "input").Add(float64(input))
	c.tokensUsed.WithLabelValues(model, "output").Add(float64(output))
	c.tokensUsed.WithLabelValues(model, "cache_read").Add(float64(cacheRead))
	c.tokensUsed.WithLabelValues(model, "cache_write").Add(float64(cacheWrite))
}

// RecordParamValidation 记录参数解析结果
func (c *Collector) RecordParamValidation(ok bool) {
	if c == nil {
		return
	}
	result := "valid"
	if !ok {
		result = "invalid"
	}
	c.paramValidations.WithLabelValues(result).Inc()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordStoreFallback 记录一次降级到进程内存储的操作
func (c *Collector) RecordStoreFallback(operation string) {
	if c == nil {
		return
	}
	c.storeFallbacks.WithLabelValues(operation).Inc()
}

// RecordBreakerState 记录熔断器状态变更
func (c *Collector) RecordBreakerState(name, from, to string, value int) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(name).Set(float64(value))
	c.breakerTransitions.WithLabelValues(name, from, to).Inc()
}

// RecordBackgroundFailure 记录后台任务失败
func (c *Collector) RecordBackgroundFailure(task string) {
	if c == nil {
		return
	}
	c.backgroundFailures.WithLabelValues(task).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
