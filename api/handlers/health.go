package handlers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgov/governance/circuitbreaker"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	// Critical 失败时是否判定为不就绪；非关键依赖失败只标记 degraded
	Critical() bool
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy, degraded, unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status   string `json:"status"` // pass, fail
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger  *zap.Logger
	timeout time.Duration
	mu      sync.RWMutex
	checks  []HealthCheck
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{logger: logger, timeout: 5 * time.Second}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 存活探针，只说明进程在运行
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: "healthy", Timestamp: time.Now()})
}

// HandleReady 就绪探针。关键检查失败返回 503，非关键失败返回 200 + degraded
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.run(ctx, check)
		}()
	}
	wg.Wait()

	status := HealthStatus{Status: "healthy", Timestamp: time.Now(), Checks: make(map[string]CheckResult, len(checks))}
	code := http.StatusOK
	for i, check := range checks {
		res := results[i]
		status.Checks[check.Name()] = res
		if res.Status == "pass" {
			continue
		}
		if res.Critical {
			status.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		} else if status.Status == "healthy" {
			status.Status = "degraded"
		}
	}
	WriteJSON(w, code, status)
}

func (h *HealthHandler) run(ctx context.Context, check HealthCheck) CheckResult {
	start := time.Now()
	err := check.Check(ctx)
	latency := time.Since(start)

	res := CheckResult{Status: "pass", Critical: check.Critical(), Latency: latency.String()}
	if err != nil {
		res.Status = "fail"
		res.Message = err.Error()
		h.logger.Warn("health check failed",
			zap.String("check", check.Name()),
			zap.Bool("critical", res.Critical),
			zap.Error(err),
			zap.Duration("latency", latency),
		)
	}
	return res
}

// HandleVersion 返回构建信息
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := map[string]string{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, info)
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingCheck 以 ping 函数实现的检查，例如账本数据库
type PingCheck struct {
	name     string
	critical bool
	ping     func(ctx context.Context) error
}

// NewPingCheck 创建 ping 检查
func NewPingCheck(name string, critical bool, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, critical: critical, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Critical() bool { return c.critical }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }

// BreakerCheck 报告熔断器状态，不发起网络调用。
// 网络缓存不可用时服务降级运行，因此不是关键检查。
type BreakerCheck struct {
	name     string
	snapshot func() circuitbreaker.Snapshot
}

// NewBreakerCheck 创建熔断器检查
func NewBreakerCheck(name string, snapshot func() circuitbreaker.Snapshot) *BreakerCheck {
	return &BreakerCheck{name: name, snapshot: snapshot}
}

func (c *BreakerCheck) Name() string { return c.name }

func (c *BreakerCheck) Critical() bool { return false }

func (c *BreakerCheck) Check(context.Context) error {
	snap := c.snapshot()
	if snap.Available {
		return nil
	}
	if snap.LastFailureAt != nil {
		return fmt.Errorf("circuit %s since %s, cooldown %s", snap.State, snap.LastFailureAt.UTC().Format(time.RFC3339), snap.Cooldown)
	}
	return fmt.Errorf("circuit %s", snap.State)
}
