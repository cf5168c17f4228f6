package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgov/config"
	"github.com/BaSui01/agentgov/types"
)

// =============================================================================
// 🚨 错误上报
// =============================================================================

// ErrorTracker 把 panic 与后台失败上报到 Sentry。
// nil 或未配置 DSN 时所有方法都是 no-op。
type ErrorTracker struct {
	hub    *sentry.Hub
	logger *zap.Logger
}

// TrackerOption 调整 Sentry 客户端选项
type TrackerOption func(*sentry.ClientOptions)

// WithBeforeSend 发送前回调，返回 nil 丢弃事件
func WithBeforeSend(fn func(*sentry.Event, *sentry.EventHint) *sentry.Event) TrackerOption {
	return func(o *sentry.ClientOptions) { o.BeforeSend = fn }
}

// NewErrorTracker 创建独立 Hub，不触碰 sentry 全局 Hub
func NewErrorTracker(cfg config.TelemetryConfig, environment, release string, logger *zap.Logger, opts ...TrackerOption) (*ErrorTracker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SentryDSN == "" {
		return &ErrorTracker{logger: logger}, nil
	}

	options := sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: environment,
		Release:     release,
		ServerName:  cfg.ServiceName,
	}
	for _, opt := range opts {
		opt(&options)
	}

	client, err := sentry.NewClient(options)
	if err != nil {
		return nil, fmt.Errorf("create sentry client: %w", err)
	}
	logger.Info("error tracking enabled", zap.String("environment", environment))
	return &ErrorTracker{
		hub:    sentry.NewHub(client, sentry.NewScope()),
		logger: logger,
	}, nil
}

// Enabled 是否接入 Sentry
func (t *ErrorTracker) Enabled() bool {
	return t != nil && t.hub != nil
}

// CaptureError 上报错误，附带标签与请求主体
func (t *ErrorTracker) CaptureError(ctx context.Context, err error, tags map[string]string) {
	if !t.Enabled() || err == nil {
		return
	}
	t.scoped(ctx, tags).CaptureException(err)
}

// CapturePanic 上报 recover() 得到的值
func (t *ErrorTracker) CapturePanic(ctx context.Context, rec any, tags map[string]string) {
	if !t.Enabled() || rec == nil {
		return
	}
	t.scoped(ctx, tags).RecoverWithContext(ctx, rec)
}

// Flush 等待已排队事件发送完成
func (t *ErrorTracker) Flush(timeout time.Duration) bool {
	if !t.Enabled() {
		return true
	}
	ok := t.hub.Flush(timeout)
	if !ok {
		t.logger.Warn("sentry flush timed out", zap.Duration("timeout", timeout))
	}
	return ok
}

// scoped 克隆 Hub，避免并发请求互相污染 Scope
func (t *ErrorTracker) scoped(ctx context.Context, tags map[string]string) *sentry.Hub {
	hub := t.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		if id, ok := types.RequestID(ctx); ok {
			scope.SetTag("request_id", id)
		}
		if subject, ok := types.SubjectFromContext(ctx); ok {
			scope.SetUser(sentry.User{ID: subject.SubjectID})
			scope.SetTag("organization_id", subject.OrganizationID)
		}
	})
	return hub
}
