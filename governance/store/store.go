// Package store 提供带熔断保护的缓存存储。
//
// 网络缓存可用时读写走网络缓存；熔断打开或单次操作失败时，读写落到进程内
// 存储并记录日志。Get/Set/Delete 永不向调用方返回错误。
package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgov/governance/circuitbreaker"
	"github.com/BaSui01/agentgov/internal/cache"
	"github.com/BaSui01/agentgov/internal/metrics"
	"github.com/BaSui01/agentgov/internal/pool"
)

// ErrUnavailable 网络缓存当前不可用（熔断打开）
var ErrUnavailable = errors.New("network cache unavailable")

// Store 熔断保护的缓存存储
type Store struct {
	backend  cache.Store
	fallback *cache.MemoryStore
	breaker  *circuitbreaker.Breaker
	bg       *pool.BackgroundPool
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// Option 配置 Store
type Option func(*Store)

// WithFallback 指定进程内降级存储
func WithFallback(fallback *cache.MemoryStore) Option {
	return func(s *Store) { s.fallback = fallback }
}

// WithBackground 指定执行异步写入的后台任务池
func WithBackground(bg *pool.BackgroundPool) Option {
	return func(s *Store) { s.bg = bg }
}

// WithMetrics 注入指标收集器
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Store) { s.metrics = c }
}

// New 创建 Store。backend 为网络缓存，breaker 保护 backend。
func New(backend cache.Store, breaker *circuitbreaker.Breaker, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		backend: backend,
		breaker: breaker,
		logger:  logger.With(zap.String("component", "resilient_store")),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fallback == nil {
		s.fallback = cache.NewMemoryStore(logger)
	}
	return s
}

// Available 报告网络缓存是否可用，冷却结束后最多触发一次 Ping 探测
func (s *Store) Available(ctx context.Context) bool {
	return s.breaker.Available(ctx, s.backend.Ping)
}

// Get 读取值。第二个返回值表示是否命中。
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	if s.Available(ctx) {
		var hit bool
		val, err := circuitbreaker.Do(ctx, s.breaker, func(ctx context.Context) (string, error) {
			v, err := s.backend.Get(ctx, key)
			if cache.IsCacheMiss(err) {
				return "", nil
			}
			hit = err == nil
			return v, err
		})
		if err == nil {
			return val, hit
		}
		if ctx.Err() != nil {
			return "", false
		}
		s.logger.Warn("cache get failed, using fallback store", zap.String("key", key), zap.Error(err))
	}

	s.metrics.RecordStoreFallback("get")
	val, err := s.fallback.Get(ctx, key)
	if err != nil {
		return "", false
	}
	return val, true
}

// Set 同步写入，失败时写入降级存储
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) {
	_ = s.set(ctx, key, value, ttl)
}

// SetAsync 异步写入，调用方不等待完成。
// 写入与调用方的取消无关；网络缓存写入失败经后台任务池的错误通道记录。
func (s *Store) SetAsync(key, value string, ttl time.Duration) {
	s.SetAsyncIf(key, value, ttl, nil)
}

// SetAsyncIf 同 SetAsync，任务真正执行前 valid 返回 false 时放弃写入
func (s *Store) SetAsyncIf(key, value string, ttl time.Duration, valid func() bool) {
	task := func(ctx context.Context) error {
		if valid != nil && !valid() {
			return nil
		}
		return s.set(ctx, key, value, ttl)
	}
	if s.bg != nil {
		s.bg.Go("cache_set", task)
		return
	}
	go func() {
		if err := task(context.Background()); err != nil {
			s.logger.Warn("async cache set failed", zap.String("key", key), zap.Error(err))
		}
	}()
}

// set 返回网络缓存的写入错误，此时值已写入降级存储
func (s *Store) set(ctx context.Context, key, value string, ttl time.Duration) error {
	if s.Available(ctx) {
		err := s.breaker.Call(ctx, func(ctx context.Context) error {
			return s.backend.Set(ctx, key, value, ttl)
		})
		if err == nil {
			return nil
		}
		s.logger.Warn("cache set failed, using fallback store", zap.String("key", key), zap.Error(err))
		s.metrics.RecordStoreFallback("set")
		_ = s.fallback.Set(ctx, key, value, ttl)
		return err
	}

	s.metrics.RecordStoreFallback("set")
	return s.fallback.Set(ctx, key, value, ttl)
}

// Delete 同时删除网络缓存与降级存储中的键
func (s *Store) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	_ = s.fallback.Delete(ctx, keys...)

	if !s.Available(ctx) {
		s.metrics.RecordStoreFallback("delete")
		return
	}
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		return s.backend.Delete(ctx, keys...)
	})
	if err != nil {
		s.logger.Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// SlidingWindow 在网络缓存上执行一次滑动窗口计数。
// 与其它操作不同，失败原样返回，由调用方决定放行或拒绝。
func (s *Store) SlidingWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (cache.WindowResult, error) {
	if !s.Available(ctx) {
		return cache.WindowResult{}, ErrUnavailable
	}
	return circuitbreaker.Do(ctx, s.breaker, func(ctx context.Context) (cache.WindowResult, error) {
		return s.backend.SlidingWindowHit(ctx, key, limit, window, now)
	})
}

// Cooldown 熔断冷却时间
func (s *Store) Cooldown() time.Duration {
	return s.breaker.Cooldown()
}

// Snapshot 熔断器状态快照，不触发探测
func (s *Store) Snapshot() circuitbreaker.Snapshot {
	return s.breaker.Snapshot()
}

// ObserveBreaker 返回把熔断器状态变更写入日志与指标的回调
func ObserveBreaker(name string, collector *metrics.Collector, logger *zap.Logger) func(from, to circuitbreaker.State) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(from, to circuitbreaker.State) {
		logger.Info("circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		collector.RecordBreakerState(name, from.String(), to.String(), int(to))
	}
}
