// Package cache provides internal cache management.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgov/internal/tlsutil"
)

// =============================================================================
// 💾 缓存管理器
// =============================================================================

// Manager 基于 Redis 的网络缓存客户端。
// 每次调用都带有超时上限，超时按失败返回，由上层熔断器统计。
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
}

// Config 缓存配置
type Config struct {
	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	// 单次网络调用超时
	OpTimeout time.Duration `yaml:"op_timeout" json:"op_timeout"`

	// 最大重试次数
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 是否启用 TLS
	TLSEnabled bool `yaml:"tls_enabled" json:"tls_enabled"`

	// 健康检查间隔，0 表示关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		DB:                  0,
		DefaultTTL:          5 * time.Minute,
		OpTimeout:           500 * time.Millisecond,
		MaxRetries:          0,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 0,
	}
}

// NewManager 创建缓存管理器。
// 初始 Ping 失败只记录日志，不返回错误：服务在缓存不可用时仍需启动。
func NewManager(config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = DefaultConfig().OpTimeout
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultConfig().DefaultTTL
	}

	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.OpTimeout,
		ReadTimeout:  config.OpTimeout,
		WriteTimeout: config.OpTimeout,
	}
	if config.TLSEnabled {
		opts.TLSConfig = tlsutil.ServerTLSConfigFor(config.Addr)
	}

	m := &Manager{
		redis:  redis.NewClient(opts),
		config: config,
		logger: logger.With(zap.String("component", "cache")),
		stop:   make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.OpTimeout)
	defer cancel()
	if err := m.redis.Ping(ctx).Err(); err != nil {
		m.logger.Warn("redis not reachable at startup, fallback store will serve", zap.Error(err))
	}

	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}

	m.logger.Info("cache manager initialized",
		zap.String("addr", config.Addr),
		zap.Int("pool_size", config.PoolSize),
		zap.Duration("op_timeout", config.OpTimeout),
	)

	return m
}

// opContext 为单次网络调用加上超时上限
func (m *Manager) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.config.OpTimeout)
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Get 获取缓存值，键不存在时返回 ErrCacheMiss
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", ErrClosed
	}

	ctx, cancel := m.opContext(ctx)
	defer cancel()

	val, err := m.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("cache get failed: %w", err)
	}

	return val, nil
}

// Set 设置缓存值，ttl 为 0 时使用默认过期时间
func (m *Manager) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}

	ctx, cancel := m.opContext(ctx)
	defer cancel()

	if err := m.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set failed: %w", err)
	}

	return nil
}

// Delete 删除缓存值
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := m.opContext(ctx)
	defer cancel()

	if err := m.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete failed: %w", err)
	}

	return nil
}

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	ctx, cancel := m.opContext(ctx)
	defer cancel()

	return m.redis.Ping(ctx).Err()
}

// Close 关闭缓存管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	close(m.stop)
	m.logger.Info("closing cache manager")

	return m.redis.Close()
}

// =============================================================================
// 🪟 滑动窗口
// =============================================================================

// slidingWindowScript 原子地完成一次滑动窗口计数。
// KEYS[1] = 窗口 key（有序集合，score 为毫秒时间戳）
// ARGV[1] = now (unix ms)
// ARGV[2] = window (ms)
// ARGV[3] = limit
// ARGV[4] = member（本次请求的唯一标识）
//
// Returns: {count, admitted(1|0), oldest_ms}
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)

local count = redis.call("ZCARD", key)
local admitted = 0
if count < limit then
    redis.call("ZADD", key, now, member)
    count = count + 1
    admitted = 1
end

redis.call("PEXPIRE", key, window)

local oldest = now
local first = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if first[2] then
    oldest = tonumber(first[2])
end

return {count, admitted, oldest}
`)

// SlidingWindowHit 在 (now-window, now] 区间内计数，未超过 limit 时记一次命中
func (m *Manager) SlidingWindowHit(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (WindowResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return WindowResult{}, ErrClosed
	}

	ctx, cancel := m.opContext(ctx)
	defer cancel()

	nowMs := now.UnixMilli()
	raw, err := slidingWindowScript.Run(ctx, m.redis, []string{key},
		nowMs,
		window.Milliseconds(),
		limit,
		strconv.FormatInt(nowMs, 10)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return WindowResult{}, fmt.Errorf("sliding window script failed: %w", err)
	}
	if len(raw) != 3 {
		return WindowResult{}, fmt.Errorf("sliding window script returned %d values", len(raw))
	}

	return WindowResult{
		Count:    raw[0],
		Admitted: raw[1] == 1,
		ResetAt:  time.UnixMilli(raw[2]).Add(window),
	}, nil
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

// healthCheckLoop 健康检查循环
func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if err := m.Ping(context.Background()); err != nil {
				m.logger.Warn("cache health check failed", zap.Error(err))
			} else {
				m.logger.Debug("cache health check passed")
			}
		}
	}
}

// =============================================================================
// 📊 统计信息
// =============================================================================

// PoolStats 返回连接池统计
func (m *Manager) PoolStats() *redis.PoolStats {
	return m.redis.PoolStats()
}
