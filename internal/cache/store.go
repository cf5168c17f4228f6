package cache

import (
	"context"
	"errors"
	"time"
)

// Store 是网络缓存与进程内缓存共同实现的键值契约
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	SlidingWindowHit(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (WindowResult, error)
}

// WindowResult 一次滑动窗口计数的结果
type WindowResult struct {
	// 窗口内（含本次，如被接纳）的请求数
	Count int64
	// 本次是否被计入
	Admitted bool
	// 窗口内最早一条记录滑出窗口的时间
	ResetAt time.Time
}

var (
	_ Store = (*Manager)(nil)
	_ Store = (*MemoryStore)(nil)
)

// ErrCacheMiss 缓存未命中错误
var ErrCacheMiss = errors.New("cache miss")

// ErrClosed 缓存已关闭
var ErrClosed = errors.New("cache is closed")

// IsCacheMiss 判断是否为缓存未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
