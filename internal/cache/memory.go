package cache

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🧠 进程内缓存
// =============================================================================

const memoryShardCount = 32

// MemoryStore 进程内键值存储，网络缓存不可用时作为降级存储。
// 按 key 哈希分片加锁，不同 key 的操作互不阻塞。
type MemoryStore struct {
	shards [memoryShardCount]*memoryShard
	now    func() time.Time
	logger *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

type memoryShard struct {
	mu      sync.Mutex
	values  map[string]memoryEntry
	windows map[string]*windowLog
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// windowLog 某个滑动窗口内按时间升序排列的命中记录
type windowLog struct {
	hits      []time.Time
	expiresAt time.Time
}

// MemoryOption 配置 MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock 注入时钟，测试使用
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithJanitor 启动后台清理协程，定期移除过期条目
func WithJanitor(interval time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if interval > 0 {
			go s.janitor(interval)
		}
	}
}

// NewMemoryStore 创建进程内存储
func NewMemoryStore(logger *zap.Logger, opts ...MemoryOption) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStore{
		now:    time.Now,
		logger: logger.With(zap.String("component", "memory_store")),
		stop:   make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard{
			values:  make(map[string]memoryEntry),
			windows: make(map[string]*windowLog),
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%memoryShardCount]
}

// Get 获取值，不存在或已过期时返回 ErrCacheMiss
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.values[key]
	if !ok {
		return "", ErrCacheMiss
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(sh.values, key)
		return "", ErrCacheMiss
	}
	return e.value, nil
}

// Set 设置值，ttl <= 0 表示永不过期
func (s *MemoryStore) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	sh.values[key] = e
	return nil
}

// Delete 删除值与同名窗口
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		sh := s.shard(key)
		sh.mu.Lock()
		delete(sh.values, key)
		delete(sh.windows, key)
		sh.mu.Unlock()
	}
	return nil
}

// Ping 进程内存储始终可用
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// SlidingWindowHit 与 Manager.SlidingWindowHit 语义一致。
// 作为降级存储时不会被调用：熔断打开时限流按 fail_closed 策略处理；
// redis.backend=memory 时 MemoryStore 是主存储，限流窗口落在这里。
func (s *MemoryStore) SlidingWindowHit(_ context.Context, key string, limit int64, window time.Duration, now time.Time) (WindowResult, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[key]
	if !ok {
		w = &windowLog{}
		sh.windows[key] = w
	}

	// 丢弃 score <= now-window 的记录
	cutoff := now.Add(-window)
	idx := sort.Search(len(w.hits), func(i int) bool { return w.hits[i].After(cutoff) })
	w.hits = w.hits[idx:]

	res := WindowResult{}
	if int64(len(w.hits)) < limit {
		// 保持升序：时钟回拨时插入到正确位置
		pos := sort.Search(len(w.hits), func(i int) bool { return w.hits[i].After(now) })
		w.hits = append(w.hits, time.Time{})
		copy(w.hits[pos+1:], w.hits[pos:])
		w.hits[pos] = now
		res.Admitted = true
	}
	res.Count = int64(len(w.hits))
	w.expiresAt = now.Add(window)

	oldest := now
	if len(w.hits) > 0 {
		oldest = w.hits[0]
	}
	res.ResetAt = oldest.Add(window)
	return res, nil
}

// Len 返回当前未过期的键值数量
func (s *MemoryStore) Len() int {
	now := s.now()
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, e := range sh.values {
			if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Sweep 清理所有过期的键值与窗口，返回清理数量
func (s *MemoryStore) Sweep() int {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.values {
			if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
				delete(sh.values, k)
				removed++
			}
		}
		for k, w := range sh.windows {
			if !now.Before(w.expiresAt) {
				delete(sh.windows, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Close 停止后台清理协程
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("memory store swept", zap.Int("removed", n))
			}
		}
	}
}
