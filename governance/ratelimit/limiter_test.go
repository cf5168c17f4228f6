package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentgov/config"
	"github.com/BaSui01/agentgov/governance/circuitbreaker"
	"github.com/BaSui01/agentgov/governance/store"
	"github.com/BaSui01/agentgov/internal/cache"
	"github.com/BaSui01/agentgov/types"
)

// --- 测试替身 ---

var errStore = errors.New("store down")

type memCounter struct {
	mem   *cache.MemoryStore
	fail  atomic.Bool
	calls atomic.Int64
}

func newMemCounter() *memCounter {
	return &memCounter{mem: cache.NewMemoryStore(nil)}
}

func (m *memCounter) SlidingWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (cache.WindowResult, error) {
	m.calls.Add(1)
	if m.fail.Load() {
		return cache.WindowResult{}, errStore
	}
	return m.mem.SlidingWindowHit(ctx, key, limit, window, now)
}

func (m *memCounter) Delete(ctx context.Context, keys ...string) {
	_ = m.mem.Delete(ctx, keys...)
}

type countingProvider struct {
	counter     Counter
	unavailable atomic.Bool
	resolves    atomic.Int64
}

func (p *countingProvider) provide(context.Context) (Counter, error) {
	p.resolves.Add(1)
	if p.unavailable.Load() {
		return nil, store.ErrUnavailable
	}
	return p.counter, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	alice = types.Subject{SubjectID: "user-alice", OrganizationID: "org-1"}
	bob   = types.Subject{SubjectID: "user-bob", OrganizationID: "org-1"}
)

func newTestLimiter(t *testing.T, failClosed bool) (*Limiter, *memCounter, *countingProvider, *clock) {
	t.Helper()
	counter := newMemCounter()
	provider := &countingProvider{counter: counter}
	clk := &clock{now: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)}
	l := New(provider.provide, Config{
		Rules: map[string]Rule{
			"assistant_chat":   {Limit: 3, Window: time.Minute},
			"assistant_report": {Limit: 1, Window: time.Hour},
		},
		DefaultRule: Rule{Limit: 2, Window: 10 * time.Second},
		FailClosed:  failClosed,
		Cooldown:    time.Minute,
		Clock:       clk.Now,
	}, nil, zap.NewNop())
	return l, counter, provider, clk
}

// --- 基本行为 ---

func TestCheck_AdmitsUpToLimit(t *testing.T) {
	l, _, _, clk := newTestLimiter(t, true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Check(ctx, "assistant_chat", alice)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 2-i, res.Remaining)
		assert.False(t, res.Degraded)
	}

	res, err := l.Check(ctx, "assistant_chat", alice)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, clk.Now().Add(time.Minute), res.ResetAt)
	assert.Equal(t, 60, res.RetryAfterSeconds(clk.Now()))
	assert.Equal(t, "Too many requests. Please try again in 60 seconds.", res.Message(clk.Now()))
}

func TestCheck_WindowSlides(t *testing.T) {
	l, _, _, clk := newTestLimiter(t, true)
	ctx := context.Background()

	_, _ = l.Check(ctx, "assistant_chat", alice)
	clk.Advance(20 * time.Second)
	_, _ = l.Check(ctx, "assistant_chat", alice)
	_, _ = l.Check(ctx, "assistant_chat", alice)

	res, _ := l.Check(ctx, "assistant_chat", alice)
	require.False(t, res.Allowed)
	assert.Equal(t, 40, res.RetryAfterSeconds(clk.Now()))

	// 第一条记录滑出窗口后释放一个名额
	clk.Advance(41 * time.Second)
	res, _ = l.Check(ctx, "assistant_chat", alice)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestCheck_IndependentKeys(t *testing.T) {
	l, _, _, _ := newTestLimiter(t, true)
	ctx := context.Background()

	res, _ := l.Check(ctx, "assistant_report", alice)
	require.True(t, res.Allowed)
	res, _ = l.Check(ctx, "assistant_report", alice)
	require.False(t, res.Allowed)

	// 其它主体与其它资源类型互不影响
	res, _ = l.Check(ctx, "assistant_report", bob)
	assert.True(t, res.Allowed)
	res, _ = l.Check(ctx, "assistant_chat", alice)
	assert.True(t, res.Allowed)
}

func TestCheck_UnknownTypeUsesDefaultRule(t *testing.T) {
	l, _, _, _ := newTestLimiter(t, true)

	res, err := l.Check(context.Background(), "bulk_export", alice)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Limit)
	assert.Equal(t, Rule{Limit: 2, Window: 10 * time.Second}, l.Rule("bulk_export"))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ratelimit:assistant_chat:user-alice", Key("assistant_chat", alice))
	assert.Equal(t, "ratelimit:assistant_chat:org:org-9", Key("assistant_chat", types.Subject{OrganizationID: "org-9"}))
}

func TestReset(t *testing.T) {
	l, _, _, _ := newTestLimiter(t, true)
	ctx := context.Background()

	_, _ = l.Check(ctx, "assistant_report", alice)
	res, _ := l.Check(ctx, "assistant_report", alice)
	require.False(t, res.Allowed)

	require.NoError(t, l.Reset(ctx, "assistant_report", alice))
	res, _ = l.Check(ctx, "assistant_report", alice)
	assert.True(t, res.Allowed)
}

// --- 降级策略 ---

func TestCheck_FailClosed(t *testing.T) {
	l, counter, _, clk := newTestLimiter(t, true)
	counter.fail.Store(true)

	res, err := l.Check(context.Background(), "assistant_chat", alice)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.Degraded)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, clk.Now().Add(time.Minute), res.ResetAt)
	assert.Equal(t, 60, res.RetryAfterSeconds(clk.Now()))
}

func TestCheck_FailOpen(t *testing.T) {
	l, counter, _, clk := newTestLimiter(t, false)
	counter.fail.Store(true)

	res, err := l.Check(context.Background(), "assistant_chat", alice)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.Degraded)
	assert.Equal(t, 3, res.Remaining)
	assert.Equal(t, 3, res.Limit)
	assert.Equal(t, clk.Now().Add(time.Minute), res.ResetAt)
}

func TestCheck_ProviderUnavailable(t *testing.T) {
	for _, failClosed := range []bool{true, false} {
		l, counter, provider, _ := newTestLimiter(t, failClosed)
		provider.unavailable.Store(true)

		res, err := l.Check(context.Background(), "assistant_chat", alice)
		require.NoError(t, err)
		assert.Equal(t, !failClosed, res.Allowed)
		assert.True(t, res.Degraded)
		assert.Zero(t, counter.calls.Load(), "no counting while the store is unavailable")
	}
}

func TestCheck_DropsHandleAfterError(t *testing.T) {
	l, counter, provider, _ := newTestLimiter(t, true)
	ctx := context.Background()

	_, _ = l.Check(ctx, "assistant_chat", alice)
	_, _ = l.Check(ctx, "assistant_chat", alice)
	assert.Equal(t, int64(1), provider.resolves.Load(), "handle is cached while healthy")

	counter.fail.Store(true)
	_, _ = l.Check(ctx, "assistant_chat", alice)
	counter.fail.Store(false)

	res, err := l.Check(ctx, "assistant_chat", alice)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(2), provider.resolves.Load(), "handle re-resolved after failure")
}

func TestCheck_CallerCancelled(t *testing.T) {
	l, counter, _, _ := newTestLimiter(t, true)
	counter.fail.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Check(ctx, "assistant_chat", alice)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_InvalidRulesReplaced(t *testing.T) {
	l := New(func(context.Context) (Counter, error) { return newMemCounter(), nil }, Config{
		Rules: map[string]Rule{
			"zero_limit":  {Limit: 0, Window: time.Minute},
			"neg_window":  {Limit: 5, Window: -time.Second},
			"well_formed": {Limit: 5, Window: time.Second},
		},
		DefaultRule: Rule{Limit: -1},
	}, nil, nil)

	assert.Equal(t, DefaultRule, l.Rule("zero_limit"))
	assert.Equal(t, DefaultRule, l.Rule("neg_window"))
	assert.Equal(t, Rule{Limit: 5, Window: time.Second}, l.Rule("well_formed"))
	assert.Equal(t, DefaultRule, l.Rule("anything_else"))
}

func TestConfigFrom(t *testing.T) {
	g := config.DefaultGovernanceConfig()
	g.Environment = "production"

	cfg := ConfigFrom(g)
	assert.True(t, cfg.FailClosed)
	assert.Equal(t, time.Minute, cfg.Cooldown)
	assert.Equal(t, Rule{Limit: 20, Window: time.Minute}, cfg.Rules["assistant_chat"])
	assert.Equal(t, Rule{Limit: 60, Window: time.Minute}, cfg.DefaultRule)
}

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Unix(1000, 0)
	tests := []struct {
		name    string
		resetAt time.Time
		want    int
	}{
		{"already passed", now.Add(-time.Second), 1},
		{"exactly now", now, 1},
		{"sub-second rounds up", now.Add(200 * time.Millisecond), 1},
		{"fraction rounds up", now.Add(1500 * time.Millisecond), 2},
		{"whole seconds", now.Add(30 * time.Second), 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetryAfterSeconds(tt.resetAt, now))
		})
	}
}

// --- 网络缓存集成 ---

func TestCheck_WithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	mgr := cache.NewManager(cache.Config{Addr: mr.Addr(), OpTimeout: time.Second}, zap.NewNop())
	t.Cleanup(func() { _ = mgr.Close() })

	breaker := circuitbreaker.New(&circuitbreaker.Config{Threshold: 1, Timeout: time.Second, Cooldown: time.Minute}, nil)
	s := store.New(mgr, breaker, nil)

	l := New(StoreProvider(s), Config{
		Rules:      map[string]Rule{"assistant_chat": {Limit: 2, Window: time.Minute}},
		FailClosed: true,
	}, nil, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Check(ctx, "assistant_chat", alice)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, _ := l.Check(ctx, "assistant_chat", alice)
	assert.False(t, res.Allowed)
	assert.False(t, res.Degraded)
	assert.True(t, mr.Exists("ratelimit:assistant_chat:user-alice"))

	// 网络缓存宕机：生产策略拒绝
	mr.Close()
	res, err := l.Check(ctx, "assistant_chat", bob)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, res.Degraded)
}

// --- 性质测试 ---

// 任意请求序列下，任意尾随窗口内被接纳的请求数不超过 limit
func TestProperty_NeverExceedsLimit(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(1, 10).Draw(rt, "limit")
		window := time.Duration(rapid.IntRange(1, 120).Draw(rt, "window_s")) * time.Second
		gaps := rapid.SliceOfN(rapid.IntRange(0, 30_000), 1, 80).Draw(rt, "gaps_ms")

		clk := &clock{now: time.Unix(1_700_000_000, 0)}
		l := New(func(context.Context) (Counter, error) { return newMemCounter(), nil }, Config{
			Rules: map[string]Rule{"t": {Limit: limit, Window: window}},
			Clock: clk.Now,
		}, nil, nil)

		var admitted []time.Time
		for _, gap := range gaps {
			clk.Advance(time.Duration(gap) * time.Millisecond)
			res, err := l.Check(context.Background(), "t", alice)
			if err != nil {
				rt.Fatalf("unexpected error: %v", err)
			}
			if res.Allowed {
				admitted = append(admitted, clk.Now())
			}
		}

		for i, start := range admitted {
			n := 0
			for _, ts := range admitted[i:] {
				if ts.Sub(start) < window {
					n++
				}
			}
			if n > limit {
				rt.Fatalf("%d admitted within %s starting at %s, limit %d", n, window, start, limit)
			}
		}
	})
}
