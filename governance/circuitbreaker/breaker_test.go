package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errStore = errors.New("store down")

func failing(context.Context) error { return errStore }
func ok(context.Context) error      { return nil }

// ---------------------------------------------------------------------------
// DefaultConfig / New
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1, cfg.Threshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Cooldown)
	assert.Nil(t, cfg.OnStateChange)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name          string
		cfg           *Config
		wantThreshold int
		wantTimeout   time.Duration
		wantCooldown  time.Duration
	}{
		{
			name:          "nil config uses defaults",
			cfg:           nil,
			wantThreshold: 1,
			wantTimeout:   500 * time.Millisecond,
			wantCooldown:  60 * time.Second,
		},
		{
			name:          "invalid values corrected to defaults",
			cfg:           &Config{Threshold: -2, Timeout: 0, Cooldown: -time.Second},
			wantThreshold: 1,
			wantTimeout:   500 * time.Millisecond,
			wantCooldown:  60 * time.Second,
		},
		{
			name:          "custom values kept",
			cfg:           &Config{Threshold: 3, Timeout: time.Second, Cooldown: 5 * time.Second},
			wantThreshold: 3,
			wantTimeout:   time.Second,
			wantCooldown:  5 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.cfg, zap.NewNop())
			assert.Equal(t, tt.wantThreshold, b.config.Threshold)
			assert.Equal(t, tt.wantTimeout, b.config.Timeout)
			assert.Equal(t, tt.wantCooldown, b.Cooldown())
			assert.Equal(t, StateClosed, b.State())
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Closed", StateClosed.String())
	assert.Equal(t, "Open", StateOpen.String())
	assert.Equal(t, "HalfOpen", StateHalfOpen.String())
	assert.Equal(t, "Unknown", State(42).String())
}

// ---------------------------------------------------------------------------
// Call
// ---------------------------------------------------------------------------

func TestCall_OpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	b := New(&Config{Threshold: 3, Cooldown: time.Minute, Clock: clock.Now}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Call(ctx, failing), errStore)
		assert.Equal(t, StateClosed, b.State())
	}
	assert.ErrorIs(t, b.Call(ctx, failing), errStore)
	assert.Equal(t, StateOpen, b.State())

	var calls atomic.Int32
	err := b.Call(ctx, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls.Load(), "no real call while open")
}

func TestCall_SuccessResetsCount(t *testing.T) {
	b := New(&Config{Threshold: 2}, zap.NewNop())
	ctx := context.Background()

	_ = b.Call(ctx, failing)
	require.NoError(t, b.Call(ctx, ok))
	_ = b.Call(ctx, failing)
	assert.Equal(t, StateClosed, b.State())
}

func TestCall_TimeoutCountsAsFailure(t *testing.T) {
	b := New(&Config{Threshold: 1, Timeout: 20 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	err := b.Call(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return nil
	})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateOpen, b.State())
}

func TestCall_CallerCancellationNotCounted(t *testing.T) {
	b := New(&Config{Threshold: 1, Timeout: time.Second}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Call(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}

func TestCall_PanicCountsAsFailure(t *testing.T) {
	b := New(&Config{Threshold: 1}, zap.NewNop())

	err := b.Call(context.Background(), func(context.Context) error { panic("boom") })
	assert.Error(t, err)
	assert.Equal(t, StateOpen, b.State())
}

// ---------------------------------------------------------------------------
// Available / probe
// ---------------------------------------------------------------------------

func TestAvailable_ProbeAfterCooldown(t *testing.T) {
	clock := newFakeClock()
	b := New(&Config{Threshold: 1, Cooldown: time.Minute, Clock: clock.Now}, zap.NewNop())
	ctx := context.Background()

	assert.True(t, b.Available(ctx, failing))

	_ = b.Call(ctx, failing)
	require.Equal(t, StateOpen, b.State())

	var probes atomic.Int32
	probe := func(context.Context) error {
		probes.Add(1)
		return nil
	}

	clock.Advance(59 * time.Second)
	assert.False(t, b.Available(ctx, probe))
	assert.Zero(t, probes.Load(), "no probe inside cooldown")

	clock.Advance(time.Second)
	assert.True(t, b.Available(ctx, probe))
	assert.Equal(t, int32(1), probes.Load())
	assert.Equal(t, StateClosed, b.State())
}

func TestAvailable_FailedProbeRefreshesTimestamp(t *testing.T) {
	clock := newFakeClock()
	b := New(&Config{Threshold: 1, Cooldown: time.Minute, Clock: clock.Now}, zap.NewNop())
	ctx := context.Background()

	_ = b.Call(ctx, failing)
	clock.Advance(time.Minute)

	assert.False(t, b.Available(ctx, failing))
	assert.Equal(t, StateOpen, b.State())
	snap := b.Snapshot()
	require.NotNil(t, snap.LastFailureAt)
	assert.Equal(t, clock.Now(), *snap.LastFailureAt)

	// 冷却重新计时
	clock.Advance(30 * time.Second)
	var probes atomic.Int32
	assert.False(t, b.Available(ctx, func(context.Context) error {
		probes.Add(1)
		return nil
	}))
	assert.Zero(t, probes.Load())
}

func TestAvailable_SingleProbeUnderConcurrency(t *testing.T) {
	clock := newFakeClock()
	b := New(&Config{Threshold: 1, Cooldown: time.Minute, Timeout: time.Second, Clock: clock.Now}, zap.NewNop())
	ctx := context.Background()

	_ = b.Call(ctx, failing)
	clock.Advance(time.Minute)

	release := make(chan struct{})
	var probes atomic.Int32
	probe := func(context.Context) error {
		probes.Add(1)
		<-release
		return nil
	}

	var wg sync.WaitGroup
	var trueCount atomic.Int32
	started := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(started)
		if b.Available(ctx, probe) {
			trueCount.Add(1)
		}
	}()
	<-started
	require.Eventually(t, func() bool { return probes.Load() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Available(ctx, probe) {
				trueCount.Add(1)
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), probes.Load(), "exactly one probe")
	assert.Equal(t, StateClosed, b.State())
	assert.GreaterOrEqual(t, trueCount.Load(), int32(1))
}

func TestReset(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []State
	)
	b := New(&Config{
		Threshold: 1,
		OnStateChange: func(_, to State) {
			mu.Lock()
			transitions = append(transitions, to)
			mu.Unlock()
		},
	}, zap.NewNop())

	_ = b.Call(context.Background(), failing)
	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.Nil(t, b.Snapshot().LastFailureAt)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 2
	}, time.Second, time.Millisecond)
}

// ---------------------------------------------------------------------------
// Do
// ---------------------------------------------------------------------------

func TestDo(t *testing.T) {
	b := New(nil, zap.NewNop())

	v, err := Do(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = Do(context.Background(), b, func(context.Context) (int, error) { return 7, errStore })
	assert.ErrorIs(t, err, errStore)
	assert.Zero(t, v)
}

// ---------------------------------------------------------------------------
// Property: N 次连续失败后在冷却期内始终不可用，冷却后恰好一次探测
// ---------------------------------------------------------------------------

func TestProperty_UnavailableUntilCooldown(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		threshold := rapid.IntRange(1, 5).Draw(rt, "threshold")
		cooldown := time.Duration(rapid.IntRange(1, 300).Draw(rt, "cooldown_s")) * time.Second
		checks := rapid.SliceOfN(rapid.IntRange(0, 10_000), 1, 20).Draw(rt, "advance_ms")

		clock := newFakeClock()
		b := New(&Config{Threshold: threshold, Cooldown: cooldown, Clock: clock.Now}, nil)
		ctx := context.Background()

		for i := 0; i < threshold; i++ {
			_ = b.Call(ctx, failing)
		}
		if b.State() != StateOpen {
			rt.Fatalf("expected open after %d failures", threshold)
		}

		openedAt := clock.Now()
		var probes int
		probe := func(context.Context) error {
			probes++
			return nil
		}
		for _, step := range checks {
			clock.Advance(time.Duration(step) * time.Millisecond)
			got := b.Available(ctx, probe)
			elapsed := clock.Now().Sub(openedAt)
			if elapsed < cooldown && (got || probes > 0) {
				rt.Fatalf("available inside cooldown: elapsed=%s cooldown=%s", elapsed, cooldown)
			}
			if elapsed >= cooldown {
				if !got || probes != 1 {
					rt.Fatalf("expected exactly one successful probe, got available=%v probes=%d", got, probes)
				}
			}
		}
	})
}
