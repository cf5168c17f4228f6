package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 关闭状态（使用后端存储）
	StateClosed State = iota
	// StateOpen 打开状态（熔断中，使用降级存储）
	StateOpen
	// StateHalfOpen 半开状态（正在进行唯一一次探测）
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateOpen:
		return "Open"
	case StateHalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值（触发熔断）
	Threshold int

	// Timeout 单次调用超时时间，超时计为失败
	Timeout time.Duration

	// Cooldown 熔断后到下一次探测的最短间隔
	Cooldown time.Duration

	// Clock 时钟，测试注入
	Clock func() time.Time

	// OnStateChange 状态变更回调
	OnStateChange func(from State, to State)
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Threshold: 1,
		Timeout:   500 * time.Millisecond,
		Cooldown:  60 * time.Second,
	}
}

// Snapshot 熔断器状态快照
type Snapshot struct {
	Available     bool          `json:"available"`
	State         string        `json:"state"`
	FailureCount  int           `json:"failure_count"`
	LastFailureAt *time.Time    `json:"last_failure_at,omitempty"`
	Cooldown      time.Duration `json:"cooldown"`
}

// Breaker 保护一个不可靠依赖。
// 打开后在 Cooldown 内不会发起任何真实调用；冷却结束后只有一个调用方执行探测。
type Breaker struct {
	config *Config
	logger *zap.Logger

	mu              sync.Mutex
	state           State
	failureCount    int       // 连续失败次数
	lastFailureTime time.Time // 最后失败时间
}

// New 创建熔断器
func New(config *Config, logger *zap.Logger) *Breaker {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	cfg := *config

	// 参数校验
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Breaker{
		config: &cfg,
		logger: logger,
		state:  StateClosed,
	}
}

// Available 报告后端是否可用。
// 打开状态下冷却时间已过时，恰好一个调用方会执行 probe，其余调用方得到 false。
// 探测成功立即关闭熔断器；失败则保持打开并刷新失败时间。
func (b *Breaker) Available(ctx context.Context, probe func(ctx context.Context) error) bool {
	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return true
	case StateHalfOpen:
		b.mu.Unlock()
		return false
	}

	if b.config.Clock().Sub(b.lastFailureTime) < b.config.Cooldown {
		b.mu.Unlock()
		return false
	}
	b.setState(StateHalfOpen)
	b.mu.Unlock()

	b.logger.Info("熔断器冷却结束，开始探测")

	err := b.run(ctx, probe)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.logger.Info("探测成功，熔断器恢复正常")
		b.failureCount = 0
		b.setState(StateClosed)
		return true
	}

	if ctx.Err() == nil {
		b.lastFailureTime = b.config.Clock()
	}
	b.setState(StateOpen)
	b.logger.Warn("探测失败，熔断器保持打开", zap.Error(err))
	return false
}

// Call 执行一次受保护的调用。
// 熔断器未关闭时直接返回 ErrCircuitOpen，不发起调用。
// 超时计为失败；调用方自身取消不计入失败。
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	if b.state != StateClosed {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	b.mu.Unlock()

	err := b.run(ctx, fn)
	if err != nil && ctx.Err() != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failureCount = 0
		return nil
	}
	b.onFailure(err)
	return err
}

// run 在超时上限内执行 fn；fn 挂起时不会阻塞调用方
func (b *Breaker) run(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	resultCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- fmt.Errorf("protected call panicked: %v", r)
			}
		}()
		resultCh <- fn(callCtx)
	}()

	var err error
	select {
	case <-callCtx.Done():
		err = callCtx.Err()
	case err = <-resultCh:
	}

	// 以自身超时结束的调用一律按超时处理，即使 fn 在截止后返回了 nil
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s", ErrTimeout, b.config.Timeout)
	}
	return err
}

// onFailure 处理失败调用，调用方持有锁
func (b *Breaker) onFailure(err error) {
	b.failureCount++
	b.lastFailureTime = b.config.Clock()

	if b.state == StateClosed && b.failureCount >= b.config.Threshold {
		b.logger.Warn("熔断器打开",
			zap.Int("failure_count", b.failureCount),
			zap.Int("threshold", b.config.Threshold),
			zap.Duration("cooldown", b.config.Cooldown),
			zap.Error(err),
		)
		b.setState(StateOpen)
	}
}

// setState 设置状态并触发回调，调用方持有锁
func (b *Breaker) setState(newState State) {
	oldState := b.state
	if oldState == newState {
		return
	}
	b.state = newState

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(oldState, newState)
	}
}

// State 获取当前状态
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Cooldown 返回冷却时间
func (b *Breaker) Cooldown() time.Duration {
	return b.config.Cooldown
}

// Snapshot 返回当前状态快照，不触发探测
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Available:    b.state == StateClosed,
		State:        b.state.String(),
		FailureCount: b.failureCount,
		Cooldown:     b.config.Cooldown,
	}
	if !b.lastFailureTime.IsZero() {
		t := b.lastFailureTime
		s.LastFailureAt = &t
	}
	return s
}

// Reset 重置熔断器（手动恢复）
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	oldState := b.state
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
	b.setState(StateClosed)

	b.logger.Info("熔断器已重置",
		zap.String("from_state", oldState.String()),
	)
}

// 错误定义
var (
	ErrCircuitOpen = errors.New("熔断器已打开")
	ErrTimeout     = errors.New("调用超时")
)
