// Package pool provides a bounded background worker pool for fire-and-forget
// work that must never block the request path.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
	ErrTaskPanic  = errors.New("task panicked")
)

// Task represents a unit of background work.
type Task func(ctx context.Context) error

// TaskError 后台任务失败记录
type TaskError struct {
	Name string
	Err  error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("background task %s: %v", e.Name, e.Err)
}

// ErrorHandler 接收后台任务的失败，不得阻塞
type ErrorHandler func(TaskError)

// BackgroundPool 执行不等待结果的后台任务。
// 调用方永远不会被阻塞：队列满或已关闭时任务被拒绝，拒绝原因同样进入错误通道。
// 任务的失败经错误通道交给 ErrorHandler，不会成为未处理错误。
type BackgroundPool struct {
	maxWorkers  int
	taskQueue   chan taskWrapper
	workerCount atomic.Int32
	activeCount atomic.Int32
	pending     atomic.Int64
	closed      atomic.Bool
	closeMu     sync.RWMutex
	wg          sync.WaitGroup

	errs     chan TaskError
	errsDone chan struct{}
	onError  ErrorHandler

	// Metrics
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	// Config
	idleTimeout time.Duration
	taskTimeout time.Duration
}

type taskWrapper struct {
	name string
	task Task
}

// Config configures the pool.
type Config struct {
	MaxWorkers  int           `yaml:"max_workers" json:"max_workers"`
	QueueSize   int           `yaml:"queue_size" json:"queue_size"`
	ErrorBuffer int           `yaml:"error_buffer" json:"error_buffer"`
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TaskTimeout time.Duration `yaml:"task_timeout" json:"task_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  16,
		QueueSize:   1024,
		ErrorBuffer: 64,
		IdleTimeout: 60 * time.Second,
		TaskTimeout: 5 * time.Second,
	}
}

// LogErrors 返回把失败写入日志的 ErrorHandler
func LogErrors(logger *zap.Logger) ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(e TaskError) {
		logger.Warn("background task failed", zap.String("task", e.Name), zap.Error(e.Err))
	}
}

// NewBackgroundPool creates a new pool. onError may be nil.
func NewBackgroundPool(config Config, onError ErrorHandler) *BackgroundPool {
	def := DefaultConfig()
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = def.MaxWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.ErrorBuffer <= 0 {
		config.ErrorBuffer = def.ErrorBuffer
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = def.TaskTimeout
	}
	if onError == nil {
		onError = func(TaskError) {}
	}

	p := &BackgroundPool{
		maxWorkers:  config.MaxWorkers,
		taskQueue:   make(chan taskWrapper, config.QueueSize),
		errs:        make(chan TaskError, config.ErrorBuffer),
		errsDone:    make(chan struct{}),
		onError:     onError,
		idleTimeout: config.IdleTimeout,
		taskTimeout: config.TaskTimeout,
	}
	go p.drainErrors()
	return p
}

// Go 提交一个后台任务，立即返回
func (p *BackgroundPool) Go(name string, task Task) {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed.Load() {
		p.rejected.Add(1)
		p.onError(TaskError{Name: name, Err: ErrPoolClosed})
		return
	}

	p.submitted.Add(1)
	p.pending.Add(1)

	wrapper := taskWrapper{name: name, task: task}

	select {
	case p.taskQueue <- wrapper:
		p.ensureWorker()
	default:
		// Queue full, try to spawn new worker
		if p.trySpawnWorker() {
			select {
			case p.taskQueue <- wrapper:
				return
			default:
			}
		}
		p.pending.Add(-1)
		p.rejected.Add(1)
		p.report(TaskError{Name: name, Err: ErrPoolFull})
	}
}

// Flush 等待所有已接受的任务完成，测试与优雅关闭使用
func (p *BackgroundPool) Flush(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for p.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (p *BackgroundPool) ensureWorker() {
	if p.workerCount.Load() < int32(p.maxWorkers) {
		p.trySpawnWorker()
	}
}

func (p *BackgroundPool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *BackgroundPool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case wrapper, ok := <-p.taskQueue:
			if !ok {
				return
			}

			p.activeCount.Add(1)
			err := p.executeTask(wrapper)
			p.activeCount.Add(-1)

			if err != nil {
				p.failed.Add(1)
				p.report(TaskError{Name: wrapper.name, Err: err})
			} else {
				p.completed.Add(1)
			}
			p.pending.Add(-1)

			timer.Reset(p.idleTimeout)

		case <-timer.C:
			// Idle timeout, keep at least one worker
			if p.workerCount.Load() > 1 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *BackgroundPool) executeTask(wrapper taskWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.taskTimeout)
	defer cancel()

	return wrapper.task(ctx)
}

// report 把失败放入错误通道；通道满时直接交给 handler
func (p *BackgroundPool) report(e TaskError) {
	select {
	case p.errs <- e:
	default:
		p.onError(e)
	}
}

func (p *BackgroundPool) drainErrors() {
	defer close(p.errsDone)
	for e := range p.errs {
		p.onError(e)
	}
}

// Close stops accepting tasks, runs the queued ones and waits for the workers.
func (p *BackgroundPool) Close() {
	p.closeMu.Lock()
	if p.closed.Swap(true) {
		p.closeMu.Unlock()
		return
	}
	close(p.taskQueue)
	p.closeMu.Unlock()

	// 队列中剩余任务需要至少一个 worker
	if len(p.taskQueue) > 0 && p.workerCount.Load() == 0 {
		p.wg.Add(1)
		p.workerCount.Add(1)
		go p.worker()
	}
	p.wg.Wait()

	close(p.errs)
	<-p.errsDone
}

// Stats returns pool statistics.
func (p *BackgroundPool) Stats() Stats {
	return Stats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.taskQueue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats contains pool statistics.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
