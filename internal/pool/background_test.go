package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errorSink struct {
	mu   sync.Mutex
	errs []TaskError
}

func (s *errorSink) handle(e TaskError) {
	s.mu.Lock()
	s.errs = append(s.errs, e)
	s.mu.Unlock()
}

func (s *errorSink) all() []TaskError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]TaskError(nil), s.errs...)
}

func TestBackgroundPool_RunsTasks(t *testing.T) {
	p := NewBackgroundPool(Config{MaxWorkers: 4}, nil)
	defer p.Close()

	var n atomic.Int64
	for i := 0; i < 100; i++ {
		p.Go("incr", func(context.Context) error {
			n.Add(1)
			return nil
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Flush(ctx))
	assert.Equal(t, int64(100), n.Load())
	assert.Equal(t, int64(100), p.Stats().Completed)
}

func TestBackgroundPool_ErrorsReachHandler(t *testing.T) {
	sink := &errorSink{}
	p := NewBackgroundPool(Config{MaxWorkers: 2}, sink.handle)

	boom := errors.New("boom")
	p.Go("fails", func(context.Context) error { return boom })
	p.Go("panics", func(context.Context) error { panic("bad") })

	p.Close()

	errs := sink.all()
	require.Len(t, errs, 2)
	names := map[string]error{}
	for _, e := range errs {
		names[e.Name] = e.Err
	}
	assert.ErrorIs(t, names["fails"], boom)
	assert.ErrorIs(t, names["panics"], ErrTaskPanic)
	assert.Equal(t, int64(2), p.Stats().Failed)
}

func TestBackgroundPool_NeverBlocksWhenFull(t *testing.T) {
	sink := &errorSink{}
	p := NewBackgroundPool(Config{MaxWorkers: 1, QueueSize: 1}, sink.handle)

	release := make(chan struct{})
	block := func(context.Context) error {
		<-release
		return nil
	}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			p.Go("block", block)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Go blocked the caller")
	}

	close(release)
	p.Close()

	assert.Positive(t, p.Stats().Rejected)
	for _, e := range sink.all() {
		assert.ErrorIs(t, e.Err, ErrPoolFull)
	}
}

func TestBackgroundPool_DetachedFromCaller(t *testing.T) {
	p := NewBackgroundPool(Config{TaskTimeout: time.Second}, nil)
	defer p.Close()

	var sawErr atomic.Value
	p.Go("ctx", func(ctx context.Context) error {
		sawErr.Store(ctx.Err() == nil)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Flush(ctx))
	assert.Equal(t, true, sawErr.Load())
}

func TestBackgroundPool_AfterClose(t *testing.T) {
	sink := &errorSink{}
	p := NewBackgroundPool(Config{}, sink.handle)
	p.Close()
	p.Close()

	p.Go("late", func(context.Context) error { return nil })

	errs := sink.all()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0].Err, ErrPoolClosed)
}
