package testutil

import (
	"sync"
	"time"
)

// Clock 手动推进的时钟，并发安全
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock 创建停在 start 的时钟
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now 当前时间，可直接作为 func() time.Time 注入
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 向前推进
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set 跳到指定时间
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
