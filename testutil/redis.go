package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
)

// NewMiniRedis 启动进程内 Redis，测试结束时关闭。
// 调用 Close 或 SetError 可模拟网络缓存故障。
func NewMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr
}
