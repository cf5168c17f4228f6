package params

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Lookuper 按操作名查找 Schema
type Lookuper interface {
	Lookup(operation string) (Schema, bool)
}

var (
	_ Lookuper = Registry(nil)
	_ Lookuper = (*Reloader)(nil)
)

// =============================================================================
// 🔄 Schema 热加载
// =============================================================================

// Reloader 持有从文件加载的 Registry，文件变更后原子替换。
// 新文件解析失败时保留上一份 Registry。
type Reloader struct {
	path     string
	debounce time.Duration
	current  atomic.Pointer[Registry]
	logger   *zap.Logger
}

// NewReloader 立即加载一次，首次加载失败直接返回错误
func NewReloader(path string, logger *zap.Logger) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reloader{
		path:     path,
		debounce: 100 * time.Millisecond,
		logger:   logger.With(zap.String("component", "schema_reloader"), zap.String("path", path)),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Lookup 读取当前 Registry
func (r *Reloader) Lookup(operation string) (Schema, bool) {
	return r.Registry().Lookup(operation)
}

// Registry 当前快照
func (r *Reloader) Registry() Registry {
	if reg := r.current.Load(); reg != nil {
		return *reg
	}
	return Registry{}
}

// Reload 重新读取文件
func (r *Reloader) Reload() error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open schemas: %w", err)
	}
	defer f.Close()

	reg, err := LoadRegistry(f)
	if err != nil {
		return err
	}
	r.current.Store(&reg)
	r.logger.Info("schemas loaded", zap.Int("count", len(reg)))
	return nil
}

// Watch 监听所在目录直到 ctx 取消。
// 监听目录而不是文件本身，编辑器的 rename 写入和 ConfigMap 的软链切换都能收到。
func (r *Reloader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}
	target := filepath.Base(r.path)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Base(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.debounce)
			} else {
				timer.Reset(r.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := r.Reload(); err != nil {
				r.logger.Warn("schema reload failed, keeping previous registry", zap.Error(err))
			}

		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			r.logger.Warn("watcher error", zap.Error(err))
		}
	}
}
