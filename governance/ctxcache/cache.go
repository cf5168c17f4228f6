package ctxcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/agentgov/config"
	"github.com/BaSui01/agentgov/internal/metrics"
	"github.com/BaSui01/agentgov/types"
)

const (
	DefaultUserTTL = 300 * time.Second
	DefaultOrgTTL  = 3600 * time.Second

	// DefaultFetchTimeout 共享回源的超时，与发起者的取消无关
	DefaultFetchTimeout = 5 * time.Second
)

// ErrNotFound 数据源中不存在该实体
var ErrNotFound = errors.New("context not found")

// UserContext 身份快照
type UserContext struct {
	UserID      string   `json:"user_id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// HasPermission 是否拥有权限
func (u *UserContext) HasPermission(p string) bool {
	for _, have := range u.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// OrgContext 组织快照
type OrgContext struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Timezone     string         `json:"timezone"`
	Locale       string         `json:"locale"`
	BaseCurrency string         `json:"base_currency"`
	Settings     types.Metadata `json:"settings,omitempty"`
}

// Location 组织时区，无效或为空时返回 fallback
func (o *OrgContext) Location(fallback *time.Location) *time.Location {
	if o == nil || o.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(o.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// Source 上下文的权威数据源
type Source interface {
	User(ctx context.Context, userID string) (*UserContext, error)
	Organization(ctx context.Context, orgID string) (*OrgContext, error)
}

// Backend 缓存存储，由熔断保护的 store.Store 实现
type Backend interface {
	Get(ctx context.Context, key string) (string, bool)
	SetAsyncIf(key, value string, ttl time.Duration, valid func() bool)
	Delete(ctx context.Context, keys ...string)
}

// TTLs 实体 TTL
type TTLs struct {
	User time.Duration
	Org  time.Duration
}

// TTLsFrom 从配置读取 TTL
func TTLsFrom(cfg config.ContextCacheConfig) TTLs {
	return TTLs{User: cfg.UserTTL, Org: cfg.OrgTTL}
}

// Cache 上下文缓存
type Cache struct {
	backend Backend
	source  Source
	ttls    TTLs
	group   singleflight.Group
	// epoch 每次失效递增。回源开始后发生过失效，则放弃回写
	epoch        atomic.Uint64
	fetchTimeout time.Duration
	metrics      *metrics.Collector
	logger       *zap.Logger
}

// New 创建上下文缓存。非正数 TTL 替换为默认值并记录告警。
func New(backend Backend, source Source, ttls TTLs, collector *metrics.Collector, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "context_cache"))
	if ttls.User <= 0 {
		logger.Warn("invalid user context TTL, using default", zap.Duration("configured", ttls.User))
		ttls.User = DefaultUserTTL
	}
	if ttls.Org <= 0 {
		logger.Warn("invalid organization context TTL, using default", zap.Duration("configured", ttls.Org))
		ttls.Org = DefaultOrgTTL
	}
	return &Cache{
		backend:      backend,
		source:       source,
		ttls:         ttls,
		fetchTimeout: DefaultFetchTimeout,
		metrics:      collector,
		logger:       logger,
	}
}

// UserKey 身份快照的缓存键
func UserKey(userID string) string { return "ctx:user:" + userID }

// OrgKey 组织快照的缓存键
func OrgKey(orgID string) string { return "ctx:org:" + orgID }

// GetOrFetch 读取缓存，未命中时调用 fetch 并异步回写。
// 同一个键的并发未命中只触发一次 fetch，fetch 不随任一调用方取消，
// 调用方取消时自己提前返回。缓存中无法解析的值按未命中处理。
func GetOrFetch[T any](ctx context.Context, c *Cache, kind, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if raw, ok := c.backend.Get(ctx, key); ok {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			c.metrics.RecordCacheHit(kind)
			return v, nil
		}
		c.logger.Warn("discarding corrupt cached context", zap.String("key", key))
	}
	c.metrics.RecordCacheMiss(kind)

	ch := c.group.DoChan(key, func() (any, error) {
		epoch := c.epoch.Load()
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		v, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			c.logger.Error("failed to encode context for cache", zap.String("key", key), zap.Error(err))
			return v, nil
		}
		c.backend.SetAsyncIf(key, string(data), ttl, func() bool {
			return c.epoch.Load() == epoch
		})
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(T)
		return v, nil
	}
}

// User 身份快照
func (c *Cache) User(ctx context.Context, userID string) (*UserContext, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrNotFound)
	}
	return GetOrFetch(ctx, c, "user_context", UserKey(userID), c.ttls.User, func(ctx context.Context) (*UserContext, error) {
		return c.source.User(ctx, userID)
	})
}

// Organization 组织快照
func (c *Cache) Organization(ctx context.Context, orgID string) (*OrgContext, error) {
	if orgID == "" {
		return nil, fmt.Errorf("%w: empty organization id", ErrNotFound)
	}
	return GetOrFetch(ctx, c, "org_context", OrgKey(orgID), c.ttls.Org, func(ctx context.Context) (*OrgContext, error) {
		return c.source.Organization(ctx, orgID)
	})
}

// InvalidateUser 删除身份快照
func (c *Cache) InvalidateUser(ctx context.Context, userID string) {
	c.invalidate(ctx, UserKey(userID))
}

// InvalidateOrganization 删除组织快照
func (c *Cache) InvalidateOrganization(ctx context.Context, orgID string) {
	c.invalidate(ctx, OrgKey(orgID))
}

// invalidate 先让进行中的回源失效，再删除缓存。
// epoch 是全局的，失效期间其它键的回写也会被放弃，只多一次未命中。
// 回写任务在检查 epoch 之后、写入之前的极短窗口内仍可能与删除交错。
func (c *Cache) invalidate(ctx context.Context, keys ...string) {
	c.epoch.Add(1)
	for _, k := range keys {
		c.group.Forget(k)
	}
	c.backend.Delete(ctx, keys...)
}

// InvalidateOrganizationMembers 删除组织快照以及列出的成员身份快照
func (c *Cache) InvalidateOrganizationMembers(ctx context.Context, orgID string, userIDs []string) {
	keys := make([]string, 0, len(userIDs)+1)
	keys = append(keys, OrgKey(orgID))
	for _, id := range userIDs {
		if id != "" {
			keys = append(keys, UserKey(id))
		}
	}
	c.invalidate(ctx, keys...)
	c.logger.Info("context invalidated",
		zap.String("organization_id", orgID),
		zap.Int("users", len(keys)-1),
	)
}
