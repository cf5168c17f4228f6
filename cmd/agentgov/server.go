package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentgov/api/handlers"
	"github.com/BaSui01/agentgov/config"
	"github.com/BaSui01/agentgov/governance"
	"github.com/BaSui01/agentgov/governance/budget"
	"github.com/BaSui01/agentgov/governance/circuitbreaker"
	"github.com/BaSui01/agentgov/governance/cost"
	"github.com/BaSui01/agentgov/governance/ctxcache"
	"github.com/BaSui01/agentgov/governance/downstream"
	"github.com/BaSui01/agentgov/governance/ledger"
	"github.com/BaSui01/agentgov/governance/params"
	"github.com/BaSui01/agentgov/governance/ratelimit"
	"github.com/BaSui01/agentgov/governance/store"
	"github.com/BaSui01/agentgov/internal/cache"
	"github.com/BaSui01/agentgov/internal/database"
	"github.com/BaSui01/agentgov/internal/metrics"
	"github.com/BaSui01/agentgov/internal/migration"
	"github.com/BaSui01/agentgov/internal/pool"
	"github.com/BaSui01/agentgov/internal/server"
	"github.com/BaSui01/agentgov/internal/telemetry"
)

const (
	routeInvoke     = "/api/v1/assistant/invoke"
	routeBudget     = "/api/v1/assistant/budget"
	routeInvalidate = "/api/v1/assistant/context/invalidate"
	routeReset      = "/api/v1/assistant/ratelimit/reset"
)

// skipAuthPaths 免认证的探针路径
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装治理组件并管理 HTTP 与 Metrics 两个监听端口
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	metrics   *metrics.Collector
	telemetry *telemetry.Providers
	tracker   *telemetry.ErrorTracker

	db         *database.PoolManager
	cache      *cache.Manager
	fallback   *cache.MemoryStore
	background *pool.BackgroundPool
	store      *store.Store

	schemas    *params.Reloader
	governor   *governance.Governor
	governance *handlers.GovernanceHandler
	health     *handlers.HealthHandler

	httpManager    *server.Manager
	metricsManager *server.Manager

	throttleCancel context.CancelFunc
}

// NewServer 按配置构建全部组件。数据库不可达或迁移失败时返回错误；
// 网络缓存不可达不影响启动，由熔断器降级到进程内存储。
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	s.metrics = metrics.NewCollector("agentgov", logger)

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers

	tracker, err := telemetry.NewErrorTracker(cfg.Telemetry, cfg.Governance.Environment, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize error tracking", zap.Error(err))
	}
	s.tracker = tracker

	if err := s.initDatabase(ctx); err != nil {
		s.close()
		return nil, err
	}

	if err := s.initGovernance(); err != nil {
		s.close()
		return nil, err
	}

	s.initHTTP()
	return s, nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initDatabase 打开账本数据库，按需执行迁移
func (s *Server) initDatabase(ctx context.Context) error {
	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return err
	}

	pm, err := database.NewPoolManager("ledger", db, database.PoolConfigFrom(s.cfg.Database), s.metrics, s.logger)
	if err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return err
	}
	s.db = pm

	if !s.cfg.Database.AutoMigrate {
		return nil
	}

	dbType, err := migration.ParseDatabaseType(s.cfg.Database.Driver)
	if err != nil {
		return err
	}
	m, err := migration.NewWithDB(pm.SQLDB(), dbType, s.logger)
	if err != nil {
		return fmt.Errorf("failed to prepare migrations: %w", err)
	}
	// 迁移器与连接池共享 *sql.DB，这里不关闭迁移器
	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	s.logger.Info("ledger schema up to date")
	return nil
}

// initGovernance 组装缓存、熔断器与治理流水线
func (s *Server) initGovernance() error {
	g := s.cfg.Governance

	loc, err := g.Location()
	if err != nil {
		return err
	}

	s.fallback = cache.NewMemoryStore(s.logger, cache.WithJanitor(time.Minute))
	backend := s.cacheBackend()
	s.background = pool.NewBackgroundPool(pool.Config{
		MaxWorkers: g.Background.Workers,
		QueueSize:  g.Background.QueueSize,
	}, s.backgroundErrors())

	breaker := circuitbreaker.New(&circuitbreaker.Config{
		Threshold:     g.Breaker.Threshold,
		Timeout:       g.Breaker.Timeout,
		Cooldown:      g.Breaker.Cooldown,
		OnStateChange: store.ObserveBreaker("redis", s.metrics, s.logger),
	}, s.logger)

	s.store = store.New(backend, breaker, s.logger,
		store.WithFallback(s.fallback),
		store.WithBackground(s.background),
		store.WithMetrics(s.metrics),
	)

	db := s.db.DB()
	calendar := ledger.NewCalendar(loc, time.Now)
	ledgerStore := ledger.NewGormStore(db, s.metrics, s.logger)

	limiter := ratelimit.New(ratelimit.StoreProvider(s.store), ratelimit.ConfigFrom(g), s.metrics, s.logger)

	enforcer := budget.New(ledgerStore, calendar, budget.LimitsFrom(g.Budget), s.metrics, s.logger)
	enforcer.OnAlert(func(a budget.Alert) {
		s.logger.Warn("budget alert",
			zap.String("type", string(a.Type)),
			zap.String("organization_id", a.OrganizationID),
			zap.String("user_id", a.UserID),
			zap.Float64("utilization", a.Current),
		)
	})

	contexts := ctxcache.New(s.store, ctxcache.NewGormSource(db), ctxcache.TTLsFrom(g.ContextCache), s.metrics, s.logger)

	pricing := cost.PricingFrom(g.Pricing, s.logger)
	recorder := cost.NewRecorder(pricing, ledgerStore, calendar, s.metrics, s.logger)
	estimator := cost.NewEstimator(pricing, g.Estimation.Encoding, g.Estimation.ExpectedOutputTokens, s.logger)

	reloader, err := loadSchemas(g.SchemasPath, s.logger)
	if err != nil {
		return err
	}
	s.schemas = reloader
	var schemas params.Lookuper = params.Registry{}
	if reloader != nil {
		schemas = reloader
	}

	s.governor = governance.New(governance.Components{
		Limiter:   limiter,
		Budget:    enforcer,
		Contexts:  contexts,
		Recorder:  recorder,
		Estimator: estimator,
		Schemas:   schemas,
	}, s.metrics, s.logger, governance.WithLocation(loc))

	var operation governance.Operation
	if g.Downstream.URL != "" {
		operation = downstream.NewHTTPOperation(g.Downstream, s.logger)
		s.logger.Info("downstream operation configured", zap.String("url", g.Downstream.URL))
	} else {
		operation = downstream.NewEcho(estimator)
		s.logger.Warn("no downstream configured, using echo operation")
	}

	s.governance = handlers.NewGovernanceHandler(s.governor, operation, enforcer, contexts, limiter, s.logger)

	s.health = handlers.NewHealthHandler(s.logger)
	s.health.RegisterCheck(handlers.NewPingCheck("database", true, s.db.Ping))
	s.health.RegisterCheck(handlers.NewBreakerCheck("cache", s.store.Snapshot))
	return nil
}

// backgroundErrors 后台任务失败时记录日志与指标
func (s *Server) backgroundErrors() pool.ErrorHandler {
	logErr := pool.LogErrors(s.logger)
	return func(e pool.TaskError) {
		logErr(e)
		s.metrics.RecordBackgroundFailure(e.Name)
		s.tracker.CaptureError(context.Background(), e.Err, map[string]string{"task": e.Name})
	}
}

// cacheBackend 选择主存储。memory 模式下主存储与降级存储是同一个进程内存储
func (s *Server) cacheBackend() cache.Store {
	if s.cfg.Redis.Backend == config.CacheBackendMemory {
		s.logger.Warn("network cache disabled, rate limits and contexts are per-process")
		return s.fallback
	}
	s.cache = cache.NewManager(cacheConfig(s.cfg.Redis), s.logger)
	return s.cache
}

// cacheConfig 把 Redis 配置映射到缓存客户端配置
func cacheConfig(rc config.RedisConfig) cache.Config {
	c := cache.DefaultConfig()
	c.Addr = rc.Addr
	c.Password = rc.Password
	c.DB = rc.DB
	c.TLSEnabled = rc.TLSEnabled
	c.HealthCheckInterval = rc.HealthCheckInterval
	if rc.PoolSize > 0 {
		c.PoolSize = rc.PoolSize
	}
	if rc.MinIdleConns > 0 {
		c.MinIdleConns = rc.MinIdleConns
	}
	if rc.OpTimeout > 0 {
		c.OpTimeout = rc.OpTimeout
	}
	if rc.DefaultTTL > 0 {
		c.DefaultTTL = rc.DefaultTTL
	}
	return c
}

// loadSchemas 读取参数 Schema 文件，路径为空时返回 nil
func loadSchemas(path string, logger *zap.Logger) (*params.Reloader, error) {
	if path == "" {
		return nil, nil
	}
	r, err := params.NewReloader(path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas from %s: %w", path, err)
	}
	return r, nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 注册 API 与探针路由
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /healthz", s.health.HandleHealth)
	mux.HandleFunc("GET /ready", s.health.HandleReady)
	mux.HandleFunc("GET /readyz", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST "+routeInvoke, s.governance.HandleInvoke)
	mux.HandleFunc("GET "+routeBudget, s.governance.HandleBudgetStatus)
	mux.HandleFunc("POST "+routeInvalidate, s.governance.HandleInvalidateContext)
	mux.HandleFunc("POST "+routeReset, s.governance.HandleResetRateLimit)

	return mux
}

// Handler 返回带完整中间件链的 API 处理器
func (s *Server) Handler(ctx context.Context) http.Handler {
	throttleCtx, cancel := context.WithCancel(ctx)
	s.throttleCancel = cancel

	middlewares := []Middleware{
		Recovery(s.logger, s.tracker),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metrics),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		IPThrottle(throttleCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	}
	if s.cfg.JWT.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger))
	} else {
		s.logger.Warn("JWT authentication disabled, identity must come from upstream context")
	}
	return Chain(s.routes(), middlewares...)
}

// initHTTP 创建 API 与 Metrics 两个服务器管理器
func (s *Server) initHTTP() {
	s.httpManager = server.NewManager("api",
		s.Handler(context.Background()),
		server.ConfigFrom(s.cfg.Server, s.cfg.Server.HTTPPort),
		s.logger,
	)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager("metrics",
		metricsMux,
		server.ConfigFrom(s.cfg.Server, s.cfg.Server.MetricsPort),
		s.logger,
	)
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run 启动两个服务器并阻塞到 ctx 取消，随后按顺序释放资源
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	g.Go(func() error { return s.metricsManager.Run(gctx) })
	if s.schemas != nil {
		g.Go(func() error {
			// 监听失败只影响热加载，不中断服务
			if err := s.schemas.Watch(gctx); err != nil {
				s.logger.Warn("schema watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return g.Wait()
}

// close 排空后台写入后关闭缓存、数据库与遥测
func (s *Server) close() {
	s.logger.Info("Starting graceful shutdown...")

	if s.throttleCancel != nil {
		s.throttleCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	if s.background != nil {
		if err := s.background.Flush(ctx); err != nil {
			s.logger.Warn("background flush incomplete", zap.Error(err))
		}
		s.background.Close()
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("cache close error", zap.Error(err))
		}
	}
	if s.fallback != nil {
		_ = s.fallback.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("database close error", zap.Error(err))
		}
	}
	s.tracker.Flush(2 * time.Second)
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.Server.ShutdownTimeout > 0 {
		return s.cfg.Server.ShutdownTimeout
	}
	return 15 * time.Second
}
