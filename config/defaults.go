// =============================================================================
// 📦 AgentGov 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Redis:      DefaultRedisConfig(),
		Database:   DefaultDatabaseConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		JWT:        DefaultJWTConfig(),
		Governance: DefaultGovernanceConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		OpTimeout:    500 * time.Millisecond,
		DefaultTTL:   5 * time.Minute,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "agentgov",
		Password:        "",
		Name:            "agentgov",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentgov",
		SampleRate:   0.1,
	}
}

// DefaultJWTConfig 返回默认 JWT 配置
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{Enabled: false}
}

// DefaultGovernanceConfig 返回默认治理配置
func DefaultGovernanceConfig() GovernanceConfig {
	return GovernanceConfig{
		Environment: "development",
		Breaker: BreakerConfig{
			Threshold: 1,
			Timeout:   500 * time.Millisecond,
			Cooldown:  60 * time.Second,
		},
		RateLimits: RateLimitRules{
			"assistant_chat":   {Limit: 20, Window: 60 * time.Second},
			"assistant_report": {Limit: 5, Window: time.Hour},
		},
		DefaultRateLimit: RateLimitRule{Limit: 60, Window: 60 * time.Second},
		Budget: BudgetConfig{
			OrgDailyLimitCents:  10000,
			UserDailyLimitCents: 2000,
			Timezone:            "UTC",
		},
		ContextCache: ContextCacheConfig{
			UserTTL: 300 * time.Second,
			OrgTTL:  3600 * time.Second,
		},
		Estimation: EstimationConfig{
			ExpectedOutputTokens: 500,
			Encoding:             "cl100k_base",
		},
		Downstream: DownstreamConfig{
			Timeout: 2 * time.Minute,
		},
		Background: BackgroundConfig{
			Workers:   16,
			QueueSize: 1024,
		},
	}
}
