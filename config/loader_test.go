// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 1, cfg.Governance.Breaker.Threshold)
	assert.False(t, cfg.Governance.FailClosedEnabled())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1
  op_timeout: 250ms

governance:
  environment: production
  rate_limits:
    assistant_chat:
      limit: 40
      window: 30s
    export_pdf: "3/10m"
  budget:
    org_daily_limit_cents: 50000
    timezone: "Asia/Shanghai"
  context_cache:
    user_ttl: 2m
  pricing:
    models:
      in-house-small:
        input_per_1k: 1
        output_per_1k: 2

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, 250*time.Millisecond, cfg.Redis.OpTimeout)

	g := cfg.Governance
	assert.True(t, g.FailClosedEnabled(), "production defaults to fail closed")
	assert.Equal(t, RateLimitRule{Limit: 40, Window: 30 * time.Second}, g.RateLimits["assistant_chat"])
	assert.Equal(t, RateLimitRule{Limit: 3, Window: 10 * time.Minute}, g.RateLimits["export_pdf"])
	// 未覆盖的规则保留默认值
	assert.Equal(t, RateLimitRule{Limit: 5, Window: time.Hour}, g.RateLimits["assistant_report"])
	assert.Equal(t, int64(50000), g.Budget.OrgDailyLimitCents)
	assert.Equal(t, int64(2000), g.Budget.UserDailyLimitCents)
	assert.Equal(t, 2*time.Minute, g.ContextCache.UserTTL)
	assert.Equal(t, time.Hour, g.ContextCache.OrgTTL)
	assert.Equal(t, ModelPrice{InputPer1K: 1, OutputPer1K: 2}, g.Pricing.Models["in-house-small"])

	loc, err := g.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Shanghai", loc.String())

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"AGENTGOV_SERVER_HTTP_PORT":                         "7777",
		"AGENTGOV_REDIS_ADDR":                               "env-redis:6379",
		"AGENTGOV_LOG_LEVEL":                                "warn",
		"AGENTGOV_GOVERNANCE_FAIL_CLOSED":                   "true",
		"AGENTGOV_GOVERNANCE_BREAKER_COOLDOWN":              "30s",
		"AGENTGOV_GOVERNANCE_RATE_LIMITS":                   "assistant_chat=10/1m, bulk_export=2/1h",
		"AGENTGOV_GOVERNANCE_DEFAULT_RATE_LIMIT":            "100/1m",
		"AGENTGOV_GOVERNANCE_BUDGET_USER_DAILY_LIMIT_CENTS": "500",
		"AGENTGOV_DATABASE_AUTO_MIGRATE":                    "true",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Database.AutoMigrate)

	g := cfg.Governance
	require.NotNil(t, g.FailClosed)
	assert.True(t, g.FailClosedEnabled())
	assert.Equal(t, 30*time.Second, g.Breaker.Cooldown)
	assert.Equal(t, RateLimitRule{Limit: 10, Window: time.Minute}, g.RateLimits["assistant_chat"])
	assert.Equal(t, RateLimitRule{Limit: 2, Window: time.Hour}, g.RateLimits["bulk_export"])
	assert.Equal(t, RateLimitRule{Limit: 100, Window: time.Minute}, g.DefaultRateLimit)
	assert.Equal(t, int64(500), g.Budget.UserDailyLimitCents)
}

func TestLoader_EnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	content := "AGENTGOV_REDIS_ADDR=dotenv-redis:6379\n" +
		"AGENTGOV_GOVERNANCE_ENVIRONMENT=production\n" +
		"# comment\n" +
		"AGENTGOV_LOG_LEVEL=debug\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	// 进程环境变量优先于 .env 文件
	t.Setenv("AGENTGOV_LOG_LEVEL", "error")

	cfg, err := NewLoader().WithEnvFile(envFile).Load()
	require.NoError(t, err)

	assert.Equal(t, "dotenv-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.True(t, cfg.Governance.FailClosedEnabled())
}

func TestLoader_EnvFileMissing(t *testing.T) {
	cfg, err := NewLoader().WithEnvFile(filepath.Join(t.TempDir(), "missing.env")).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultRedisConfig().Addr, cfg.Redis.Addr)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
governance:
  environment: production
  budget:
    org_daily_limit_cents: 1234
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	// 环境变量应该覆盖 YAML
	t.Setenv("AGENTGOV_SERVER_HTTP_PORT", "9999")
	t.Setenv("AGENTGOV_GOVERNANCE_FAIL_CLOSED", "false")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	// 显式设置优先于环境推断
	assert.False(t, cfg.Governance.FailClosedEnabled())
	// YAML 值应该保留
	assert.Equal(t, int64(1234), cfg.Governance.Budget.OrgDailyLimitCents)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	t.Setenv("MYAPP_GOVERNANCE_ENVIRONMENT", "production")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.True(t, cfg.Governance.IsProduction())
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Server.HTTPPort < 1024 {
			return assert.AnError
		}
		return nil
	}

	t.Setenv("AGENTGOV_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(validator).
		Load()
	assert.Error(t, err)
}

func TestLoader_InvalidEnvValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad int", "AGENTGOV_SERVER_HTTP_PORT", "not-a-number"},
		{"bad duration", "AGENTGOV_REDIS_OP_TIMEOUT", "soon"},
		{"bad bool", "AGENTGOV_GOVERNANCE_FAIL_CLOSED", "maybe"},
		{"bad rule", "AGENTGOV_GOVERNANCE_RATE_LIMITS", "assistant_chat=20"},
		{"bad rule limit", "AGENTGOV_GOVERNANCE_DEFAULT_RATE_LIMIT", "x/1m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := NewLoader().Load()
			assert.Error(t, err)
		})
	}
}

func TestLoader_FileNotFound(t *testing.T) {
	// 文件不存在时使用默认值
	cfg, err := NewLoader().
		WithConfigPath("/nonexistent/config.yaml").
		Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }, "invalid HTTP port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, "unsupported database driver"},
		{"memory cache backend", func(c *Config) { c.Redis.Backend = CacheBackendMemory }, ""},
		{"bad cache backend", func(c *Config) { c.Redis.Backend = "memcached" }, "unsupported cache backend"},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }, "invalid log level"},
		{"bad sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "sample_rate"},
		{"jwt without key", func(c *Config) { c.JWT.Enabled = true }, "jwt enabled"},
		{"bad timezone", func(c *Config) { c.Governance.Budget.Timezone = "Mars/Olympus" }, "invalid budget timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DefaultDatabaseConfig()
	assert.Contains(t, cfg.DSN(), "host=localhost port=5432")

	cfg.Driver = "mysql"
	assert.Equal(t, "agentgov:@tcp(localhost:5432)/agentgov?parseTime=true", cfg.DSN())

	cfg.Driver = "sqlite"
	cfg.Name = "/tmp/ledger.db"
	assert.Equal(t, "/tmp/ledger.db", cfg.DSN())

	cfg.Driver = "unknown"
	assert.Empty(t, cfg.DSN())
}

func TestMustLoad_Panics(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("governance: {budget: ["), 0644))

	assert.Panics(t, func() { MustLoad(configPath) })
}
