package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/agentgov/config"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return mockDB, mock, gormDB
}

var testPool = PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Hour}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager("ledger", gormDB, testPool, nil, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, gormDB, manager.DB())
	assert.Equal(t, mockDB, manager.SQLDB())
	assert.Equal(t, 10, manager.Stats().MaxOpenConnections)

	_, err = NewPoolManager("ledger", nil, testPool, nil, nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager("ledger", gormDB, testPool, nil, nil)
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.ErrorIs(t, manager.Ping(context.Background()), sql.ErrConnDone)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_Close(t *testing.T) {
	_, mock, gormDB := setupTestDB(t)

	cfg := testPool
	cfg.HealthCheckInterval = time.Hour
	manager, err := NewPoolManager("ledger", gormDB, cfg, nil, nil)
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	// 重复关闭无副作用
	require.NoError(t, manager.Close())

	assert.ErrorIs(t, manager.Ping(context.Background()), ErrPoolClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_HealthCheckLoop(t *testing.T) {
	_, mock, gormDB := setupTestDB(t)

	cfg := testPool
	cfg.HealthCheckInterval = 10 * time.Millisecond
	mock.ExpectPing()

	manager, err := NewPoolManager("ledger", gormDB, cfg, nil, zap.NewNop())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 5*time.Millisecond)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{"valid", PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, false},
		{"zero idle", PoolConfig{MaxOpenConns: 10}, false},
		{"no open conns", PoolConfig{MaxIdleConns: 5}, true},
		{"negative idle", PoolConfig{MaxOpenConns: 10, MaxIdleConns: -1}, true},
		{"idle exceeds open", PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPoolConfigFrom(t *testing.T) {
	cfg := PoolConfigFrom(config.DefaultDatabaseConfig())
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, 5*time.Minute, cfg.ConnMaxLifetime)
	assert.NoError(t, cfg.Validate())
}

// =============================================================================
// 🧪 Open 测试
// =============================================================================

func TestDialector(t *testing.T) {
	tests := []struct {
		driver  string
		name    string
		dialect string
		wantErr bool
	}{
		{"postgres", "agentgov", "postgres", false},
		{"mysql", "agentgov", "mysql", false},
		{"sqlite", "/tmp/ledger.db", "sqlite", false},
		{"sqlite", "", "", true},
		{"", "agentgov", "", true},
		{"oracle", "agentgov", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.driver+"/"+tt.name, func(t *testing.T) {
			cfg := config.DefaultDatabaseConfig()
			cfg.Driver = tt.driver
			cfg.Name = tt.name

			d, err := Dialector(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, d.Name())
		})
	}
}

func TestOpen_SQLite(t *testing.T) {
	cfg := config.DatabaseConfig{Driver: "sqlite", Name: ":memory:", MaxOpenConns: 1}

	db, err := Open(cfg, nil)
	require.NoError(t, err)

	manager, err := NewPoolManager("ledger", db, PoolConfigFrom(cfg), nil, nil)
	require.NoError(t, err)
	defer manager.Close()

	require.NoError(t, manager.Ping(context.Background()))
	var one int
	require.NoError(t, db.Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}
