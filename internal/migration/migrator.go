package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgov/config"
)

//go:embed migrations
var migrationsFS embed.FS

// DefaultTable 迁移版本表
const DefaultTable = "schema_migrations"

// DatabaseType 数据库方言
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// ParseDatabaseType 解析方言名称
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", s)
	}
}

// sqlDriver database/sql 驱动名
func (t DatabaseType) sqlDriver() string {
	if t == DatabaseTypeSQLite {
		return "sqlite"
	}
	return string(t)
}

// dir 内嵌迁移文件目录
func (t DatabaseType) dir() string {
	return "migrations/" + string(t)
}

// DSN 迁移连接串。MySQL 需要 multiStatements。
func DSN(cfg config.DatabaseConfig) (DatabaseType, string, error) {
	t, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return "", "", err
	}
	c := cfg
	c.Driver = string(t)
	dsn := c.DSN()
	if t == DatabaseTypeMySQL {
		dsn += "&multiStatements=true"
	}
	return t, dsn, nil
}

// MigrationStatus 单个迁移的状态
type MigrationStatus struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Dirty   bool   `json:"dirty"`
}

// =============================================================================
// 🗄️ Migrator
// =============================================================================

// Migrator 基于 golang-migrate 的迁移器
type Migrator struct {
	dbType  DatabaseType
	migrate *migrate.Migrate
	source  source.Driver
	// ownsDB 由 New 打开的连接在 Close 时关闭
	ownsDB bool
	logger *zap.Logger
}

// New 按数据库配置打开独立连接并创建迁移器
func New(cfg config.DatabaseConfig, logger *zap.Logger) (*Migrator, error) {
	dbType, dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dbType.sqlDriver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m, err := NewWithDB(db, dbType, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	m.ownsDB = true
	return m, nil
}

// NewWithDB 在已有连接上创建迁移器，Close 不会关闭 db
func NewWithDB(db *sql.DB, dbType DatabaseType, logger *zap.Logger) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	driver, err := databaseDriver(db, dbType)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, dbType.dir())
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	mg, err := migrate.NewWithInstance("iofs", src, string(dbType), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &Migrator{
		dbType:  dbType,
		migrate: mg,
		source:  src,
		logger:  logger.With(zap.String("component", "migration"), zap.String("database", string(dbType))),
	}, nil
}

func databaseDriver(db *sql.DB, dbType DatabaseType) (database.Driver, error) {
	switch dbType {
	case DatabaseTypePostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: DefaultTable})
	case DatabaseTypeMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: DefaultTable})
	case DatabaseTypeSQLite:
		return sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: DefaultTable})
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Up 执行所有待执行的迁移
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.run(ctx, m.migrate.Up); err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Down 回滚最近一次迁移
func (m *Migrator) Down(ctx context.Context) error {
	return m.Steps(ctx, -1)
}

// Steps 正数前进、负数回滚 n 步
func (m *Migrator) Steps(ctx context.Context, n int) error {
	if err := m.run(ctx, func() error { return m.migrate.Steps(n) }); err != nil {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return nil
}

// Force 强制设置版本，不执行迁移
func (m *Migrator) Force(version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	m.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

// Version 当前版本，未执行过迁移时返回 0
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

// Status 所有内嵌迁移的状态
func (m *Migrator) Status() ([]MigrationStatus, error) {
	current, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	files, err := available(m.dbType)
	if err != nil {
		return nil, err
	}
	for i := range files {
		files[i].Applied = files[i].Version <= current
		files[i].Dirty = dirty && files[i].Version == current
	}
	return files, nil
}

// Close 释放迁移器，New 打开的连接一并关闭
func (m *Migrator) Close() error {
	// 关闭数据库驱动会关闭底层连接，外部连接只关闭迁移源
	if !m.ownsDB {
		return m.source.Close()
	}
	srcErr, dbErr := m.migrate.Close()
	return errors.Join(srcErr, dbErr)
}

// run 执行迁移操作并支持取消。ErrNoChange 不视为错误。
func (m *Migrator) run(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		if errors.Is(err, migrate.ErrNoChange) {
			m.logger.Info("no migrations to apply")
			return nil
		}
		if err == nil {
			version, _, _ := m.Version()
			m.logger.Info("migrations applied", zap.Uint("version", version))
		}
		return err
	case <-ctx.Done():
		m.migrate.GracefulStop <- true
		<-done
		return ctx.Err()
	}
}

// available 读取内嵌的迁移文件，按版本排序
func available(dbType DatabaseType) ([]MigrationStatus, error) {
	entries, err := fs.ReadDir(migrationsFS, dbType.dir())
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var out []MigrationStatus
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		// 000001_create_cost_records.up.sql
		version, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(version, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, MigrationStatus{Version: uint(v), Name: strings.TrimSuffix(rest, ".up.sql")})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
