package migration

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/BaSui01/agentgov/config"
)

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"postgresql", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"mysql", DatabaseTypeMySQL, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite", DatabaseTypeSQLite, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{" POSTGRES ", DatabaseTypePostgres, false},
		{"mongodb", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestDSN(t *testing.T) {
	cfg := config.DefaultDatabaseConfig()

	dbType, dsn, err := DSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, DatabaseTypePostgres, dbType)
	assert.Contains(t, dsn, "dbname=agentgov")

	cfg.Driver = "mariadb"
	dbType, dsn, err = DSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, DatabaseTypeMySQL, dbType)
	assert.Contains(t, dsn, "parseTime=true&multiStatements=true")

	cfg.Driver = "sqlite3"
	cfg.Name = "/var/lib/agentgov/ledger.db"
	_, dsn, err = DSN(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/agentgov/ledger.db", dsn)

	cfg.Driver = "oracle"
	_, _, err = DSN(cfg)
	assert.Error(t, err)
}

func TestAvailableMigrations(t *testing.T) {
	for _, dbType := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite} {
		t.Run(string(dbType), func(t *testing.T) {
			files, err := available(dbType)
			require.NoError(t, err)
			require.NotEmpty(t, files)
			assert.Equal(t, uint(1), files[0].Version)
			assert.Equal(t, "create_cost_records", files[0].Name)
		})
	}
}

func newSQLiteMigrator(t *testing.T) (*Migrator, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	cfg := config.DatabaseConfig{Driver: "sqlite", Name: path}

	m, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, path
}

func tableExists(t *testing.T, path string) bool {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'cost_records'`).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestMigrator_SQLiteUpDown(t *testing.T) {
	m, path := newSQLiteMigrator(t)
	ctx := context.Background()

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	assert.True(t, tableExists(t, path))

	// 重复执行不报错
	require.NoError(t, m.Up(ctx))

	statuses, err := m.Status()
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Applied)

	require.NoError(t, m.Down(ctx))
	assert.False(t, tableExists(t, path))

	version, _, err = m.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestMigrator_NewWithDBKeepsConnection(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "shared.db"))
	require.NoError(t, err)
	defer db.Close()

	m, err := NewWithDB(db, DatabaseTypeSQLite, nil)
	require.NoError(t, err)
	require.NoError(t, m.Up(context.Background()))
	require.NoError(t, m.Close())

	// 外部连接仍然可用
	_, err = db.Exec(`INSERT INTO cost_records (id, organization_id, model, cost_cents, usage_date) VALUES ('r1', 'org-1', 'm', 5, '2024-03-15')`)
	assert.NoError(t, err)
}

func TestNewWithDB_Errors(t *testing.T) {
	_, err := NewWithDB(nil, DatabaseTypeSQLite, nil)
	assert.Error(t, err)

	_, err = New(config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)
}

func TestCLI(t *testing.T) {
	m, _ := newSQLiteMigrator(t)
	var out bytes.Buffer
	cli := NewCLI(m, &out)
	ctx := context.Background()

	require.NoError(t, cli.Run(ctx, "version", nil))
	assert.Contains(t, out.String(), "No migrations applied yet.")

	out.Reset()
	require.NoError(t, cli.Run(ctx, "up", nil))
	assert.Contains(t, out.String(), "Current version: 1")

	out.Reset()
	require.NoError(t, cli.Run(ctx, "status", nil))
	assert.Contains(t, out.String(), "create_cost_records")
	assert.Contains(t, out.String(), "Applied")
	assert.Contains(t, out.String(), "Total: 1, Applied: 1, Pending: 0")

	out.Reset()
	require.NoError(t, cli.Run(ctx, "steps", []string{"-1"}))
	assert.Contains(t, out.String(), "No migrations applied yet.")

	assert.Error(t, cli.Run(ctx, "steps", nil))
	assert.Error(t, cli.Run(ctx, "force", []string{"x"}))
	assert.Error(t, cli.Run(ctx, "sideways", nil))
}
