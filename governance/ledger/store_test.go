package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// :memory: 每个连接是独立数据库
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&CostRecord{}))
	return db
}

func ptr(s string) *string { return &s }

func seed(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	rows := []CostRecord{
		{OrganizationID: "org-1", UserID: ptr("alice"), Model: "m", CostCents: 100, UsageDate: "2024-03-14"},
		{OrganizationID: "org-1", UserID: ptr("alice"), Model: "m", CostCents: 250, UsageDate: "2024-03-15"},
		{OrganizationID: "org-1", UserID: ptr("bob"), Model: "m", CostCents: 40, UsageDate: "2024-03-15"},
		{OrganizationID: "org-1", Model: "m", CostCents: 7, UsageDate: "2024-03-15"},
		{OrganizationID: "org-1", UserID: ptr("alice"), Model: "m", CostCents: 999, UsageDate: "2024-03-16"},
		{OrganizationID: "org-2", UserID: ptr("alice"), Model: "m", CostCents: 5000, UsageDate: "2024-03-15"},
	}
	for i := range rows {
		require.NoError(t, s.Insert(ctx, &rows[i]))
	}
}

// --- 汇总语义（两种实现共用） ---

func TestStores_SumCostCents(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"gorm":   func(t *testing.T) Store { return NewGormStore(setupSQLiteDB(t), nil, zap.NewNop()) },
		"memory": func(*testing.T) Store { return NewMemoryStore() },
	}

	tests := []struct {
		name   string
		filter SumFilter
		want   int64
	}{
		{"org single day", OrgRange("org-1", "2024-03-15", "2024-03-15"), 297},
		{"user single day", UserRange("org-1", "alice", "2024-03-15", "2024-03-15"), 250},
		{"user range inclusive", UserRange("org-1", "alice", "2024-03-14", "2024-03-16"), 1349},
		{"org month", OrgRange("org-1", "2024-03-01", "2024-03-31"), 1396},
		{"other org isolated", OrgRange("org-2", "2024-03-15", "2024-03-15"), 5000},
		{"empty range", OrgRange("org-1", "2024-04-01", "2024-04-30"), 0},
		{"unknown user", UserRange("org-1", "carol", "2024-03-01", "2024-03-31"), 0},
	}

	for storeName, newStore := range stores {
		t.Run(storeName, func(t *testing.T) {
			s := newStore(t)
			seed(t, s)
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					got, err := s.SumCostCents(context.Background(), tt.filter)
					require.NoError(t, err)
					assert.Equal(t, tt.want, got)
				})
			}
		})
	}
}

func TestStores_RejectInvalidRecords(t *testing.T) {
	for name, s := range map[string]Store{
		"gorm":   NewGormStore(setupSQLiteDB(t), nil, nil),
		"memory": NewMemoryStore(),
	} {
		t.Run(name, func(t *testing.T) {
			bad := []CostRecord{
				{Model: "m", CostCents: 1, UsageDate: "2024-03-15"},
				{OrganizationID: "o", CostCents: 1, UsageDate: "2024-03-15"},
				{OrganizationID: "o", Model: "m", CostCents: -1, UsageDate: "2024-03-15"},
				{OrganizationID: "o", Model: "m", InputTokens: -5, UsageDate: "2024-03-15"},
				{OrganizationID: "o", Model: "m", UsageDate: "15/03/2024"},
			}
			for i := range bad {
				err := s.Insert(context.Background(), &bad[i])
				assert.ErrorIs(t, err, ErrInvalidRecord)
			}
		})
	}
}

func TestGormStore_InsertAssignsID(t *testing.T) {
	db := setupSQLiteDB(t)
	s := NewGormStore(db, nil, nil)

	rec := &CostRecord{
		OrganizationID:  "org-1",
		Model:           "claude-3-5-sonnet",
		InputTokens:     1000,
		OutputTokens:    500,
		CacheReadTokens: 500,
		CostCents:       9,
		UsageDate:       "2024-03-15",
		RequestID:       "req-1",
	}
	require.NoError(t, s.Insert(context.Background(), rec))
	assert.Len(t, rec.ID, 36)

	var stored CostRecord
	require.NoError(t, db.First(&stored, "id = ?", rec.ID).Error)
	assert.Equal(t, int64(9), stored.CostCents)
	assert.Nil(t, stored.UserID)
	assert.False(t, stored.CreatedAt.IsZero())
}

// --- SQL 形态（sqlmock） ---

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)
	return mock, gormDB
}

func TestGormStore_SumQuery(t *testing.T) {
	mock, db := setupMockDB(t)
	s := NewGormStore(db, nil, nil)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(cost_cents\), 0\) FROM "cost_records" WHERE .*organization_id = \$1 AND usage_date >= \$2 AND usage_date <= \$3.*user_id = \$4`).
		WithArgs("org-1", "2024-03-15", "2024-03-15", "alice").
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(int64(420)))

	got, err := s.SumCostCents(context.Background(), UserRange("org-1", "alice", "2024-03-15", "2024-03-15"))
	require.NoError(t, err)
	assert.Equal(t, int64(420), got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_SumError(t *testing.T) {
	mock, db := setupMockDB(t)
	s := NewGormStore(db, nil, nil)

	mock.ExpectQuery(`SELECT COALESCE`).WillReturnError(errors.New("connection refused"))

	_, err := s.SumCostCents(context.Background(), OrgRange("org-1", "2024-03-15", "2024-03-15"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum cost records")
}

// --- Calendar ---

func TestCalendar(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	// UTC 3 月 31 日 20:00 在上海已是 4 月 1 日
	instant := time.Date(2024, 3, 31, 20, 0, 0, 0, time.UTC)
	now := func() time.Time { return instant }

	utc := NewCalendar(nil, now)
	assert.Equal(t, "2024-03-31", utc.Today())
	from, to := utc.MonthToDate()
	assert.Equal(t, "2024-03-01", from)
	assert.Equal(t, "2024-03-31", to)

	local := NewCalendar(shanghai, now)
	assert.Equal(t, "2024-04-01", local.Today())
	from, to = local.MonthToDate()
	assert.Equal(t, "2024-04-01", from)
	assert.Equal(t, "2024-04-01", to)
	assert.Equal(t, shanghai, local.Location())
}

func TestCalendar_ZeroValue(t *testing.T) {
	var c Calendar
	assert.Equal(t, time.UTC, c.Location())
	assert.Equal(t, time.Now().UTC().Format(DateLayout), c.Today())
}
