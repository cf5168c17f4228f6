package cost

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgov/governance/ledger"
	"github.com/BaSui01/agentgov/types"
)

type failingLedger struct{}

func (failingLedger) Insert(context.Context, *ledger.CostRecord) error {
	return errors.New("db down")
}

func (failingLedger) SumCostCents(context.Context, ledger.SumFilter) (int64, error) {
	return 0, errors.New("db down")
}

func fixedCalendar() ledger.Calendar {
	return ledger.NewCalendar(time.UTC, func() time.Time {
		return time.Date(2024, 3, 15, 23, 30, 0, 0, time.UTC)
	})
}

func TestRecorder_Record(t *testing.T) {
	store := ledger.NewMemoryStore()
	r := NewRecorder(NewPricingTable(nil, FallbackPrice, nil), store, fixedCalendar(), nil, zap.NewNop())

	rec, err := r.Record(context.Background(), Entry{
		Subject:   types.Subject{SubjectID: "alice", OrganizationID: "org-1"},
		Model:     "claude-3-5-sonnet",
		Usage:     Usage{InputTokens: 1000, OutputTokens: 500, CacheReadTokens: 500},
		RequestID: "req-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(9), rec.CostCents)
	assert.Equal(t, "2024-03-15", rec.UsageDate)
	require.NotNil(t, rec.UserID)
	assert.Equal(t, "alice", *rec.UserID)

	records := store.Records()
	require.Len(t, records, 1)
	assert.Equal(t, rec.ID, records[0].ID)
	assert.Equal(t, "req-1", records[0].RequestID)
}

func TestRecorder_OrgOnlySubject(t *testing.T) {
	store := ledger.NewMemoryStore()
	r := NewRecorder(nil, store, fixedCalendar(), nil, nil)

	rec, err := r.Record(context.Background(), Entry{
		Subject: types.Subject{OrganizationID: "org-1"},
		Model:   "unknown-model",
		Usage:   Usage{InputTokens: 10_000},
	})
	require.NoError(t, err)
	assert.Nil(t, rec.UserID)
	assert.Equal(t, int64(30), rec.CostCents, "unknown model billed at fallback tier")
}

func TestRecorder_NormalizesStoredUsage(t *testing.T) {
	store := ledger.NewMemoryStore()
	r := NewRecorder(nil, store, fixedCalendar(), nil, nil)

	rec, err := r.Record(context.Background(), Entry{
		Subject: types.Subject{SubjectID: "u", OrganizationID: "o"},
		Model:   "claude-3-5-sonnet",
		Usage:   Usage{InputTokens: 100, CacheReadTokens: 900, OutputTokens: -3},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), rec.CacheReadTokens)
	assert.Equal(t, int64(0), rec.OutputTokens)
}

func TestRecorder_LedgerFailure(t *testing.T) {
	r := NewRecorder(nil, failingLedger{}, fixedCalendar(), nil, nil)

	rec, err := r.Record(context.Background(), Entry{
		Subject: types.Subject{OrganizationID: "org-1"},
		Model:   "claude-3-5-sonnet",
		Usage:   Usage{InputTokens: 1},
	})
	assert.Error(t, err)
	assert.Nil(t, rec)
}

func TestRecorder_MissingOrganizationRejected(t *testing.T) {
	r := NewRecorder(nil, ledger.NewMemoryStore(), fixedCalendar(), nil, nil)

	_, err := r.Record(context.Background(), Entry{Model: "claude-3-5-sonnet"})
	assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
}
