package cost

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgov/governance/ledger"
	"github.com/BaSui01/agentgov/internal/metrics"
	"github.com/BaSui01/agentgov/types"
)

// ErrNegativeCost 计算出负数成本，属于程序错误
var ErrNegativeCost = errors.New("computed negative cost")

// Entry 一次已完成调用的计费输入
type Entry struct {
	Subject   types.Subject
	Model     string
	Usage     Usage
	RequestID string
}

// Recorder 计算成本并写入账本
type Recorder struct {
	pricing  *PricingTable
	ledger   ledger.Store
	calendar ledger.Calendar
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewRecorder 创建成本记录器
func NewRecorder(pricing *PricingTable, store ledger.Store, calendar ledger.Calendar, collector *metrics.Collector, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pricing == nil {
		pricing = NewPricingTable(nil, FallbackPrice, logger)
	}
	return &Recorder{
		pricing:  pricing,
		ledger:   store,
		calendar: calendar,
		metrics:  collector,
		logger:   logger.With(zap.String("component", "cost_recorder")),
	}
}

// Pricing 价格表
func (r *Recorder) Pricing() *PricingTable {
	return r.pricing
}

// Record 计算成本并追加一条账本记录。
// 账本日期取记录时刻在 Calendar 时区的日期。
func (r *Recorder) Record(ctx context.Context, e Entry) (*ledger.CostRecord, error) {
	price, known := r.pricing.Lookup(e.Model)
	if !known {
		r.logger.Warn("unknown model, billing at fallback price",
			zap.String("model", e.Model),
			zap.Int64("input_per_1k", price.InputPer1K),
			zap.Int64("output_per_1k", price.OutputPer1K),
		)
	}

	u := e.Usage.normalized()
	cents := price.Breakdown(u).Cents()
	if cents < 0 {
		return nil, fmt.Errorf("%w: model=%s cents=%d", ErrNegativeCost, e.Model, cents)
	}

	rec := &ledger.CostRecord{
		OrganizationID:   e.Subject.OrganizationID,
		Model:            e.Model,
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens,
		CostCents:        cents,
		UsageDate:        r.calendar.Today(),
		RequestID:        e.RequestID,
	}
	if e.Subject.HasUser() {
		userID := e.Subject.SubjectID
		rec.UserID = &userID
	}

	if err := r.ledger.Insert(ctx, rec); err != nil {
		r.logger.Error("failed to record cost",
			zap.String("organization_id", rec.OrganizationID),
			zap.String("model", rec.Model),
			zap.Int64("cost_cents", cents),
			zap.Error(err),
		)
		return nil, err
	}

	r.metrics.RecordCost(e.Model, cents, int(u.InputTokens), int(u.OutputTokens), int(u.CacheReadTokens), int(u.CacheWriteTokens))
	return rec, nil
}
