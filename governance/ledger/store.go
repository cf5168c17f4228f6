package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentgov/internal/metrics"
)

// Store 成本账本
type Store interface {
	// Insert 追加一条记录，ID 为空时自动生成
	Insert(ctx context.Context, record *CostRecord) error
	// SumCostCents 汇总满足条件的 cost_cents
	SumCostCents(ctx context.Context, filter SumFilter) (int64, error)
}

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// =============================================================================
// 🗄️ GORM 实现
// =============================================================================

// GormStore 基于 GORM 的账本
type GormStore struct {
	db      *gorm.DB
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewGormStore 创建 GORM 账本
func NewGormStore(db *gorm.DB, collector *metrics.Collector, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:      db,
		metrics: collector,
		logger:  logger.With(zap.String("component", "ledger")),
	}
}

// Insert 追加记录
func (s *GormStore) Insert(ctx context.Context, record *CostRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	start := time.Now()
	err := s.db.WithContext(ctx).Create(record).Error
	s.metrics.RecordDBQuery("ledger", "insert", time.Since(start))
	if err != nil {
		return fmt.Errorf("insert cost record: %w", err)
	}

	s.logger.Debug("cost record inserted",
		zap.String("id", record.ID),
		zap.String("organization_id", record.OrganizationID),
		zap.Int64("cost_cents", record.CostCents),
		zap.String("usage_date", record.UsageDate),
	)
	return nil
}

// SumCostCents 汇总成本
func (s *GormStore) SumCostCents(ctx context.Context, filter SumFilter) (int64, error) {
	q := s.db.WithContext(ctx).
		Model(&CostRecord{}).
		Select("COALESCE(SUM(cost_cents), 0)").
		Where("organization_id = ? AND usage_date >= ? AND usage_date <= ?", filter.OrganizationID, filter.From, filter.To)
	if filter.UserID != nil {
		q = q.Where("user_id = ?", *filter.UserID)
	}

	start := time.Now()
	var total int64
	err := q.Row().Scan(&total)
	s.metrics.RecordDBQuery("ledger", "sum", time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("sum cost records: %w", err)
	}
	return total, nil
}

// =============================================================================
// 🧠 内存实现
// =============================================================================

// MemoryStore 进程内账本，用于测试与未配置数据库的部署
type MemoryStore struct {
	mu      sync.RWMutex
	records []CostRecord
}

// NewMemoryStore 创建内存账本
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Insert 追加记录
func (s *MemoryStore) Insert(_ context.Context, record *CostRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	s.mu.Lock()
	s.records = append(s.records, *record)
	s.mu.Unlock()
	return nil
}

// SumCostCents 汇总成本
func (s *MemoryStore) SumCostCents(ctx context.Context, filter SumFilter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for i := range s.records {
		if filter.matches(&s.records[i]) {
			total += s.records[i].CostCents
		}
	}
	return total, nil
}

// Records 返回记录副本
func (s *MemoryStore) Records() []CostRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CostRecord, len(s.records))
	copy(out, s.records)
	return out
}
