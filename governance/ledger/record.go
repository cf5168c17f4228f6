package ledger

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout 账本日期格式
const DateLayout = "2006-01-02"

// ErrInvalidRecord 记录不满足写入条件
var ErrInvalidRecord = errors.New("invalid cost record")

// CostRecord 单次调用的成本记录
type CostRecord struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID   string    `gorm:"size:64;not null;index:idx_cost_records_org_date,priority:1" json:"organization_id"`
	UserID           *string   `gorm:"size:64;index:idx_cost_records_user_date,priority:1" json:"user_id,omitempty"`
	Model            string    `gorm:"size:100;not null" json:"model"`
	InputTokens      int64     `gorm:"not null;default:0" json:"input_tokens"`
	OutputTokens     int64     `gorm:"not null;default:0" json:"output_tokens"`
	CacheReadTokens  int64     `gorm:"not null;default:0" json:"cache_read_tokens"`
	CacheWriteTokens int64     `gorm:"not null;default:0" json:"cache_write_tokens"`
	CostCents        int64     `gorm:"not null" json:"cost_cents"`
	UsageDate        string    `gorm:"size:10;not null;index:idx_cost_records_org_date,priority:2;index:idx_cost_records_user_date,priority:2" json:"usage_date"`
	RequestID        string    `gorm:"size:64" json:"request_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

func (CostRecord) TableName() string {
	return "cost_records"
}

// Validate 检查记录能否写入账本
func (r *CostRecord) Validate() error {
	switch {
	case r.OrganizationID == "":
		return fmt.Errorf("%w: organization_id is required", ErrInvalidRecord)
	case r.Model == "":
		return fmt.Errorf("%w: model is required", ErrInvalidRecord)
	case r.CostCents < 0:
		return fmt.Errorf("%w: negative cost %d", ErrInvalidRecord, r.CostCents)
	case r.InputTokens < 0 || r.OutputTokens < 0 || r.CacheReadTokens < 0 || r.CacheWriteTokens < 0:
		return fmt.Errorf("%w: negative token count", ErrInvalidRecord)
	}
	if _, err := time.Parse(DateLayout, r.UsageDate); err != nil {
		return fmt.Errorf("%w: usage_date %q", ErrInvalidRecord, r.UsageDate)
	}
	return nil
}

// SumFilter 汇总条件，日期区间两端都包含
type SumFilter struct {
	OrganizationID string
	// UserID 为 nil 时汇总整个组织
	UserID *string
	From   string
	To     string
}

// OrgRange 组织在日期区间内的汇总条件
func OrgRange(orgID, from, to string) SumFilter {
	return SumFilter{OrganizationID: orgID, From: from, To: to}
}

// UserRange 组织内单个用户在日期区间内的汇总条件
func UserRange(orgID, userID, from, to string) SumFilter {
	return SumFilter{OrganizationID: orgID, UserID: &userID, From: from, To: to}
}

// matches 判断记录是否满足条件
func (f SumFilter) matches(r *CostRecord) bool {
	if r.OrganizationID != f.OrganizationID {
		return false
	}
	if f.UserID != nil && (r.UserID == nil || *r.UserID != *f.UserID) {
		return false
	}
	return r.UsageDate >= f.From && r.UsageDate <= f.To
}
