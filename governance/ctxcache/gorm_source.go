package ctxcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/BaSui01/agentgov/types"
)

// UserRow 业务库 users 表中治理层读取的列
type UserRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	OrganizationID string `gorm:"size:64;index"`
	Name           string `gorm:"size:200"`
	Email          string `gorm:"size:320"`
	Role           string `gorm:"size:50"`
	// 逗号分隔
	Permissions string `gorm:"type:text"`
}

func (UserRow) TableName() string {
	return "users"
}

// OrganizationRow 业务库 organizations 表中治理层读取的列
type OrganizationRow struct {
	ID           string `gorm:"primaryKey;size:64"`
	Name         string `gorm:"size:200"`
	Timezone     string `gorm:"size:64"`
	Locale       string `gorm:"size:16"`
	BaseCurrency string `gorm:"size:3"`
	// JSON 对象
	Settings string `gorm:"type:text"`
}

func (OrganizationRow) TableName() string {
	return "organizations"
}

// GormSource 从业务数据库读取上下文
type GormSource struct {
	db *gorm.DB
}

// NewGormSource 创建 GORM 数据源
func NewGormSource(db *gorm.DB) *GormSource {
	return &GormSource{db: db}
}

// User 读取身份
func (s *GormSource) User(ctx context.Context, userID string) (*UserContext, error) {
	var row UserRow
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}

	perms := []string{}
	for _, p := range strings.Split(row.Permissions, ",") {
		if p = strings.TrimSpace(p); p != "" {
			perms = append(perms, p)
		}
	}
	return &UserContext{
		UserID:      row.ID,
		Name:        row.Name,
		Email:       row.Email,
		Role:        row.Role,
		Permissions: perms,
	}, nil
}

// Organization 读取组织
func (s *GormSource) Organization(ctx context.Context, orgID string) (*OrgContext, error) {
	var row OrganizationRow
	err := s.db.WithContext(ctx).Where("id = ?", orgID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: organization %s", ErrNotFound, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("load organization %s: %w", orgID, err)
	}

	org := &OrgContext{
		ID:           row.ID,
		Name:         row.Name,
		Timezone:     row.Timezone,
		Locale:       row.Locale,
		BaseCurrency: row.BaseCurrency,
	}
	if row.Settings != "" {
		var settings types.Metadata
		if err := json.Unmarshal([]byte(row.Settings), &settings); err != nil {
			return nil, fmt.Errorf("decode settings of organization %s: %w", orgID, err)
		}
		org.Settings = settings
	}
	return org, nil
}
