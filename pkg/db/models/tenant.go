package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is a brand operated by a partner.
type Tenant struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	PartnerID uuid.UUID `gorm:"column:partner_id;type:uuid;not null;index"`
	Name      string    `gorm:"column:name;not null"`
	Slug      string    `gorm:"column:slug;not null;uniqueIndex"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Tenant) TableName() string { return "tenants" }

type Branch struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;index"`
	Name      string    `gorm:"column:name;not null"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Branch) TableName() string { return "branches" }

// Reward is a catalog item redeemable for points.
type Reward struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TenantID   uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;index"`
	Name       string    `gorm:"column:name;not null"`
	PointsCost int64     `gorm:"column:points_cost;not null"`
	Active     bool      `gorm:"column:active;not null;default:true"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Reward) TableName() string { return "rewards" }
