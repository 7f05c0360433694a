package models

import (
	"time"

	"github.com/google/uuid"
)

// CustomerMembership links a user to a tenant's loyalty program.
type CustomerMembership struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID   uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_customer_memberships_user_tenant"`
	TenantID uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_customer_memberships_user_tenant;index"`
	// Points is the cached ledger projection. Only the ledger writes it.
	Points    int64     `gorm:"column:points;not null;default:0"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	Version   int64     `gorm:"column:version;not null;default:1"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (CustomerMembership) TableName() string { return "customer_memberships" }
