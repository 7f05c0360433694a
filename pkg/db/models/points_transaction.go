package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/angelmondragon/loyalty-core/pkg/enums"
)

// PointsTransaction is an immutable ledger entry.
type PointsTransaction struct {
	ID                      uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	TenantID                uuid.UUID             `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:ux_points_transactions_idempotency"`
	MembershipID            uuid.UUID             `gorm:"column:membership_id;type:uuid;not null;index:ix_points_transactions_membership_created"`
	Type                    enums.TransactionType `gorm:"column:type;type:points_transaction_type;not null"`
	PointsDelta             int64                 `gorm:"column:points_delta;not null"`
	ExpiresAt               *time.Time            `gorm:"column:expires_at;index"`
	RewardID                *uuid.UUID            `gorm:"column:reward_id;type:uuid"`
	ReversalOfTransactionID *uuid.UUID            `gorm:"column:reversal_of_transaction_id;type:uuid;index"`
	IdempotencyKey          *string               `gorm:"column:idempotency_key;uniqueIndex:ux_points_transactions_idempotency"`
	ReasonCode              *string               `gorm:"column:reason_code"`
	CreatedBy               *string               `gorm:"column:created_by"`
	Metadata                datatypes.JSON        `gorm:"column:metadata;type:jsonb"`
	CreatedAt               time.Time             `gorm:"column:created_at;not null;index:ix_points_transactions_membership_created"`
}

func (PointsTransaction) TableName() string { return "points_transactions" }
