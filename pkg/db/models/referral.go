package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/pkg/enums"
)

// Referral links a referrer membership to a referred membership within one tenant.
type Referral struct {
	ID                     uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	TenantID               uuid.UUID            `gorm:"column:tenant_id;type:uuid;not null;index"`
	ReferrerMembershipID   uuid.UUID            `gorm:"column:referrer_membership_id;type:uuid;not null;index"`
	ReferredMembershipID   uuid.UUID            `gorm:"column:referred_membership_id;type:uuid;not null;index"`
	ReferralCode           string               `gorm:"column:referral_code;not null"`
	Status                 enums.ReferralStatus `gorm:"column:status;not null"`
	FirstPurchaseCompleted bool                 `gorm:"column:first_purchase_completed;not null;default:false"`
	FirstPurchaseAt        *time.Time           `gorm:"column:first_purchase_at"`
	RewardGranted          bool                 `gorm:"column:reward_granted;not null;default:false"`
	RewardGrantedAt        *time.Time           `gorm:"column:reward_granted_at"`
	RewardTransactionID    *uuid.UUID           `gorm:"column:reward_transaction_id;type:uuid"`
	Version                int64                `gorm:"column:version;not null;default:1"`
	CreatedAt              time.Time            `gorm:"column:created_at;not null"`
	UpdatedAt              time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (Referral) TableName() string { return "referrals" }
