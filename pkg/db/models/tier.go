package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/angelmondragon/loyalty-core/pkg/enums"
)

// CustomerTier is one band of a tenant's tier ladder.
type CustomerTier struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	TenantID   uuid.UUID           `gorm:"column:tenant_id;type:uuid;not null;index"`
	Name       string              `gorm:"column:name;not null"`
	MinPoints  int64               `gorm:"column:min_points;not null"`
	MaxPoints  *int64              `gorm:"column:max_points"`
	Multiplier decimal.NullDecimal `gorm:"column:multiplier;type:numeric(6,2)"`
	Priority   int                 `gorm:"column:priority;not null"`
	Active     bool                `gorm:"column:active;not null;default:true"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (CustomerTier) TableName() string { return "customer_tiers" }

// Contains reports whether balance falls inside [MinPoints, MaxPoints].
func (t CustomerTier) Contains(balance int64) bool {
	if balance < t.MinPoints {
		return false
	}
	return t.MaxPoints == nil || balance <= *t.MaxPoints
}

// TierPolicy overrides the configured tier policy for one tenant.
type TierPolicy struct {
	TenantID            uuid.UUID               `gorm:"column:tenant_id;type:uuid;primaryKey"`
	EvaluationWindow    enums.EvaluationWindow  `gorm:"column:evaluation_window;not null"`
	DowngradeStrategy   enums.DowngradeStrategy `gorm:"column:downgrade_strategy;not null"`
	GracePeriodDays     int                     `gorm:"column:grace_period_days;not null"`
	MinTierDurationDays int                     `gorm:"column:min_tier_duration_days;not null;default:0"`
	CreatedAt           time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (TierPolicy) TableName() string { return "tier_policies" }

// TierStatus is the 1:1 tier state of a membership.
type TierStatus struct {
	MembershipID  uuid.UUID  `gorm:"column:membership_id;type:uuid;primaryKey"`
	TenantID      uuid.UUID  `gorm:"column:tenant_id;type:uuid;not null;index"`
	CurrentTierID *uuid.UUID `gorm:"column:current_tier_id;type:uuid"`
	Since         time.Time  `gorm:"column:since;not null"`
	NextEvalAt    *time.Time `gorm:"column:next_eval_at;index"`
	GraceUntil    *time.Time `gorm:"column:grace_until;index"`
	Version       int64      `gorm:"column:version;not null;default:1"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (TierStatus) TableName() string { return "tier_status" }

// TierChangeLog is an append-only record of tier transitions.
type TierChangeLog struct {
	ID           uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	TenantID     uuid.UUID            `gorm:"column:tenant_id;type:uuid;not null"`
	MembershipID uuid.UUID            `gorm:"column:membership_id;type:uuid;not null;index"`
	ChangeType   enums.TierChangeType `gorm:"column:change_type;not null"`
	FromTierID   *uuid.UUID           `gorm:"column:from_tier_id;type:uuid"`
	ToTierID     *uuid.UUID           `gorm:"column:to_tier_id;type:uuid"`
	Balance      int64                `gorm:"column:balance;not null"`
	GraceUntil   *time.Time           `gorm:"column:grace_until"`
	Details      datatypes.JSON       `gorm:"column:details;type:jsonb"`
	CreatedAt    time.Time            `gorm:"column:created_at;not null"`
}

func (TierChangeLog) TableName() string { return "tier_change_log" }
