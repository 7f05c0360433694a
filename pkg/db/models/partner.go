package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/pkg/enums"
)

// Partner is the business that buys a subscription and owns tenants.
type Partner struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Name      string    `gorm:"column:name;not null"`
	Active    bool      `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Partner) TableName() string { return "partners" }

// PartnerSubscription is a partner's plan. Usage counters hang off it.
type PartnerSubscription struct {
	ID                 uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	PartnerID          uuid.UUID                `gorm:"column:partner_id;type:uuid;not null;index"`
	PlanCode           string                   `gorm:"column:plan_code;not null"`
	Status             enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null"`
	MaxTenants         *int                     `gorm:"column:max_tenants"`
	MaxBranches        *int                     `gorm:"column:max_branches"`
	MaxCustomers       *int                     `gorm:"column:max_customers"`
	MaxRewards         *int                     `gorm:"column:max_rewards"`
	CurrentPeriodStart time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd   *time.Time               `gorm:"column:current_period_end"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (PartnerSubscription) TableName() string { return "partner_subscriptions" }

// PartnerSubscriptionUsage holds the per-subscription resource counters.
type PartnerSubscriptionUsage struct {
	ID                    uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	PartnerSubscriptionID uuid.UUID `gorm:"column:partner_subscription_id;type:uuid;not null;uniqueIndex"`
	TenantsCount          int64     `gorm:"column:tenants_count;not null;default:0"`
	BranchesCount         int64     `gorm:"column:branches_count;not null;default:0"`
	CustomersCount        int64     `gorm:"column:customers_count;not null;default:0"`
	RewardsCount          int64     `gorm:"column:rewards_count;not null;default:0"`
	Version               int64     `gorm:"column:version;not null;default:1"`
	CreatedAt             time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (PartnerSubscriptionUsage) TableName() string { return "partner_subscription_usage" }

// Count returns the counter for resource.
func (u PartnerSubscriptionUsage) Count(resource enums.UsageResource) int64 {
	switch resource {
	case enums.UsageTenants:
		return u.TenantsCount
	case enums.UsageBranches:
		return u.BranchesCount
	case enums.UsageCustomers:
		return u.CustomersCount
	case enums.UsageRewards:
		return u.RewardsCount
	default:
		return 0
	}
}

// WithCount returns a copy of u with the counter for resource replaced.
func (u PartnerSubscriptionUsage) WithCount(resource enums.UsageResource, value int64) PartnerSubscriptionUsage {
	switch resource {
	case enums.UsageTenants:
		u.TenantsCount = value
	case enums.UsageBranches:
		u.BranchesCount = value
	case enums.UsageCustomers:
		u.CustomersCount = value
	case enums.UsageRewards:
		u.RewardsCount = value
	}
	return u
}
