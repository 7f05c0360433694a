package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/pkg/enums"
)

// PointsTransactionAppendedEvent mirrors a committed ledger row plus the resulting balance.
type PointsTransactionAppendedEvent struct {
	TransactionID uuid.UUID             `json:"transaction_id"`
	MembershipID  uuid.UUID             `json:"membership_id"`
	TenantID      uuid.UUID             `json:"tenant_id"`
	Type          enums.TransactionType `json:"type"`
	PointsDelta   int64                 `json:"points_delta"`
	Balance       int64                 `json:"balance"`
	ExpiresAt     *time.Time            `json:"expires_at,omitempty"`
	RewardID      *uuid.UUID            `json:"reward_id,omitempty"`
}

// TierChangedEvent is emitted on initial assignment, upgrade and committed downgrade.
type TierChangedEvent struct {
	MembershipID uuid.UUID            `json:"membership_id"`
	TenantID     uuid.UUID            `json:"tenant_id"`
	ChangeType   enums.TierChangeType `json:"change_type"`
	FromTierID   *uuid.UUID           `json:"from_tier_id,omitempty"`
	ToTierID     *uuid.UUID           `json:"to_tier_id,omitempty"`
	Balance      int64                `json:"balance"`
	ChangedAt    time.Time            `json:"changed_at"`
}

// TierGraceStartedEvent warns that a downgrade will commit at GraceUntil.
type TierGraceStartedEvent struct {
	MembershipID  uuid.UUID  `json:"membership_id"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	CurrentTierID *uuid.UUID `json:"current_tier_id,omitempty"`
	TargetTierID  *uuid.UUID `json:"target_tier_id,omitempty"`
	Balance       int64      `json:"balance"`
	GraceUntil    time.Time  `json:"grace_until"`
}

type ReferralRewardGrantedEvent struct {
	ReferralID           uuid.UUID `json:"referral_id"`
	TenantID             uuid.UUID `json:"tenant_id"`
	ReferrerMembershipID uuid.UUID `json:"referrer_membership_id"`
	ReferredMembershipID uuid.UUID `json:"referred_membership_id"`
	TransactionID        uuid.UUID `json:"transaction_id"`
	BonusPoints          int64     `json:"bonus_points"`
}

// UsageDriftDetectedEvent records a counter the reconciler had to correct.
type UsageDriftDetectedEvent struct {
	SubscriptionID uuid.UUID           `json:"subscription_id"`
	Resource       enums.UsageResource `json:"resource"`
	Source         string              `json:"source"`
	Expected       int64               `json:"expected"`
	Stored         int64               `json:"stored"`
}
