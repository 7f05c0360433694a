package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateMembership        OutboxAggregateType = "membership"
	AggregatePointsTransaction OutboxAggregateType = "points_transaction"
	AggregateTierStatus        OutboxAggregateType = "tier_status"
	AggregateReferral          OutboxAggregateType = "referral"
	AggregateSubscriptionUsage OutboxAggregateType = "subscription_usage"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateMembership,
	AggregatePointsTransaction,
	AggregateTierStatus,
	AggregateReferral,
	AggregateSubscriptionUsage,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventPointsTransactionAppended OutboxEventType = "points_transaction_appended"
	EventTierChanged               OutboxEventType = "tier_changed"
	EventTierGraceStarted          OutboxEventType = "tier_grace_started"
	EventReferralRewardGranted     OutboxEventType = "referral_reward_granted"
	EventUsageDriftDetected        OutboxEventType = "usage_drift_detected"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPointsTransactionAppended,
	EventTierChanged,
	EventTierGraceStarted,
	EventReferralRewardGranted,
	EventUsageDriftDetected,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
