package models

// All lists every persisted model. Tests auto-migrate it into sqlite; production uses the
// goose migrations.
func All() []any {
	return []any{
		&Partner{},
		&PartnerSubscription{},
		&PartnerSubscriptionUsage{},
		&Tenant{},
		&Branch{},
		&Reward{},
		&CustomerMembership{},
		&PointsTransaction{},
		&CustomerTier{},
		&TierPolicy{},
		&TierStatus{},
		&TierChangeLog{},
		&Referral{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}
