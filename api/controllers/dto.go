package controllers

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/internal/loyalty"
	"github.com/angelmondragon/loyalty-core/internal/tiers"
	"github.com/angelmondragon/loyalty-core/internal/usage"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
)

type transactionDTO struct {
	ID                      uuid.UUID             `json:"id"`
	MembershipID            uuid.UUID             `json:"membership_id"`
	Type                    enums.TransactionType `json:"type"`
	PointsDelta             int64                 `json:"points_delta"`
	ExpiresAt               *time.Time            `json:"expires_at,omitempty"`
	RewardID                *uuid.UUID            `json:"reward_id,omitempty"`
	ReversalOfTransactionID *uuid.UUID            `json:"reversal_of_transaction_id,omitempty"`
	IdempotencyKey          *string               `json:"idempotency_key,omitempty"`
	ReasonCode              *string               `json:"reason_code,omitempty"`
	CreatedBy               *string               `json:"created_by,omitempty"`
	Metadata                json.RawMessage       `json:"metadata,omitempty"`
	CreatedAt               time.Time             `json:"created_at"`
}

func toTransactionDTO(tx models.PointsTransaction) transactionDTO {
	dto := transactionDTO{
		ID:                      tx.ID,
		MembershipID:            tx.MembershipID,
		Type:                    tx.Type,
		PointsDelta:             tx.PointsDelta,
		ExpiresAt:               tx.ExpiresAt,
		RewardID:                tx.RewardID,
		ReversalOfTransactionID: tx.ReversalOfTransactionID,
		IdempotencyKey:          tx.IdempotencyKey,
		ReasonCode:              tx.ReasonCode,
		CreatedBy:               tx.CreatedBy,
		CreatedAt:               tx.CreatedAt,
	}
	if len(tx.Metadata) > 0 {
		dto.Metadata = json.RawMessage(tx.Metadata)
	}
	return dto
}

type appendResponse struct {
	Transaction transactionDTO `json:"transaction"`
	Balance     int64          `json:"balance"`
	Tier        *evaluationDTO `json:"tier,omitempty"`
	Replayed    bool           `json:"replayed"`
}

func toAppendResponse(res *loyalty.TransactionResult) appendResponse {
	out := appendResponse{
		Transaction: toTransactionDTO(res.Transaction),
		Balance:     res.Balance,
		Replayed:    res.Replayed,
	}
	if res.Tier != nil {
		tier := toEvaluationDTO(res.Tier)
		out.Tier = &tier
	}
	return out
}

type purchaseResponse struct {
	Transaction *transactionDTO `json:"transaction,omitempty"`
	Multiplier  string          `json:"multiplier"`
	Earned      int64           `json:"earned"`
	Balance     int64           `json:"balance"`
	Tier        *evaluationDTO  `json:"tier,omitempty"`
	Referrals   []referralDTO   `json:"referrals,omitempty"`
	Replayed    bool            `json:"replayed"`
}

func toPurchaseResponse(res *loyalty.PurchaseResult) purchaseResponse {
	out := purchaseResponse{
		Multiplier: res.Multiplier,
		Earned:     res.Earned,
		Balance:    res.Balance,
		Replayed:   res.Replayed,
	}
	if res.Transaction != nil {
		dto := toTransactionDTO(*res.Transaction)
		out.Transaction = &dto
	}
	if res.Tier != nil {
		eval := toEvaluationDTO(res.Tier)
		out.Tier = &eval
	}
	for _, ref := range res.Referrals {
		out.Referrals = append(out.Referrals, toReferralDTO(ref))
	}
	return out
}

type tierDTO struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	MinPoints  int64     `json:"min_points"`
	MaxPoints  *int64    `json:"max_points,omitempty"`
	Multiplier *string   `json:"multiplier,omitempty"`
	Priority   int       `json:"priority"`
	Active     bool      `json:"active"`
}

func toTierDTO(t models.CustomerTier) tierDTO {
	dto := tierDTO{
		ID:        t.ID,
		Name:      t.Name,
		MinPoints: t.MinPoints,
		MaxPoints: t.MaxPoints,
		Priority:  t.Priority,
		Active:    t.Active,
	}
	if t.Multiplier.Valid {
		m := t.Multiplier.Decimal.String()
		dto.Multiplier = &m
	}
	return dto
}

type tierStatusDTO struct {
	MembershipID  uuid.UUID  `json:"membership_id"`
	CurrentTierID *uuid.UUID `json:"current_tier_id,omitempty"`
	Since         time.Time  `json:"since"`
	NextEvalAt    *time.Time `json:"next_eval_at,omitempty"`
	GraceUntil    *time.Time `json:"grace_until,omitempty"`
	Version       int64      `json:"version"`
}

func toTierStatusDTO(s models.TierStatus) tierStatusDTO {
	return tierStatusDTO{
		MembershipID:  s.MembershipID,
		CurrentTierID: s.CurrentTierID,
		Since:         s.Since,
		NextEvalAt:    s.NextEvalAt,
		GraceUntil:    s.GraceUntil,
		Version:       s.Version,
	}
}

type evaluationDTO struct {
	Status  tierStatusDTO        `json:"status"`
	Change  enums.TierChangeType `json:"change,omitempty"`
	Balance int64                `json:"balance"`
	Blocked bool                 `json:"blocked,omitempty"`
}

func toEvaluationDTO(res *tiers.EvaluationResult) evaluationDTO {
	return evaluationDTO{
		Status:  toTierStatusDTO(res.Status),
		Change:  res.Change,
		Balance: res.Balance,
		Blocked: res.Blocked,
	}
}

type statusViewDTO struct {
	Status tierStatusDTO `json:"status"`
	Tier   *tierDTO      `json:"tier,omitempty"`
}

func toStatusViewDTO(view *tiers.StatusView) statusViewDTO {
	out := statusViewDTO{Status: toTierStatusDTO(view.Status)}
	if view.Tier != nil {
		t := toTierDTO(*view.Tier)
		out.Tier = &t
	}
	return out
}

type tierChangeDTO struct {
	ID         uuid.UUID            `json:"id"`
	ChangeType enums.TierChangeType `json:"change_type"`
	FromTierID *uuid.UUID           `json:"from_tier_id,omitempty"`
	ToTierID   *uuid.UUID           `json:"to_tier_id,omitempty"`
	Balance    int64                `json:"balance"`
	GraceUntil *time.Time           `json:"grace_until,omitempty"`
	Details    json.RawMessage      `json:"details,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

func toTierChangeDTO(entry models.TierChangeLog) tierChangeDTO {
	dto := tierChangeDTO{
		ID:         entry.ID,
		ChangeType: entry.ChangeType,
		FromTierID: entry.FromTierID,
		ToTierID:   entry.ToTierID,
		Balance:    entry.Balance,
		GraceUntil: entry.GraceUntil,
		CreatedAt:  entry.CreatedAt,
	}
	if len(entry.Details) > 0 {
		dto.Details = json.RawMessage(entry.Details)
	}
	return dto
}

type tierPolicyDTO struct {
	EvaluationWindow    enums.EvaluationWindow  `json:"evaluation_window"`
	DowngradeStrategy   enums.DowngradeStrategy `json:"downgrade_strategy"`
	GracePeriodDays     int                     `json:"grace_period_days"`
	MinTierDurationDays int                     `json:"min_tier_duration_days"`
}

func toTierPolicyDTO(p models.TierPolicy) tierPolicyDTO {
	return tierPolicyDTO{
		EvaluationWindow:    p.EvaluationWindow,
		DowngradeStrategy:   p.DowngradeStrategy,
		GracePeriodDays:     p.GracePeriodDays,
		MinTierDurationDays: p.MinTierDurationDays,
	}
}

type referralDTO struct {
	ID                     uuid.UUID            `json:"id"`
	ReferrerMembershipID   uuid.UUID            `json:"referrer_membership_id"`
	ReferredMembershipID   uuid.UUID            `json:"referred_membership_id"`
	ReferralCode           string               `json:"referral_code"`
	Status                 enums.ReferralStatus `json:"status"`
	FirstPurchaseCompleted bool                 `json:"first_purchase_completed"`
	FirstPurchaseAt        *time.Time           `json:"first_purchase_at,omitempty"`
	RewardGranted          bool                 `json:"reward_granted"`
	RewardGrantedAt        *time.Time           `json:"reward_granted_at,omitempty"`
	RewardTransactionID    *uuid.UUID           `json:"reward_transaction_id,omitempty"`
	CreatedAt              time.Time            `json:"created_at"`
}

func toReferralDTO(r models.Referral) referralDTO {
	return referralDTO{
		ID:                     r.ID,
		ReferrerMembershipID:   r.ReferrerMembershipID,
		ReferredMembershipID:   r.ReferredMembershipID,
		ReferralCode:           r.ReferralCode,
		Status:                 r.Status,
		FirstPurchaseCompleted: r.FirstPurchaseCompleted,
		FirstPurchaseAt:        r.FirstPurchaseAt,
		RewardGranted:          r.RewardGranted,
		RewardGrantedAt:        r.RewardGrantedAt,
		RewardTransactionID:    r.RewardTransactionID,
		CreatedAt:              r.CreatedAt,
	}
}

type tenantDTO struct {
	ID        uuid.UUID `json:"id"`
	PartnerID uuid.UUID `json:"partner_id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func toTenantDTO(t models.Tenant) tenantDTO {
	return tenantDTO{ID: t.ID, PartnerID: t.PartnerID, Name: t.Name, Slug: t.Slug, Active: t.Active, CreatedAt: t.CreatedAt}
}

type branchDTO struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func toBranchDTO(b models.Branch) branchDTO {
	return branchDTO{ID: b.ID, Name: b.Name, Active: b.Active, CreatedAt: b.CreatedAt}
}

type rewardDTO struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	PointsCost int64     `json:"points_cost"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

func toRewardDTO(r models.Reward) rewardDTO {
	return rewardDTO{ID: r.ID, Name: r.Name, PointsCost: r.PointsCost, Active: r.Active, CreatedAt: r.CreatedAt}
}

type usageDTO struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Tenants        int64     `json:"tenants"`
	Branches       int64     `json:"branches"`
	Customers      int64     `json:"customers"`
	Rewards        int64     `json:"rewards"`
}

type reconciliationDTO struct {
	Usage usageDTO      `json:"usage"`
	Drift []usage.Drift `json:"drift"`
}

func toReconciliationDTO(res *usage.Reconciliation) reconciliationDTO {
	drift := res.Drift
	if drift == nil {
		drift = []usage.Drift{}
	}
	return reconciliationDTO{
		Usage: usageDTO{
			SubscriptionID: res.SubscriptionID,
			Tenants:        res.Usage.TenantsCount,
			Branches:       res.Usage.BranchesCount,
			Customers:      res.Usage.CustomersCount,
			Rewards:        res.Usage.RewardsCount,
		},
		Drift: drift,
	}
}
