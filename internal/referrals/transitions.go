package referrals

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
)

// isOpen reports whether the referral still blocks duplicates and counts toward cooldown.
func isOpen(r models.Referral) bool {
	return r.Status == enums.ReferralPending || r.Status == enums.ReferralActive
}

// markFirstPurchase sets the first-purchase flag once. Pending referrals become active.
func markFirstPurchase(r models.Referral, now time.Time) (models.Referral, bool) {
	if r.FirstPurchaseCompleted || r.Status == enums.ReferralCancelled {
		return r, false
	}
	at := now
	r.FirstPurchaseCompleted = true
	r.FirstPurchaseAt = &at
	if r.Status == enums.ReferralPending {
		r.Status = enums.ReferralActive
	}
	return r, true
}

// markRewardGranted sets the reward flag once, after the first purchase.
func markRewardGranted(r models.Referral, transactionID uuid.UUID, now time.Time) (models.Referral, bool) {
	if r.RewardGranted || !r.FirstPurchaseCompleted || r.Status == enums.ReferralCancelled {
		return r, false
	}
	at := now
	txID := transactionID
	r.RewardGranted = true
	r.RewardGrantedAt = &at
	r.RewardTransactionID = &txID
	r.Status = enums.ReferralCompleted
	return r, true
}

// diff lists the columns that moved between two versions of a referral.
func diff(before, after models.Referral) map[string]any {
	updates := map[string]any{}
	if before.Status != after.Status {
		updates["status"] = after.Status
	}
	if before.FirstPurchaseCompleted != after.FirstPurchaseCompleted {
		updates["first_purchase_completed"] = after.FirstPurchaseCompleted
		updates["first_purchase_at"] = after.FirstPurchaseAt
	}
	if before.RewardGranted != after.RewardGranted {
		updates["reward_granted"] = after.RewardGranted
		updates["reward_granted_at"] = after.RewardGrantedAt
		updates["reward_transaction_id"] = after.RewardTransactionID
	}
	return updates
}

func monthStart(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
}
