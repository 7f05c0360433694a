package enums

import "fmt"

// ReferralStatus tracks a referral from invitation to reward.
type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralActive    ReferralStatus = "active"
	ReferralCompleted ReferralStatus = "completed"
	ReferralCancelled ReferralStatus = "cancelled"
)

var validReferralStatuses = []ReferralStatus{
	ReferralPending,
	ReferralActive,
	ReferralCompleted,
	ReferralCancelled,
}

func (s ReferralStatus) IsValid() bool {
	for _, candidate := range validReferralStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s ReferralStatus) IsTerminal() bool {
	return s == ReferralCompleted || s == ReferralCancelled
}

// ParseReferralStatus converts raw input into a ReferralStatus.
func ParseReferralStatus(value string) (ReferralStatus, error) {
	for _, candidate := range validReferralStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid referral status %q", value)
}
