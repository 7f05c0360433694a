package enums

import "fmt"

// TierChangeType classifies a tier_change_log row.
type TierChangeType string

const (
	TierChangeInitialAssignment TierChangeType = "initial_assignment"
	TierChangeUpgrade           TierChangeType = "upgrade"
	TierChangeDowngrade         TierChangeType = "downgrade"
	TierChangeGraceStarted      TierChangeType = "grace_started"
	TierChangeGraceCancelled    TierChangeType = "grace_cancelled"
)

var validTierChangeTypes = []TierChangeType{
	TierChangeInitialAssignment,
	TierChangeUpgrade,
	TierChangeDowngrade,
	TierChangeGraceStarted,
	TierChangeGraceCancelled,
}

// IsValid reports whether the value is a known change type.
func (c TierChangeType) IsValid() bool {
	for _, candidate := range validTierChangeTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// MovesTier reports whether the change alters currentTierId.
func (c TierChangeType) MovesTier() bool {
	switch c {
	case TierChangeInitialAssignment, TierChangeUpgrade, TierChangeDowngrade:
		return true
	default:
		return false
	}
}

// EvaluationWindow sets the cadence of scheduled re-evaluation.
type EvaluationWindow string

const (
	WindowMonthly   EvaluationWindow = "MONTHLY"
	WindowQuarterly EvaluationWindow = "QUARTERLY"
	WindowRolling30 EvaluationWindow = "ROLLING_30"
	WindowRolling90 EvaluationWindow = "ROLLING_90"
)

var validEvaluationWindows = []EvaluationWindow{
	WindowMonthly,
	WindowQuarterly,
	WindowRolling30,
	WindowRolling90,
}

func (w EvaluationWindow) IsValid() bool {
	for _, candidate := range validEvaluationWindows {
		if candidate == w {
			return true
		}
	}
	return false
}

// ParseEvaluationWindow converts raw input into an EvaluationWindow.
func ParseEvaluationWindow(value string) (EvaluationWindow, error) {
	for _, candidate := range validEvaluationWindows {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid evaluation window %q", value)
}

// DowngradeStrategy controls what happens when a balance falls below the current tier.
type DowngradeStrategy string

const (
	DowngradeGracePeriod DowngradeStrategy = "GRACE_PERIOD"
	DowngradeImmediate   DowngradeStrategy = "IMMEDIATE"
	DowngradeNever       DowngradeStrategy = "NEVER"
)

var validDowngradeStrategies = []DowngradeStrategy{
	DowngradeGracePeriod,
	DowngradeImmediate,
	DowngradeNever,
}

func (s DowngradeStrategy) IsValid() bool {
	for _, candidate := range validDowngradeStrategies {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseDowngradeStrategy converts raw input into a DowngradeStrategy.
func ParseDowngradeStrategy(value string) (DowngradeStrategy, error) {
	for _, candidate := range validDowngradeStrategies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid downgrade strategy %q", value)
}
