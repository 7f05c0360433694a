package tiers

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/loyalty-core/pkg/config"
	"github.com/angelmondragon/loyalty-core/pkg/db/models"
	"github.com/angelmondragon/loyalty-core/pkg/enums"
)

// DefaultPolicy parses the configured tier policy.
func DefaultPolicy(cfg config.TierConfig) (Policy, error) {
	window := enums.WindowMonthly
	if raw := strings.TrimSpace(cfg.EvaluationWindow); raw != "" {
		parsed, err := enums.ParseEvaluationWindow(strings.ToUpper(raw))
		if err != nil {
			return Policy{}, err
		}
		window = parsed
	}
	strategy := enums.DowngradeGracePeriod
	if raw := strings.TrimSpace(cfg.DowngradeStrategy); raw != "" {
		parsed, err := enums.ParseDowngradeStrategy(strings.ToUpper(raw))
		if err != nil {
			return Policy{}, err
		}
		strategy = parsed
	}
	if cfg.GracePeriodDays < 0 {
		return Policy{}, fmt.Errorf("grace period days must not be negative")
	}
	if cfg.MinTierDurationDays < 0 {
		return Policy{}, fmt.Errorf("min tier duration days must not be negative")
	}
	return Policy{
		Window:              window,
		Strategy:            strategy,
		GracePeriodDays:     cfg.GracePeriodDays,
		MinTierDurationDays: cfg.MinTierDurationDays,
	}, nil
}

// Resolve applies a tenant override on top of the default policy.
func (p Policy) Resolve(override *models.TierPolicy) Policy {
	if override == nil {
		return p
	}
	out := p
	if override.EvaluationWindow.IsValid() {
		out.Window = override.EvaluationWindow
	}
	if override.DowngradeStrategy.IsValid() {
		out.Strategy = override.DowngradeStrategy
	}
	if override.GracePeriodDays >= 0 {
		out.GracePeriodDays = override.GracePeriodDays
	}
	if override.MinTierDurationDays >= 0 {
		out.MinTierDurationDays = override.MinTierDurationDays
	}
	return out
}
