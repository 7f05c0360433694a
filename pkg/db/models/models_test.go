package models

import (
	"testing"

	"github.com/angelmondragon/loyalty-core/pkg/enums"
)

func TestCustomerTierContains(t *testing.T) {
	upper := int64(99)
	bronze := CustomerTier{MinPoints: 0, MaxPoints: &upper}
	top := CustomerTier{MinPoints: 200}

	if !bronze.Contains(0) || !bronze.Contains(99) || bronze.Contains(100) {
		t.Fatal("bronze range must be inclusive [0,99]")
	}
	if top.Contains(199) || !top.Contains(1_000_000) {
		t.Fatal("open-ended top tier must accept any balance above its floor")
	}
}

func TestUsageWithCountReturnsCopy(t *testing.T) {
	usage := PartnerSubscriptionUsage{BranchesCount: 3}
	next := usage.WithCount(enums.UsageBranches, 0)

	if usage.BranchesCount != 3 {
		t.Fatalf("original mutated: %d", usage.BranchesCount)
	}
	if next.Count(enums.UsageBranches) != 0 {
		t.Fatalf("expected copy to carry new value, got %d", next.Count(enums.UsageBranches))
	}
}
