package enums

import "testing"

func TestParseTransactionType(t *testing.T) {
	for _, raw := range []string{"EARNING", "REDEEM", "ADJUSTMENT", "EXPIRATION", "REVERSAL"} {
		parsed, err := ParseTransactionType(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if !parsed.IsValid() {
			t.Fatalf("expected %s to be valid", raw)
		}
	}
	if _, err := ParseTransactionType("earning"); err == nil {
		t.Fatal("expected lower-case type to be rejected")
	}
	if !TransactionExpiration.SystemOnly() || TransactionEarning.SystemOnly() {
		t.Fatal("only EXPIRATION is system-only")
	}
}

func TestUsageResourceColumn(t *testing.T) {
	cases := map[UsageResource]string{
		UsageTenants:   "tenants_count",
		UsageBranches:  "branches_count",
		UsageCustomers: "customers_count",
		UsageRewards:   "rewards_count",
	}
	for resource, column := range cases {
		if got := resource.Column(); got != column {
			t.Fatalf("%s: expected %s, got %s", resource, column, got)
		}
	}
	if len(AllUsageResources()) != 4 {
		t.Fatal("expected four usage resources")
	}
}

func TestTierChangeTypeMovesTier(t *testing.T) {
	if !TierChangeDowngrade.MovesTier() || !TierChangeInitialAssignment.MovesTier() {
		t.Fatal("assignment and downgrade move the tier")
	}
	if TierChangeGraceStarted.MovesTier() || TierChangeGraceCancelled.MovesTier() {
		t.Fatal("grace transitions keep the tier")
	}
}

func TestReferralStatusTerminal(t *testing.T) {
	if ReferralPending.IsTerminal() || ReferralActive.IsTerminal() {
		t.Fatal("pending and active are not terminal")
	}
	if !ReferralCompleted.IsTerminal() || !ReferralCancelled.IsTerminal() {
		t.Fatal("completed and cancelled are terminal")
	}
}

func TestParsePolicyEnums(t *testing.T) {
	if _, err := ParseEvaluationWindow("ROLLING_90"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseDowngradeStrategy("SOMETIMES"); err == nil {
		t.Fatal("expected invalid strategy error")
	}
}

func TestOutboxDLQErrorReasonIsValid(t *testing.T) {
	for _, r := range []OutboxDLQErrorReason{OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable, OutboxDLQReasonUnresolvable} {
		if !r.IsValid() {
			t.Fatalf("%s should be valid", r)
		}
	}
	if OutboxDLQErrorReason("timeout").IsValid() {
		t.Fatal("unknown reason accepted")
	}
}
