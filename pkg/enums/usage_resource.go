package enums

import "fmt"

// UsageResource names a counter on partner_subscription_usage.
type UsageResource string

const (
	UsageTenants   UsageResource = "tenants"
	UsageBranches  UsageResource = "branches"
	UsageCustomers UsageResource = "customers"
	UsageRewards   UsageResource = "rewards"
)

var validUsageResources = []UsageResource{
	UsageTenants,
	UsageBranches,
	UsageCustomers,
	UsageRewards,
}

// AllUsageResources returns every counter in column order.
func AllUsageResources() []UsageResource {
	return append([]UsageResource(nil), validUsageResources...)
}

func (r UsageResource) IsValid() bool {
	for _, candidate := range validUsageResources {
		if candidate == r {
			return true
		}
	}
	return false
}

// Column returns the partner_subscription_usage column backing the counter.
func (r UsageResource) Column() string {
	return string(r) + "_count"
}

// ParseUsageResource converts raw input into a UsageResource.
func ParseUsageResource(value string) (UsageResource, error) {
	for _, candidate := range validUsageResources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid usage resource %q", value)
}
