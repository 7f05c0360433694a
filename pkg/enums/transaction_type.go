package enums

import "fmt"

// TransactionType maps to the points_transaction_type enum in Postgres.
type TransactionType string

const (
	TransactionEarning    TransactionType = "EARNING"
	TransactionRedeem     TransactionType = "REDEEM"
	TransactionAdjustment TransactionType = "ADJUSTMENT"
	TransactionExpiration TransactionType = "EXPIRATION"
	TransactionReversal   TransactionType = "REVERSAL"
)

var validTransactionTypes = []TransactionType{
	TransactionEarning,
	TransactionRedeem,
	TransactionAdjustment,
	TransactionExpiration,
	TransactionReversal,
}

func (t TransactionType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known transaction type.
func (t TransactionType) IsValid() bool {
	for _, candidate := range validTransactionTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// SystemOnly reports whether the type may only be written by internal jobs.
func (t TransactionType) SystemOnly() bool {
	return t == TransactionExpiration
}

// ParseTransactionType converts raw input into a TransactionType.
func ParseTransactionType(value string) (TransactionType, error) {
	for _, candidate := range validTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction type %q", value)
}
