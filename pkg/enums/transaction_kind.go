package enums

import "fmt"

// TransactionKind maps to the transaction_kind enum in Postgres.
type TransactionKind string

const (
	TransactionKindUsage             TransactionKind = "usage"
	TransactionKindPurchase          TransactionKind = "purchase"
	TransactionKindBonus             TransactionKind = "bonus"
	TransactionKindRefund            TransactionKind = "refund"
	TransactionKindSubscriptionGrant TransactionKind = "subscription_grant"
	TransactionKindCommissionPayout  TransactionKind = "commission_payout"
)

var validTransactionKinds = []TransactionKind{
	TransactionKindUsage,
	TransactionKindPurchase,
	TransactionKindBonus,
	TransactionKindRefund,
	TransactionKindSubscriptionGrant,
	TransactionKindCommissionPayout,
}

// IsValid reports whether the value matches the canonical transaction kind enum.
func (k TransactionKind) IsValid() bool {
	for _, candidate := range validTransactionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// IsDebitKind reports whether the kind only ever appears on debit transactions.
func (k TransactionKind) IsDebitKind() bool {
	return k == TransactionKindUsage
}

// ParseTransactionKind converts raw input into TransactionKind.
func ParseTransactionKind(value string) (TransactionKind, error) {
	for _, candidate := range validTransactionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction kind %q", value)
}
