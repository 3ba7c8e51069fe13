package enums

import "fmt"

// AccountTier maps to the account_tier enum in Postgres.
type AccountTier string

const (
	AccountTierFree       AccountTier = "free"
	AccountTierBasic      AccountTier = "basic"
	AccountTierPro        AccountTier = "pro"
	AccountTierPremium    AccountTier = "premium"
	AccountTierEnterprise AccountTier = "enterprise"
)

var validAccountTiers = []AccountTier{
	AccountTierFree,
	AccountTierBasic,
	AccountTierPro,
	AccountTierPremium,
	AccountTierEnterprise,
}

// IsValid reports whether the value matches the canonical account tier enum.
func (t AccountTier) IsValid() bool {
	for _, candidate := range validAccountTiers {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseAccountTier converts raw input into AccountTier.
func ParseAccountTier(value string) (AccountTier, error) {
	for _, candidate := range validAccountTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid account tier %q", value)
}
