package enums

import "fmt"

// ReferralStatus maps to the referral_status enum in Postgres.
type ReferralStatus string

const (
	ReferralStatusPending ReferralStatus = "pending"
	ReferralStatusActive  ReferralStatus = "active"
	ReferralStatusExpired ReferralStatus = "expired"
	ReferralStatusRevoked ReferralStatus = "revoked"
)

var validReferralStatuses = []ReferralStatus{
	ReferralStatusPending,
	ReferralStatusActive,
	ReferralStatusExpired,
	ReferralStatusRevoked,
}

// IsValid reports whether the value matches the canonical referral status enum.
func (s ReferralStatus) IsValid() bool {
	for _, candidate := range validReferralStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseReferralStatus converts raw input into ReferralStatus.
func ParseReferralStatus(value string) (ReferralStatus, error) {
	for _, candidate := range validReferralStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid referral status %q", value)
}
