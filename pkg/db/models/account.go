package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
)

// Account holds a user's credit balance and billing period. The balance is
// mutated only by the credit ledger and never goes negative. Accounts are
// soft-archived, never hard-deleted.
type Account struct {
	UserID           uuid.UUID         `gorm:"column:user_id;type:uuid;primaryKey"`
	Balance          int64             `gorm:"column:balance;not null;default:0"`
	Tier             enums.AccountTier `gorm:"column:tier;type:account_tier;not null;default:'free'"`
	MonthlyAllowance int64             `gorm:"column:monthly_allowance;not null;default:0"`
	PeriodStart      time.Time         `gorm:"column:period_start;type:timestamptz"`
	PeriodEnd        time.Time         `gorm:"column:period_end;type:timestamptz"`
	FrozenAt         *time.Time        `gorm:"column:frozen_at;type:timestamptz"`
	ArchivedAt       *time.Time        `gorm:"column:archived_at;type:timestamptz"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// Frozen reports whether the account is blocked for writes after an
// integrity violation.
func (a *Account) Frozen() bool {
	return a != nil && a.FrozenAt != nil
}
