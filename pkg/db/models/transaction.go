package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
)

// Transaction records an immutable, append-only balance mutation. Replaying
// all of an account's transactions in (created_at, id) order and summing the
// amounts must reproduce every balance_after snapshot exactly.
type Transaction struct {
	ID           uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	UserID       uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index;uniqueIndex:idx_transactions_grant_period"`
	Amount       int64                 `gorm:"column:amount;not null"`
	Kind         enums.TransactionKind `gorm:"column:kind;type:transaction_kind;not null"`
	BalanceAfter int64                 `gorm:"column:balance_after;not null"`
	Metadata     json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	// PeriodStart is set only on subscription-grant transactions; the
	// composite unique index makes the monthly reset idempotent per period.
	PeriodStart *time.Time `gorm:"column:period_start;type:timestamptz;uniqueIndex:idx_transactions_grant_period"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}
