package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionTransaction ties a purchase transaction to the referral payout it
// produced. The unique source transaction id makes the commission engine
// idempotent per purchase.
type CommissionTransaction struct {
	ID                  uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SourceTransactionID uuid.UUID       `gorm:"column:source_transaction_id;type:uuid;not null;uniqueIndex:idx_commission_source_tx"`
	ReferrerID          uuid.UUID       `gorm:"column:referrer_id;type:uuid;not null;index"`
	ReferredID          uuid.UUID       `gorm:"column:referred_id;type:uuid;not null"`
	GrossAmount         int64           `gorm:"column:gross_amount;not null"`
	CommissionRate      decimal.Decimal `gorm:"column:commission_rate;type:numeric(5,4);not null"`
	CommissionAmount    int64           `gorm:"column:commission_amount;not null"`
	PayoutTransactionID uuid.UUID       `gorm:"column:payout_transaction_id;type:uuid;not null"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime"`
}
