package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
)

// Referral links a referrer account to a referred account. A referred account
// has at most one active referral at a time; commission payouts always use the
// rate stored here at call time.
type Referral struct {
	ID             uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	ReferrerID     uuid.UUID            `gorm:"column:referrer_id;type:uuid;not null;index"`
	ReferredID     uuid.UUID            `gorm:"column:referred_id;type:uuid;not null;index"`
	CommissionRate decimal.Decimal      `gorm:"column:commission_rate;type:numeric(5,4);not null"`
	Status         enums.ReferralStatus `gorm:"column:status;type:referral_status;not null;default:'pending'"`
	CreatedAt      time.Time            `gorm:"column:created_at;autoCreateTime"`
	ExpiresAt      time.Time            `gorm:"column:expires_at;type:timestamptz;not null"`
	RevokedAt      *time.Time           `gorm:"column:revoked_at;type:timestamptz"`
}
