package referrals

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
)

// Repository persists referral links.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, referral *models.Referral) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Referral, error)
	// FindOpenForReferred returns the referred account's pending or active
	// referral, if one exists. At most one such row exists at a time.
	FindOpenForReferred(ctx context.Context, referredID uuid.UUID) (*models.Referral, error)
	FindActiveForReferred(ctx context.Context, referredID uuid.UUID, now time.Time) (*models.Referral, error)
	ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]models.Referral, error)
	// UpdateStatus transitions the referral only when its current status
	// matches expected, reporting whether the transition applied.
	UpdateStatus(ctx context.Context, id uuid.UUID, expected, next enums.ReferralStatus, revokedAt *time.Time) (bool, error)
	// ExpireDue marks pending/active referrals past their expiry, returning
	// how many rows transitioned.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a referral repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, referral *models.Referral) error {
	return r.db.WithContext(ctx).Create(referral).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).First(&referral, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &referral, nil
}

func (r *repository) FindOpenForReferred(ctx context.Context, referredID uuid.UUID) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).
		Where("referred_id = ? AND status IN ?", referredID, []enums.ReferralStatus{
			enums.ReferralStatusPending,
			enums.ReferralStatusActive,
		}).
		Order("created_at DESC").
		First(&referral).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &referral, nil
}

func (r *repository) FindActiveForReferred(ctx context.Context, referredID uuid.UUID, now time.Time) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).
		Where("referred_id = ? AND status = ? AND expires_at > ?", referredID, enums.ReferralStatusActive, now).
		Order("created_at DESC").
		First(&referral).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &referral, nil
}

func (r *repository) ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]models.Referral, error) {
	var referrals []models.Referral
	err := r.db.WithContext(ctx).
		Where("referrer_id = ?", referrerID).
		Order("created_at DESC").
		Find(&referrals).Error
	if err != nil {
		return nil, err
	}
	return referrals, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, expected, next enums.ReferralStatus, revokedAt *time.Time) (bool, error) {
	updates := map[string]any{"status": next}
	if revokedAt != nil {
		updates["revoked_at"] = *revokedAt
	}
	result := r.db.WithContext(ctx).
		Model(&models.Referral{}).
		Where("id = ? AND status = ?", id, expected).
		UpdateColumns(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Referral{}).
		Where("status IN ? AND expires_at <= ?", []enums.ReferralStatus{
			enums.ReferralStatusPending,
			enums.ReferralStatusActive,
		}, now).
		UpdateColumn("status", enums.ReferralStatusExpired)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
