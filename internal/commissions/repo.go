package commissions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
)

// Repository persists commission records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, commission *models.CommissionTransaction) error
	FindBySourceTransaction(ctx context.Context, sourceTransactionID uuid.UUID) (*models.CommissionTransaction, error)
	ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]models.CommissionTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a commission repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, commission *models.CommissionTransaction) error {
	return r.db.WithContext(ctx).Create(commission).Error
}

func (r *repository) FindBySourceTransaction(ctx context.Context, sourceTransactionID uuid.UUID) (*models.CommissionTransaction, error) {
	var commission models.CommissionTransaction
	err := r.db.WithContext(ctx).
		First(&commission, "source_transaction_id = ?", sourceTransactionID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &commission, nil
}

func (r *repository) ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]models.CommissionTransaction, error) {
	var commissions []models.CommissionTransaction
	err := r.db.WithContext(ctx).
		Where("referrer_id = ?", referrerID).
		Order("created_at DESC").
		Find(&commissions).Error
	if err != nil {
		return nil, err
	}
	return commissions, nil
}
