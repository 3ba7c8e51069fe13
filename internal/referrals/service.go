package referrals

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/halcyonlabs/halcyon-backend/pkg/config"
	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
	"github.com/halcyonlabs/halcyon-backend/pkg/errors"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

// Service manages referral links between accounts. Commission payouts read
// the rate stored here at call time; rate changes never apply retroactively.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Referral, error)
	Activate(ctx context.Context, id uuid.UUID) (*models.Referral, error)
	Revoke(ctx context.Context, id uuid.UUID) (*models.Referral, error)
	ActiveForReferred(ctx context.Context, referredID uuid.UUID) (*models.Referral, error)
	ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]models.Referral, error)
	ExpireDue(ctx context.Context) (int64, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo        Repository
	runner      txRunner
	defaultRate decimal.Decimal
	maxRate     decimal.Decimal
	ttl         time.Duration
	logg        *logger.Logger
	now         func() time.Time
}

// NewService wires the referral service from its configuration.
func NewService(repo Repository, runner txRunner, cfg config.ReferralConfig, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("referral repository is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	defaultRate, err := decimal.NewFromString(cfg.DefaultRate)
	if err != nil {
		return nil, fmt.Errorf("parsing default commission rate: %w", err)
	}
	maxRate, err := decimal.NewFromString(cfg.MaxRate)
	if err != nil {
		return nil, fmt.Errorf("parsing max commission rate: %w", err)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("referral ttl must be positive")
	}
	return &service{
		repo:        repo,
		runner:      runner,
		defaultRate: defaultRate,
		maxRate:     maxRate,
		ttl:         cfg.TTL,
		logg:        logg,
		now:         time.Now,
	}, nil
}

// CreateInput describes a new referral link. A zero Rate uses the configured
// default.
type CreateInput struct {
	ReferrerID uuid.UUID
	ReferredID uuid.UUID
	Rate       decimal.Decimal
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Referral, error) {
	if input.ReferrerID == uuid.Nil || input.ReferredID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "referrer and referred ids are required")
	}
	if input.ReferrerID == input.ReferredID {
		return nil, errors.New(errors.CodeValidation, "an account cannot refer itself")
	}

	rate := input.Rate
	if rate.IsZero() {
		rate = s.defaultRate
	}
	if rate.IsNegative() || rate.GreaterThan(s.maxRate) {
		return nil, errors.New(errors.CodeValidation, "commission rate out of bounds").
			WithDetails(map[string]any{
				"rate": rate.String(),
				"max":  s.maxRate.String(),
			})
	}

	var referral *models.Referral
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		open, err := repo.FindOpenForReferred(ctx, input.ReferredID)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "checking open referral")
		}
		if open != nil {
			return errors.New(errors.CodeConflict, "referred account already has an open referral")
		}

		referral = &models.Referral{
			ID:             uuid.New(),
			ReferrerID:     input.ReferrerID,
			ReferredID:     input.ReferredID,
			CommissionRate: rate,
			Status:         enums.ReferralStatusPending,
			ExpiresAt:      s.now().UTC().Add(s.ttl),
		}
		if err := repo.Create(ctx, referral); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "creating referral")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"referral_id": referral.ID.String(),
		"referrer_id": input.ReferrerID.String(),
		"referred_id": input.ReferredID.String(),
		"rate":        rate.String(),
	}), "referral created")
	return referral, nil
}

func (s *service) Activate(ctx context.Context, id uuid.UUID) (*models.Referral, error) {
	return s.transition(ctx, id, enums.ReferralStatusPending, enums.ReferralStatusActive, nil)
}

func (s *service) Revoke(ctx context.Context, id uuid.UUID) (*models.Referral, error) {
	revokedAt := s.now().UTC()
	referral, err := s.transition(ctx, id, enums.ReferralStatusActive, enums.ReferralStatusRevoked, &revokedAt)
	if err != nil && errors.IsCode(err, errors.CodeConflict) {
		// Revoking a still-pending referral is also allowed.
		return s.transition(ctx, id, enums.ReferralStatusPending, enums.ReferralStatusRevoked, &revokedAt)
	}
	return referral, err
}

func (s *service) transition(ctx context.Context, id uuid.UUID, expected, next enums.ReferralStatus, revokedAt *time.Time) (*models.Referral, error) {
	if id == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "referral id is required")
	}

	referral, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading referral")
	}
	if referral == nil {
		return nil, errors.New(errors.CodeNotFound, "referral not found")
	}

	applied, err := s.repo.UpdateStatus(ctx, id, expected, next, revokedAt)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "updating referral status")
	}
	if !applied {
		return nil, errors.New(errors.CodeConflict, fmt.Sprintf("referral is not %s", expected))
	}

	referral.Status = next
	referral.RevokedAt = revokedAt
	return referral, nil
}

// ActiveForReferred returns the referred account's active, unexpired referral
// or nil when none exists. Callers treat nil as "no commission due".
func (s *service) ActiveForReferred(ctx context.Context, referredID uuid.UUID) (*models.Referral, error) {
	if referredID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "referred id is required")
	}
	referral, err := s.repo.FindActiveForReferred(ctx, referredID, s.now().UTC())
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading active referral")
	}
	return referral, nil
}

func (s *service) ListByReferrer(ctx context.Context, referrerID uuid.UUID) ([]models.Referral, error) {
	if referrerID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "referrer id is required")
	}
	referrals, err := s.repo.ListByReferrer(ctx, referrerID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "listing referrals")
	}
	return referrals, nil
}

// ExpireDue sweeps referrals past their expiry. Safe to replay.
func (s *service) ExpireDue(ctx context.Context) (int64, error) {
	expired, err := s.repo.ExpireDue(ctx, s.now().UTC())
	if err != nil {
		return 0, errors.Wrap(errors.CodeInternal, err, "expiring referrals")
	}
	if expired > 0 {
		s.logg.Info(s.logg.WithField(ctx, "expired", expired), "referrals expired")
	}
	return expired, nil
}
