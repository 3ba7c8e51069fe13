package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

const (
	defaultReconcileBatchLimit = 200
	defaultReconcileLag        = 5 * time.Minute
)

// CommissionReconcileJobParams configures the commission backfill sweep.
type CommissionReconcileJobParams struct {
	Logger    *logger.Logger
	Purchases purchaseSweepRepo
	Engine    commissionAwarder
	Limit     int
	// Lag keeps freshly committed purchases out of the sweep while the live
	// event path is still delivering them.
	Lag time.Duration
	Now func() time.Time
}

type purchaseSweepRepo interface {
	ListPurchasesWithoutCommission(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error)
}

type commissionAwarder interface {
	OnPurchase(ctx context.Context, purchase *models.Transaction) (*models.CommissionTransaction, error)
}

// NewCommissionReconcileJob builds the job that replays purchases whose
// commission never landed. The live path runs on in-process events, so a
// dropped or lost event would otherwise leave an eligible purchase without
// its payout; replaying through the engine is idempotent.
func NewCommissionReconcileJob(params CommissionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Purchases == nil {
		return nil, fmt.Errorf("purchase repository required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("commission engine required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileBatchLimit
	}
	lag := params.Lag
	if lag <= 0 {
		lag = defaultReconcileLag
	}
	return &commissionReconcileJob{
		logg:      params.Logger,
		purchases: params.Purchases,
		engine:    params.Engine,
		limit:     limit,
		lag:       lag,
		now:       now,
	}, nil
}

type commissionReconcileJob struct {
	logg      *logger.Logger
	purchases purchaseSweepRepo
	engine    commissionAwarder
	limit     int
	lag       time.Duration
	now       func() time.Time
}

func (j *commissionReconcileJob) Name() string { return "commission-reconcile" }

func (j *commissionReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.lag)

	pending, err := j.purchases.ListPurchasesWithoutCommission(ctx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("list purchases without commission: %w", err)
	}

	var errs error
	awarded := 0
	for i := range pending {
		purchase := pending[i]
		commission, err := j.engine.OnPurchase(ctx, &purchase)
		if err != nil {
			logCtx := j.logg.WithFields(ctx, map[string]any{
				"source_transaction_id": purchase.ID.String(),
				"user_id":               purchase.UserID.String(),
			})
			j.logg.Error(logCtx, "commission replay failed for purchase", err)
			errs = multierr.Append(errs, fmt.Errorf("replay %s: %w", purchase.ID, err))
			continue
		}
		// Purchases with no active referral replay to nothing; that is their
		// settled state, not a backlog.
		if commission != nil {
			awarded++
		}
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(pending),
		"awarded":    awarded,
	})
	j.logg.Info(reportCtx, "commission reconcile sweep complete")
	return errs
}
