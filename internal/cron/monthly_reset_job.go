package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

const defaultResetBatchLimit = 500

// MonthlyResetJobParams configures the allowance reset sweep.
type MonthlyResetJobParams struct {
	Logger   *logger.Logger
	Accounts accountSweepRepo
	Ledger   balanceResetter
	Limit    int
	Now      func() time.Time
}

type accountSweepRepo interface {
	ListAccountsDueReset(ctx context.Context, cutoff time.Time, limit int) ([]models.Account, error)
}

type balanceResetter interface {
	ApplyMonthlyReset(ctx context.Context, userID uuid.UUID, periodStart time.Time) (*models.Transaction, error)
}

// NewMonthlyResetJob builds the job that grants each due account its new
// monthly allowance.
func NewMonthlyResetJob(params MonthlyResetJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("account repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultResetBatchLimit
	}
	return &monthlyResetJob{
		logg:     params.Logger,
		accounts: params.Accounts,
		ledger:   params.Ledger,
		limit:    limit,
		now:      now,
	}, nil
}

type monthlyResetJob struct {
	logg     *logger.Logger
	accounts accountSweepRepo
	ledger   balanceResetter
	limit    int
	now      func() time.Time
}

func (j *monthlyResetJob) Name() string { return "monthly-allowance-reset" }

func (j *monthlyResetJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	periodStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	due, err := j.accounts.ListAccountsDueReset(ctx, now, j.limit)
	if err != nil {
		return fmt.Errorf("list accounts due reset: %w", err)
	}

	var errs error
	reset := 0
	for i := range due {
		userID := due[i].UserID
		if _, err := j.ledger.ApplyMonthlyReset(ctx, userID, periodStart); err != nil {
			logCtx := j.logg.WithUserID(ctx, userID.String())
			j.logg.Error(logCtx, "monthly reset failed for account", err)
			errs = multierr.Append(errs, fmt.Errorf("reset %s: %w", userID, err))
			continue
		}
		reset++
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(due),
		"reset":      reset,
	})
	j.logg.Info(reportCtx, "monthly reset sweep complete")
	return errs
}
