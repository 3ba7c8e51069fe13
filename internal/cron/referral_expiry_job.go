package cron

import (
	"context"
	"fmt"

	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

// ReferralExpiryJobParams configures the referral expiry sweep.
type ReferralExpiryJobParams struct {
	Logger    *logger.Logger
	Referrals referralExpirer
}

type referralExpirer interface {
	ExpireDue(ctx context.Context) (int64, error)
}

// NewReferralExpiryJob builds the job that marks overdue referrals expired.
func NewReferralExpiryJob(params ReferralExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Referrals == nil {
		return nil, fmt.Errorf("referral service required")
	}
	return &referralExpiryJob{
		logg:      params.Logger,
		referrals: params.Referrals,
	}, nil
}

type referralExpiryJob struct {
	logg      *logger.Logger
	referrals referralExpirer
}

func (j *referralExpiryJob) Name() string { return "referral-expiry" }

func (j *referralExpiryJob) Run(ctx context.Context) error {
	expired, err := j.referrals.ExpireDue(ctx)
	if err != nil {
		return fmt.Errorf("expire referrals: %w", err)
	}
	reportCtx := j.logg.WithField(ctx, "expired", expired)
	j.logg.Info(reportCtx, "referral expiry sweep complete")
	return nil
}
