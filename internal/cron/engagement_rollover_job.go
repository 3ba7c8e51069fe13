package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

// EngagementRolloverJobParams configures the daily snapshot rollover.
type EngagementRolloverJobParams struct {
	Logger     *logger.Logger
	Engagement snapshotRoller
	Now        func() time.Time
}

type snapshotRoller interface {
	RolloverDaily(ctx context.Context, day time.Time) (int, error)
}

// NewEngagementRolloverJob builds the job that freezes yesterday's engagement
// snapshots into their immutable daily rows.
func NewEngagementRolloverJob(params EngagementRolloverJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Engagement == nil {
		return nil, fmt.Errorf("engagement service required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &engagementRolloverJob{
		logg:       params.Logger,
		engagement: params.Engagement,
		now:        now,
	}, nil
}

type engagementRolloverJob struct {
	logg       *logger.Logger
	engagement snapshotRoller
	now        func() time.Time
}

func (j *engagementRolloverJob) Name() string { return "engagement-rollover" }

func (j *engagementRolloverJob) Run(ctx context.Context) error {
	day := j.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -1)
	closed, err := j.engagement.RolloverDaily(ctx, day)
	if err != nil {
		return fmt.Errorf("rollover engagement snapshots: %w", err)
	}
	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"day":    day.Format("2006-01-02"),
		"closed": closed,
	})
	j.logg.Info(reportCtx, "engagement rollover complete")
	return nil
}
