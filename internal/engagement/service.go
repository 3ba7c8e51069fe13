package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/halcyonlabs/halcyon-backend/pkg/config"
	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/errors"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

// Sink receives recomputed snapshots for asynchronous fan-out.
type Sink interface {
	EngagementUpdated(snapshot *models.EngagementSnapshot)
}

// Service maintains the rolling engagement scores. Writes recompute the live
// snapshot; reads never recompute.
type Service interface {
	RecordInteraction(ctx context.Context, input RecordInteractionInput) (*models.EngagementSnapshot, error)
	GetSnapshot(ctx context.Context, userID uuid.UUID) (*models.EngagementSnapshot, error)
	RolloverDaily(ctx context.Context, day time.Time) (int, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo   Repository
	runner txRunner
	cfg    config.EngagementConfig
	sink   Sink
	logg   *logger.Logger
	now    func() time.Time
}

// NewService wires the engagement service. The sink is optional.
func NewService(repo Repository, runner txRunner, cfg config.EngagementConfig, sink Sink, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("engagement repository is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("transaction runner is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.WindowDays <= 0 {
		return nil, fmt.Errorf("scoring window must be positive")
	}
	return &service{
		repo:   repo,
		runner: runner,
		cfg:    cfg,
		sink:   sink,
		logg:   logg,
		now:    time.Now,
	}, nil
}

// RecordInteractionInput is one scoring input from the chat/tool-usage layer.
type RecordInteractionInput struct {
	UserID     uuid.UUID
	Topic      string
	SessionID  uuid.UUID
	OccurredAt time.Time
}

func (s *service) RecordInteraction(ctx context.Context, input RecordInteractionInput) (*models.EngagementSnapshot, error) {
	if input.UserID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if input.Topic == "" {
		return nil, errors.New(errors.CodeValidation, "topic is required")
	}
	if input.SessionID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "session id is required")
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now().UTC()
	}

	windowEnd := s.now().UTC()
	windowStart := windowEnd.AddDate(0, 0, -s.cfg.WindowDays)
	if occurredAt.Before(windowStart) {
		// Late events outside the window cannot change the scores.
		return nil, errors.New(errors.CodeValidation, "interaction is outside the scoring window")
	}

	var snapshot *models.EngagementSnapshot
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		event := &models.InteractionEvent{
			ID:         uuid.New(),
			UserID:     input.UserID,
			Topic:      input.Topic,
			SessionID:  input.SessionID,
			OccurredAt: occurredAt,
		}
		if err := repo.CreateInteraction(ctx, event); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "recording interaction")
		}

		events, err := repo.ListInteractions(ctx, input.UserID, windowStart, windowEnd.Add(time.Second))
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "loading interaction window")
		}
		sortEventsByOccurrence(events)
		scores := computeScores(events, s.cfg)

		snapshot = &models.EngagementSnapshot{
			ID:               uuid.New(),
			UserID:           input.UserID,
			CuriosityScore:   scores.Curiosity,
			ConsistencyScore: scores.Consistency,
			DepthScore:       scores.Depth,
			DependencyScore:  scores.Dependency,
			WindowStart:      windowStart,
			WindowEnd:        windowEnd,
		}
		if err := repo.SaveCurrentSnapshot(ctx, snapshot); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "saving snapshot")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.sink != nil {
		s.sink.EngagementUpdated(snapshot)
	}
	return snapshot, nil
}

// GetSnapshot returns the live snapshot. Users with no interactions read as a
// zeroed snapshot over the current window; nothing is persisted for them.
func (s *service) GetSnapshot(ctx context.Context, userID uuid.UUID) (*models.EngagementSnapshot, error) {
	if userID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	snapshot, err := s.repo.FindCurrentSnapshot(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading snapshot")
	}
	if snapshot == nil {
		windowEnd := s.now().UTC()
		return &models.EngagementSnapshot{
			UserID:      userID,
			WindowStart: windowEnd.AddDate(0, 0, -s.cfg.WindowDays),
			WindowEnd:   windowEnd,
		}, nil
	}
	return snapshot, nil
}

// RolloverDaily closes the given day by copying each live snapshot into an
// immutable daily row. Replays skip users whose daily row already exists.
func (s *service) RolloverDaily(ctx context.Context, day time.Time) (int, error) {
	if day.IsZero() {
		return 0, errors.New(errors.CodeValidation, "day is required")
	}
	day = day.UTC().Truncate(24 * time.Hour)

	userIDs, err := s.repo.ListUserIDsWithCurrentSnapshot(ctx)
	if err != nil {
		return 0, errors.Wrap(errors.CodeInternal, err, "listing snapshot users")
	}

	closed := 0
	for _, userID := range userIDs {
		existing, err := s.repo.FindDailySnapshot(ctx, userID, day)
		if err != nil {
			return closed, errors.Wrap(errors.CodeInternal, err, "checking daily snapshot")
		}
		if existing != nil {
			continue
		}
		current, err := s.repo.FindCurrentSnapshot(ctx, userID)
		if err != nil {
			return closed, errors.Wrap(errors.CodeInternal, err, "loading current snapshot")
		}
		if current == nil {
			continue
		}
		daily := &models.EngagementSnapshot{
			ID:               uuid.New(),
			UserID:           userID,
			CuriosityScore:   current.CuriosityScore,
			ConsistencyScore: current.ConsistencyScore,
			DepthScore:       current.DepthScore,
			DependencyScore:  current.DependencyScore,
			WindowStart:      current.WindowStart,
			WindowEnd:        current.WindowEnd,
			Day:              &day,
		}
		if err := s.repo.CreateDailySnapshot(ctx, daily); err != nil {
			return closed, errors.Wrap(errors.CodeInternal, err, "closing daily snapshot")
		}
		closed++
	}

	if closed > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"day":    day.Format("2006-01-02"),
			"closed": closed,
		}), "daily engagement snapshots closed")
	}
	return closed, nil
}
