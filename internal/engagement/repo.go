package engagement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
)

// Repository persists interaction events and engagement snapshots.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateInteraction(ctx context.Context, event *models.InteractionEvent) error
	ListInteractions(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.InteractionEvent, error)
	FindCurrentSnapshot(ctx context.Context, userID uuid.UUID) (*models.EngagementSnapshot, error)
	SaveCurrentSnapshot(ctx context.Context, snapshot *models.EngagementSnapshot) error
	FindDailySnapshot(ctx context.Context, userID uuid.UUID, day time.Time) (*models.EngagementSnapshot, error)
	CreateDailySnapshot(ctx context.Context, snapshot *models.EngagementSnapshot) error
	ListUserIDsWithCurrentSnapshot(ctx context.Context) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an engagement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateInteraction(ctx context.Context, event *models.InteractionEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListInteractions(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.InteractionEvent, error) {
	var events []models.InteractionEvent
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND occurred_at >= ? AND occurred_at < ?", userID, from, to).
		Order("occurred_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) FindCurrentSnapshot(ctx context.Context, userID uuid.UUID) (*models.EngagementSnapshot, error) {
	var snapshot models.EngagementSnapshot
	err := r.db.WithContext(ctx).
		First(&snapshot, "user_id = ? AND day IS NULL", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

// SaveCurrentSnapshot updates the live row in place, creating it on the first
// interaction. Daily rows are never touched here.
func (r *repository) SaveCurrentSnapshot(ctx context.Context, snapshot *models.EngagementSnapshot) error {
	existing, err := r.FindCurrentSnapshot(ctx, snapshot.UserID)
	if err != nil {
		return err
	}
	if existing == nil {
		return r.db.WithContext(ctx).Create(snapshot).Error
	}
	snapshot.ID = existing.ID
	snapshot.CreatedAt = existing.CreatedAt
	return r.db.WithContext(ctx).
		Model(&models.EngagementSnapshot{}).
		Where("id = ?", existing.ID).
		UpdateColumns(map[string]any{
			"curiosity_score":   snapshot.CuriosityScore,
			"consistency_score": snapshot.ConsistencyScore,
			"depth_score":       snapshot.DepthScore,
			"dependency_score":  snapshot.DependencyScore,
			"window_start":      snapshot.WindowStart,
			"window_end":        snapshot.WindowEnd,
			"updated_at":        time.Now().UTC(),
		}).Error
}

func (r *repository) FindDailySnapshot(ctx context.Context, userID uuid.UUID, day time.Time) (*models.EngagementSnapshot, error) {
	var snapshot models.EngagementSnapshot
	err := r.db.WithContext(ctx).
		First(&snapshot, "user_id = ? AND day = ?", userID, day).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snapshot, nil
}

func (r *repository) CreateDailySnapshot(ctx context.Context, snapshot *models.EngagementSnapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

func (r *repository) ListUserIDsWithCurrentSnapshot(ctx context.Context) ([]uuid.UUID, error) {
	var userIDs []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.EngagementSnapshot{}).
		Where("day IS NULL").
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, err
	}
	return userIDs, nil
}
