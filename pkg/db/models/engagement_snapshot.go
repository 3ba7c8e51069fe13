package models

import (
	"time"

	"github.com/google/uuid"
)

// EngagementSnapshot captures the bounded [0,100] engagement sub-scores and
// their weighted composite for one user. The row with a nil Day is the live
// snapshot; rows with Day set are immutable daily closings.
type EngagementSnapshot struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	UserID           uuid.UUID  `gorm:"column:user_id;type:uuid;not null;index"`
	CuriosityScore   float64    `gorm:"column:curiosity_score;not null"`
	ConsistencyScore float64    `gorm:"column:consistency_score;not null"`
	DepthScore       float64    `gorm:"column:depth_score;not null"`
	DependencyScore  float64    `gorm:"column:dependency_score;not null"`
	WindowStart      time.Time  `gorm:"column:window_start;type:timestamptz;not null"`
	WindowEnd        time.Time  `gorm:"column:window_end;type:timestamptz;not null"`
	Day              *time.Time `gorm:"column:day;type:date"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
