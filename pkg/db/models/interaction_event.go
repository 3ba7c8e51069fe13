package models

import (
	"time"

	"github.com/google/uuid"
)

// InteractionEvent is a single scoring input from the chat/tool-usage layer.
type InteractionEvent struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;not null;index:idx_interaction_events_user_occurred"`
	Topic      string    `gorm:"column:topic;type:text;not null"`
	SessionID  uuid.UUID `gorm:"column:session_id;type:uuid;not null"`
	OccurredAt time.Time `gorm:"column:occurred_at;type:timestamptz;not null;index:idx_interaction_events_user_occurred"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}
