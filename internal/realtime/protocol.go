package realtime

import (
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
)

// Wire message types on the realtime socket. Clients ignore unknown types so
// either side can grow the protocol without breaking the other.
const (
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeNotification = "notification"
)

// Message is the JSON envelope exchanged on the socket.
type Message struct {
	Type         string        `json:"type"`
	Notification *Notification `json:"notification,omitempty"`
}

// Notification is the realtime payload pushed to a user's connections. It is
// never persisted; clients that miss one resync over the REST API.
type Notification struct {
	ID        uuid.UUID                   `json:"id"`
	UserID    uuid.UUID                   `json:"user_id"`
	Type      enums.NotificationEventType `json:"type"`
	Payload   map[string]any              `json:"payload,omitempty"`
	CreatedAt time.Time                   `json:"created_at"`
}
