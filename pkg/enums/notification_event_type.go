package enums

import "fmt"

// NotificationEventType identifies the realtime events this subsystem pushes.
// Clients must ignore unknown values so collaborators can add their own types.
type NotificationEventType string

const (
	NotificationEventCreditChanged     NotificationEventType = "credit_changed"
	NotificationEventEngagementUpdated NotificationEventType = "engagement_updated"
	NotificationEventCommissionAwarded NotificationEventType = "commission_awarded"
)

var validNotificationEventTypes = []NotificationEventType{
	NotificationEventCreditChanged,
	NotificationEventEngagementUpdated,
	NotificationEventCommissionAwarded,
}

// IsValid reports whether the value is one of this subsystem's event types.
func (t NotificationEventType) IsValid() bool {
	for _, candidate := range validNotificationEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseNotificationEventType converts raw input into NotificationEventType.
func ParseNotificationEventType(value string) (NotificationEventType, error) {
	for _, candidate := range validNotificationEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification event type %q", value)
}
