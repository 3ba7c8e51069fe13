package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/internal/events"
	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

// Publisher turns dispatched domain events into hub notifications.
type Publisher struct {
	hub  *Hub
	logg *logger.Logger
}

// NewPublisher wires the notification publisher.
func NewPublisher(hub *Hub, logg *logger.Logger) (*Publisher, error) {
	if hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Publisher{hub: hub, logg: logg}, nil
}

// Name implements events.Handler.
func (p *Publisher) Name() string { return "realtime-publisher" }

// Handle maps a domain event onto the wire notification and hands it to the
// hub. Events with no realtime mapping are ignored.
func (p *Publisher) Handle(_ context.Context, event events.Event) error {
	notification, ok := p.toNotification(event)
	if !ok {
		return nil
	}
	p.hub.Publish(notification)
	return nil
}

func (p *Publisher) toNotification(event events.Event) (Notification, bool) {
	switch event.Name {
	case events.NameLedgerCommitted:
		if event.Transaction == nil {
			return Notification{}, false
		}
		return Notification{
			ID:     uuid.New(),
			UserID: event.UserID,
			Type:   enums.NotificationEventCreditChanged,
			Payload: map[string]any{
				"transaction_id": event.Transaction.ID.String(),
				"kind":           string(event.Transaction.Kind),
				"amount":         event.Transaction.Amount,
				"balance_after":  event.Transaction.BalanceAfter,
			},
			CreatedAt: time.Now().UTC(),
		}, true
	case events.NameEngagementUpdated:
		if event.Snapshot == nil {
			return Notification{}, false
		}
		return Notification{
			ID:     uuid.New(),
			UserID: event.UserID,
			Type:   enums.NotificationEventEngagementUpdated,
			Payload: map[string]any{
				"curiosity_score":   event.Snapshot.CuriosityScore,
				"consistency_score": event.Snapshot.ConsistencyScore,
				"depth_score":       event.Snapshot.DepthScore,
				"dependency_score":  event.Snapshot.DependencyScore,
			},
			CreatedAt: time.Now().UTC(),
		}, true
	case events.NameCommissionRecorded:
		if event.Commission == nil {
			return Notification{}, false
		}
		return Notification{
			ID:     uuid.New(),
			UserID: event.UserID,
			Type:   enums.NotificationEventCommissionAwarded,
			Payload: map[string]any{
				"commission_amount":     event.Commission.CommissionAmount,
				"source_transaction_id": event.Commission.SourceTransactionID.String(),
				"referred_id":           event.Commission.ReferredID.String(),
			},
			CreatedAt: time.Now().UTC(),
		}, true
	default:
		return Notification{}, false
	}
}
