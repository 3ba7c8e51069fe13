package engagement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/pkg/errors"
	"github.com/halcyonlabs/halcyon-backend/pkg/idempotency"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

const interactionConsumer = "engagement-interactions"

// eventTypeInteraction is the only event type this consumer handles; the
// subscription may carry other producers' events.
const eventTypeInteraction = "interaction.recorded"

// interactionPayload is the wire shape published by the chat/tool-usage layer.
// Messages are keyed by user id (Pub/Sub ordering key), so one user's
// interactions arrive in order.
type interactionPayload struct {
	EventID    string    `json:"event_id"`
	UserID     uuid.UUID `json:"user_id"`
	Topic      string    `json:"topic"`
	SessionID  uuid.UUID `json:"session_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Consumer feeds interaction events from Pub/Sub into the scoring service.
type Consumer struct {
	service      Service
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds the interaction-event consumer.
func NewConsumer(service Service, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if service == nil {
		return nil, fmt.Errorf("engagement service required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("interactions subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		service:      service,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != eventTypeInteraction {
		c.logg.Info(logCtx, "skipping non-interaction event")
		return processResult{ack: true}
	}

	var payload interactionPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		c.logg.Error(logCtx, "failed to decode interaction payload", err)
		return processResult{ack: true}
	}
	if payload.EventID == "" {
		c.logg.Warn(logCtx, "interaction event missing event id")
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, interactionConsumer, payload.EventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "interaction event already processed")
		return processResult{ack: true}
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id": payload.EventID,
		"user_id":  payload.UserID.String(),
	})

	_, err = c.service.RecordInteraction(ctx, RecordInteractionInput{
		UserID:     payload.UserID,
		Topic:      payload.Topic,
		SessionID:  payload.SessionID,
		OccurredAt: payload.OccurredAt,
	})
	if err != nil {
		if errors.IsCode(err, errors.CodeValidation) {
			// A malformed or stale event never becomes valid on retry.
			c.logg.Warn(c.logg.WithField(logCtx, "reason", err.Error()), "discarding invalid interaction event")
			return processResult{ack: true}
		}
		c.logg.Error(logCtx, "recording interaction failed", err)
		_ = c.idempotency.Delete(ctx, interactionConsumer, payload.EventID)
		return processResult{nack: true}
	}

	c.logg.Info(logCtx, "interaction event recorded")
	return processResult{ack: true}
}
