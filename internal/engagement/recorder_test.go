package engagement

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/internal/events"
	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

type captureService struct {
	Service
	inputs []RecordInteractionInput
	err    error
}

func (c *captureService) RecordInteraction(ctx context.Context, input RecordInteractionInput) (*models.EngagementSnapshot, error) {
	c.inputs = append(c.inputs, input)
	if c.err != nil {
		return nil, c.err
	}
	return &models.EngagementSnapshot{UserID: input.UserID}, nil
}

func usageEvent(t *testing.T, kind enums.TransactionKind, metadata map[string]any) events.Event {
	t.Helper()
	var raw json.RawMessage
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			t.Fatalf("marshal metadata: %v", err)
		}
		raw = encoded
	}
	txn := &models.Transaction{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		Amount:    -3,
		Kind:      kind,
		Metadata:  raw,
		CreatedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	return events.Event{
		ID:          uuid.New(),
		Name:        events.NameLedgerCommitted,
		UserID:      txn.UserID,
		OccurredAt:  txn.CreatedAt,
		Transaction: txn,
	}
}

func TestRecorderRecordsUsageDebit(t *testing.T) {
	svc := &captureService{}
	recorder, err := NewRecorder(svc, logger.New(logger.Options{ServiceName: "recorder-test"}))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	sessionID := uuid.New()
	event := usageEvent(t, enums.TransactionKindUsage, map[string]any{
		"topic":      "astronomy",
		"session_id": sessionID.String(),
	})
	if err := recorder.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(svc.inputs) != 1 {
		t.Fatalf("expected 1 recorded interaction got %d", len(svc.inputs))
	}
	got := svc.inputs[0]
	if got.UserID != event.UserID {
		t.Fatalf("user mismatch: %s vs %s", got.UserID, event.UserID)
	}
	if got.Topic != "astronomy" {
		t.Fatalf("unexpected topic %q", got.Topic)
	}
	if got.SessionID != sessionID {
		t.Fatalf("unexpected session %s", got.SessionID)
	}
	if !got.OccurredAt.Equal(event.OccurredAt) {
		t.Fatalf("unexpected occurred_at %s", got.OccurredAt)
	}
}

func TestRecorderSkipsNonScoringEvents(t *testing.T) {
	svc := &captureService{}
	recorder, err := NewRecorder(svc, logger.New(logger.Options{ServiceName: "recorder-test"}))
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	cases := []struct {
		name  string
		event events.Event
	}{
		{"purchase kind", usageEvent(t, enums.TransactionKindPurchase, map[string]any{"topic": "a", "session_id": uuid.NewString()})},
		{"no metadata", usageEvent(t, enums.TransactionKindUsage, nil)},
		{"missing topic", usageEvent(t, enums.TransactionKindUsage, map[string]any{"session_id": uuid.NewString()})},
		{"bad session id", usageEvent(t, enums.TransactionKindUsage, map[string]any{"topic": "a", "session_id": "not-a-uuid"})},
		{"wrong event name", events.Event{Name: events.NameEngagementUpdated}},
	}
	for _, tc := range cases {
		if err := recorder.Handle(context.Background(), tc.event); err != nil {
			t.Fatalf("%s: Handle: %v", tc.name, err)
		}
	}
	if len(svc.inputs) != 0 {
		t.Fatalf("expected no recorded interactions got %d", len(svc.inputs))
	}
}
