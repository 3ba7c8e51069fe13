package engagement

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/internal/events"
	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

// Recorder scores usage debits as interactions. A usage transaction whose
// metadata carries a topic and session id is one unit of companion activity;
// everything else passes through untouched.
type Recorder struct {
	svc  Service
	logg *logger.Logger
}

// NewRecorder wires the usage-debit recorder.
func NewRecorder(svc Service, logg *logger.Logger) (*Recorder, error) {
	if svc == nil {
		return nil, fmt.Errorf("engagement service is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Recorder{svc: svc, logg: logg}, nil
}

// Name implements events.Handler.
func (r *Recorder) Name() string { return "engagement-recorder" }

type usageMetadata struct {
	Topic     string `json:"topic"`
	SessionID string `json:"session_id"`
}

// Handle records an interaction for usage-kind ledger commits that identify
// their topic and session. Debits without that metadata are not scoring input.
func (r *Recorder) Handle(ctx context.Context, event events.Event) error {
	if event.Name != events.NameLedgerCommitted || event.Transaction == nil {
		return nil
	}
	txn := event.Transaction
	if txn.Kind != enums.TransactionKindUsage || len(txn.Metadata) == 0 {
		return nil
	}

	var meta usageMetadata
	if err := json.Unmarshal(txn.Metadata, &meta); err != nil {
		return nil
	}
	if meta.Topic == "" {
		return nil
	}
	sessionID, err := uuid.Parse(meta.SessionID)
	if err != nil || sessionID == uuid.Nil {
		return nil
	}

	_, err = r.svc.RecordInteraction(ctx, RecordInteractionInput{
		UserID:     txn.UserID,
		Topic:      meta.Topic,
		SessionID:  sessionID,
		OccurredAt: txn.CreatedAt,
	})
	return err
}
