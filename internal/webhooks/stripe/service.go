package stripewebhook

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/halcyonlabs/halcyon-backend/internal/ledger"
	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
	pkgerrors "github.com/halcyonlabs/halcyon-backend/pkg/errors"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

// Payment intents must carry the purchasing user and the credit amount in
// metadata; the charge itself is settled out of band.
const (
	metadataUserID  = "user_id"
	metadataCredits = "credits"
)

type ledgerCreditor interface {
	Credit(ctx context.Context, input ledger.CreditInput) (*models.Transaction, error)
}

// ServiceParams configure the Stripe webhook service.
type ServiceParams struct {
	Ledger ledgerCreditor
	Logger *logger.Logger
}

// Service converts verified Stripe events into ledger credits. Stripe is
// strictly the top-up boundary; nothing else crosses it.
type Service struct {
	ledger ledgerCreditor
	logg   *logger.Logger
}

// NewService builds the webhook service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{ledger: params.Ledger, logg: params.Logger}, nil
}

// HandleEvent processes one verified Stripe event. Event types without a
// credit mapping are acknowledged and skipped.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payment intent")
		}
		return s.creditPurchase(ctx, &intent)
	default:
		return nil
	}
}

func (s *Service) creditPurchase(ctx context.Context, intent *stripe.PaymentIntent) error {
	if intent == nil || intent.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent is required")
	}

	userID, err := uuid.Parse(intent.Metadata[metadataUserID])
	if err != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent missing user_id metadata")
	}
	credits, err := strconv.ParseInt(intent.Metadata[metadataCredits], 10, 64)
	if err != nil || credits <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent missing a positive credits metadata value")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":           userID.String(),
		"payment_intent_id": intent.ID,
		"credits":           credits,
	})

	txn, err := s.ledger.Credit(ctx, ledger.CreditInput{
		UserID: userID,
		Amount: credits,
		Kind:   enums.TransactionKindPurchase,
		Metadata: map[string]any{
			"payment_intent_id": intent.ID,
			"amount_received":   intent.AmountReceived,
			"currency":          string(intent.Currency),
		},
	})
	if err != nil {
		return err
	}

	s.logg.Info(s.logg.WithField(logCtx, "transaction_id", txn.ID.String()), "purchase credited from payment")
	return nil
}
