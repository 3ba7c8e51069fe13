package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/halcyonlabs/halcyon-backend/internal/ledger"
	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
	pkgerrors "github.com/halcyonlabs/halcyon-backend/pkg/errors"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

type stubCreditor struct {
	inputs []ledger.CreditInput
	err    error
}

func (s *stubCreditor) Credit(_ context.Context, input ledger.CreditInput) (*models.Transaction, error) {
	s.inputs = append(s.inputs, input)
	if s.err != nil {
		return nil, s.err
	}
	return &models.Transaction{ID: uuid.New(), UserID: input.UserID, Amount: input.Amount}, nil
}

func newTestService(t *testing.T, creditor *stubCreditor) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Ledger: creditor,
		Logger: logger.New(logger.Options{ServiceName: "stripe-webhook-test"}),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service
}

func paymentIntentEvent(t *testing.T, intent *stripe.PaymentIntent) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: stripe.EventTypePaymentIntentSucceeded,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestService_PaymentIntentSucceededCreditsPurchase(t *testing.T) {
	userID := uuid.New()
	creditor := &stubCreditor{}
	service := newTestService(t, creditor)

	event := paymentIntentEvent(t, &stripe.PaymentIntent{
		ID:             "pi_test",
		AmountReceived: 999,
		Currency:       stripe.CurrencyUSD,
		Metadata: map[string]string{
			"user_id": userID.String(),
			"credits": "500",
		},
	})

	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(creditor.inputs) != 1 {
		t.Fatalf("expected one credit, got %d", len(creditor.inputs))
	}
	input := creditor.inputs[0]
	if input.UserID != userID || input.Amount != 500 {
		t.Fatalf("unexpected credit input: %+v", input)
	}
	if input.Kind != enums.TransactionKindPurchase {
		t.Fatalf("expected purchase kind, got %s", input.Kind)
	}
	if input.Metadata["payment_intent_id"] != "pi_test" {
		t.Fatalf("expected payment reference in metadata, got %+v", input.Metadata)
	}
}

func TestService_RejectsIntentWithoutMetadata(t *testing.T) {
	creditor := &stubCreditor{}
	service := newTestService(t, creditor)

	cases := map[string]map[string]string{
		"missing user":    {"credits": "100"},
		"missing credits": {"user_id": uuid.NewString()},
		"bad credits":     {"user_id": uuid.NewString(), "credits": "zero"},
		"negative":        {"user_id": uuid.NewString(), "credits": "-5"},
	}
	for name, metadata := range cases {
		event := paymentIntentEvent(t, &stripe.PaymentIntent{ID: "pi_bad", Metadata: metadata})
		err := service.HandleEvent(context.Background(), event)
		if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	if len(creditor.inputs) != 0 {
		t.Fatalf("no credits expected, got %d", len(creditor.inputs))
	}
}

func TestService_IgnoresUnrelatedEventTypes(t *testing.T) {
	creditor := &stubCreditor{}
	service := newTestService(t, creditor)

	event := &stripe.Event{
		Type: stripe.EventTypeCustomerCreated,
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("expected unrelated event to be skipped, got %v", err)
	}
	if len(creditor.inputs) != 0 {
		t.Fatalf("no credits expected for unrelated events")
	}
}

func TestService_PropagatesLedgerError(t *testing.T) {
	creditor := &stubCreditor{err: errors.New("db down")}
	service := newTestService(t, creditor)

	event := paymentIntentEvent(t, &stripe.PaymentIntent{
		ID: "pi_fail",
		Metadata: map[string]string{
			"user_id": uuid.NewString(),
			"credits": "100",
		},
	})
	if err := service.HandleEvent(context.Background(), event); err == nil {
		t.Fatal("expected ledger error to propagate")
	}
}

type fakeIdempotencyStore struct {
	keys map[string]string
}

func (f *fakeIdempotencyStore) Get(_ context.Context, key string) (string, error) {
	return f.keys[key], nil
}

func (f *fakeIdempotencyStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if f.keys == nil {
		f.keys = map[string]string{}
	}
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = "1"
	return true, nil
}

func (f *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "hx:idempotency:" + scope + ":" + id
}

func (f *fakeIdempotencyStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

func TestIdempotencyGuardMarksAndReleases(t *testing.T) {
	guard, err := NewIdempotencyGuard(&fakeIdempotencyStore{}, time.Minute, "webhooks:stripe")
	if err != nil {
		t.Fatalf("NewIdempotencyGuard: %v", err)
	}
	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "evt_1")
	if err != nil || seen {
		t.Fatalf("first delivery should be fresh, got seen=%v err=%v", seen, err)
	}
	seen, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil || !seen {
		t.Fatalf("replay should be flagged, got seen=%v err=%v", seen, err)
	}

	if err := guard.Delete(ctx, "evt_1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	seen, err = guard.CheckAndMark(ctx, "evt_1")
	if err != nil || seen {
		t.Fatalf("deleted marker should allow a retry, got seen=%v err=%v", seen, err)
	}
}
