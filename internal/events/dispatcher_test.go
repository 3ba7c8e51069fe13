package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

type captureHandler struct {
	mu     sync.Mutex
	name   string
	events []Event
	gate   chan struct{}
}

func (h *captureHandler) Name() string { return h.name }

func (h *captureHandler) Handle(_ context.Context, event Event) error {
	if h.gate != nil {
		<-h.gate
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func (h *captureHandler) captured() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

type panicHandler struct{}

func (panicHandler) Name() string                        { return "panic" }
func (panicHandler) Handle(context.Context, Event) error { panic("boom") }

func testDispatcher(t *testing.T, depth int, handlers ...Handler) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(depth, logger.New(logger.Options{ServiceName: "events-test"}))
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	for _, h := range handlers {
		d.Register(h)
	}
	return d
}

func usageTxn(userID uuid.UUID, amount int64) *models.Transaction {
	return &models.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Kind:      enums.TransactionKindUsage,
		CreatedAt: time.Now(),
	}
}

func TestDispatcherDeliversPerUserInOrder(t *testing.T) {
	handler := &captureHandler{name: "capture"}
	d := testDispatcher(t, 64, handler)

	alice := uuid.New()
	bob := uuid.New()
	for i := int64(1); i <= 20; i++ {
		d.LedgerCommitted(usageTxn(alice, -i))
		d.LedgerCommitted(usageTxn(bob, -i))
	}
	d.Close()

	perUser := map[uuid.UUID][]int64{}
	for _, event := range handler.captured() {
		perUser[event.UserID] = append(perUser[event.UserID], event.Transaction.Amount)
	}
	for user, amounts := range perUser {
		if len(amounts) != 20 {
			t.Fatalf("user %s: expected 20 events, got %d", user, len(amounts))
		}
		for i, amount := range amounts {
			if amount != -int64(i+1) {
				t.Fatalf("user %s: out of order at %d: %v", user, i, amounts)
			}
		}
	}
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	gate := make(chan struct{})
	handler := &captureHandler{name: "slow", gate: gate}
	d := testDispatcher(t, 1, handler)

	userID := uuid.New()
	// First event occupies the worker, second fills the queue, third drops.
	d.LedgerCommitted(usageTxn(userID, -1))
	// Give the worker a moment to pull the first event off the queue.
	time.Sleep(50 * time.Millisecond)
	d.LedgerCommitted(usageTxn(userID, -2))
	d.LedgerCommitted(usageTxn(userID, -3))

	close(gate)
	d.Close()

	captured := handler.captured()
	if len(captured) != 2 {
		t.Fatalf("expected 2 delivered events, got %d", len(captured))
	}
	if captured[0].Transaction.Amount != -1 || captured[1].Transaction.Amount != -2 {
		t.Fatalf("unexpected delivery order: %+v", captured)
	}
}

func TestDispatcherIsolatesPanickingHandler(t *testing.T) {
	handler := &captureHandler{name: "capture"}
	d := testDispatcher(t, 8, panicHandler{}, handler)

	d.LedgerCommitted(usageTxn(uuid.New(), -1))
	d.Close()

	if len(handler.captured()) != 1 {
		t.Fatalf("expected delivery despite panicking sibling handler")
	}
}

func TestDispatcherIgnoresPublishAfterClose(t *testing.T) {
	handler := &captureHandler{name: "capture"}
	d := testDispatcher(t, 8, handler)
	d.Close()

	d.LedgerCommitted(usageTxn(uuid.New(), -1))
	d.EngagementUpdated(&models.EngagementSnapshot{ID: uuid.New(), UserID: uuid.New()})

	if len(handler.captured()) != 0 {
		t.Fatalf("expected no deliveries after close")
	}
}
