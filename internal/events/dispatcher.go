// Package events fans committed domain facts out to in-process handlers.
// Delivery is asynchronous and per-user ordered: every user gets a dedicated
// FIFO queue, so two events for the same user are always handled in commit
// order, while events for different users proceed independently. Publishing
// never blocks the caller; a full queue drops the event and logs it.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/pkg/db/models"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

// Name identifies what a dispatched event describes.
type Name string

const (
	NameLedgerCommitted    Name = "ledger.committed"
	NameEngagementUpdated  Name = "engagement.updated"
	NameCommissionRecorded Name = "commission.recorded"
)

// Event is the envelope handed to handlers. Exactly one payload field is set,
// matching the event name.
type Event struct {
	ID         uuid.UUID
	Name       Name
	UserID     uuid.UUID
	OccurredAt time.Time

	Transaction *models.Transaction
	Snapshot    *models.EngagementSnapshot
	Commission  *models.CommissionTransaction
}

// Handler consumes dispatched events. Handlers for the same user run
// sequentially; a handler error is logged and does not stop later handlers.
type Handler interface {
	Name() string
	Handle(ctx context.Context, event Event) error
}

// Dispatcher owns the per-user queues and the registered handler chain.
type Dispatcher struct {
	mu       sync.Mutex
	queues   map[uuid.UUID]chan Event
	handlers []Handler
	depth    int
	closed   bool
	wg       sync.WaitGroup
	logg     *logger.Logger
}

// NewDispatcher builds a dispatcher whose per-user queues hold up to depth
// pending events.
func NewDispatcher(depth int, logg *logger.Logger) (*Dispatcher, error) {
	if depth <= 0 {
		return nil, fmt.Errorf("queue depth must be positive")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Dispatcher{
		queues: map[uuid.UUID]chan Event{},
		depth:  depth,
		logg:   logg,
	}, nil
}

// Register appends a handler to the chain. Registration must finish before
// the first publish; it is not synchronized against in-flight deliveries.
func (d *Dispatcher) Register(handler Handler) {
	if handler == nil {
		return
	}
	d.handlers = append(d.handlers, handler)
}

// LedgerCommitted enqueues a committed ledger transaction.
func (d *Dispatcher) LedgerCommitted(txn *models.Transaction) {
	if txn == nil {
		return
	}
	d.publish(Event{
		ID:          uuid.New(),
		Name:        NameLedgerCommitted,
		UserID:      txn.UserID,
		OccurredAt:  txn.CreatedAt,
		Transaction: txn,
	})
}

// EngagementUpdated enqueues a recomputed engagement snapshot.
func (d *Dispatcher) EngagementUpdated(snapshot *models.EngagementSnapshot) {
	if snapshot == nil {
		return
	}
	d.publish(Event{
		ID:         uuid.New(),
		Name:       NameEngagementUpdated,
		UserID:     snapshot.UserID,
		OccurredAt: snapshot.UpdatedAt,
		Snapshot:   snapshot,
	})
}

// CommissionRecorded enqueues a recorded referral commission. The event is
// addressed to the referrer, who receives the payout.
func (d *Dispatcher) CommissionRecorded(commission *models.CommissionTransaction) {
	if commission == nil {
		return
	}
	d.publish(Event{
		ID:         uuid.New(),
		Name:       NameCommissionRecorded,
		UserID:     commission.ReferrerID,
		OccurredAt: commission.CreatedAt,
		Commission: commission,
	})
}

func (d *Dispatcher) publish(event Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	queue, ok := d.queues[event.UserID]
	if !ok {
		queue = make(chan Event, d.depth)
		d.queues[event.UserID] = queue
		d.wg.Add(1)
		go d.drain(event.UserID, queue)
	}
	select {
	case queue <- event:
	default:
		ctx := d.logg.WithFields(context.Background(), map[string]any{
			"event":   string(event.Name),
			"user_id": event.UserID.String(),
		})
		d.logg.Warn(ctx, "event queue full, dropping event")
	}
	d.mu.Unlock()
}

func (d *Dispatcher) drain(userID uuid.UUID, queue chan Event) {
	defer d.wg.Done()
	for event := range queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx := d.logg.WithFields(context.Background(), map[string]any{
		"event":    string(event.Name),
		"event_id": event.ID.String(),
		"user_id":  event.UserID.String(),
	})
	for _, handler := range d.handlers {
		if err := d.safeHandle(ctx, handler, event); err != nil {
			d.logg.Error(d.logg.WithField(ctx, "handler", handler.Name()), "event handler failed", err)
		}
	}
}

func (d *Dispatcher) safeHandle(ctx context.Context, handler Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.Handle(ctx, event)
}

// Close stops accepting events and waits for every queue to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, queue := range d.queues {
		close(queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
