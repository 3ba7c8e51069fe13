package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
	"github.com/halcyonlabs/halcyon-backend/pkg/metrics"
)

// Hub fans notifications out to a user's open connections. Membership is
// process-local and rebuilt as clients reconnect after a restart. Publish
// never blocks: each connection has a buffered channel and events are dropped
// (and counted) when a buffer is full.
type Hub struct {
	mu      sync.RWMutex
	conns   map[uuid.UUID]map[uuid.UUID]*Subscription
	buffer  int
	metrics *metrics.RealtimeMetrics
	logg    *logger.Logger
}

// Subscription is one connection's view of the hub.
type Subscription struct {
	id     uuid.UUID
	userID uuid.UUID
	ch     chan Notification
	hub    *Hub
	once   sync.Once
}

// NewHub builds a hub whose per-connection buffers hold up to buffer events.
func NewHub(buffer int, m *metrics.RealtimeMetrics, logg *logger.Logger) (*Hub, error) {
	if buffer <= 0 {
		return nil, fmt.Errorf("send buffer must be positive")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Hub{
		conns:   map[uuid.UUID]map[uuid.UUID]*Subscription{},
		buffer:  buffer,
		metrics: m,
		logg:    logg,
	}, nil
}

// Subscribe registers a new connection for the user.
func (h *Hub) Subscribe(userID uuid.UUID) *Subscription {
	sub := &Subscription{
		id:     uuid.New(),
		userID: userID,
		ch:     make(chan Notification, h.buffer),
		hub:    h,
	}

	h.mu.Lock()
	byConn, ok := h.conns[userID]
	if !ok {
		byConn = map[uuid.UUID]*Subscription{}
		h.conns[userID] = byConn
	}
	byConn[sub.id] = sub
	h.mu.Unlock()

	h.metrics.ConnectionOpened()
	return sub
}

// Publish delivers the notification to every open connection of its user.
// Order is preserved per connection; full buffers drop the event.
func (h *Hub) Publish(notification Notification) {
	h.metrics.IncPublished(string(notification.Type))

	// Sends happen under the read lock; Close takes the write lock before
	// closing a channel, so a send can never race a close.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.conns[notification.UserID] {
		select {
		case sub.ch <- notification:
		default:
			h.metrics.IncDropped(string(notification.Type))
			ctx := h.logg.WithFields(context.Background(), map[string]any{
				"user_id":       notification.UserID.String(),
				"connection_id": sub.id.String(),
				"type":          string(notification.Type),
			})
			h.logg.Warn(ctx, "connection buffer full, dropping notification")
		}
	}
}

// ConnectionCount reports the user's open connections.
func (h *Hub) ConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// ID identifies the connection for logging.
func (s *Subscription) ID() uuid.UUID { return s.id }

// C is the connection's ordered notification stream. The channel closes when
// the subscription is closed.
func (s *Subscription) C() <-chan Notification { return s.ch }

// Close removes the subscription from the hub. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if byConn, ok := s.hub.conns[s.userID]; ok {
			delete(byConn, s.id)
			if len(byConn) == 0 {
				delete(s.hub.conns, s.userID)
			}
		}
		s.hub.mu.Unlock()
		close(s.ch)
		s.hub.metrics.ConnectionClosed()
	})
}
