package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/halcyonlabs/halcyon-backend/pkg/config"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

func newTestHandler(t *testing.T, hub *Hub) *Handler {
	t.Helper()
	handler, err := NewHandler(hub, config.RealtimeConfig{
		// Long enough that no control ping fires mid-test; the client's
		// automatic pong reply would race the test's own writer.
		HeartbeatInterval: time.Minute,
		WriteTimeout:      time.Second,
		ReadTimeout:       10 * time.Second,
		SendBuffer:        256,
	}, logger.New(logger.Options{ServiceName: "realtime-test"}))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return handler
}

func dialTestSocket(t *testing.T, handler *Handler, userID uuid.UUID) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeWS(w, r, userID)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, srv
}

func waitForConnection(t *testing.T, hub *Hub, userID uuid.UUID) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount(userID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection never registered with the hub")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServeWSDeliversNotificationsAndPongs(t *testing.T) {
	hub := newTestHub(t, 8)
	handler := newTestHandler(t, hub)
	userID := uuid.New()
	conn, _ := dialTestSocket(t, handler, userID)
	waitForConnection(t, hub, userID)

	hub.Publish(creditNotification(userID, 42))

	var msg Message
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read notification: %v", err)
	}
	if msg.Type != MessageTypeNotification || msg.Notification == nil || msg.Notification.UserID != userID {
		t.Fatalf("unexpected frame: %+v", msg)
	}

	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if msg.Type != MessageTypePong {
		t.Fatalf("expected pong, got %+v", msg)
	}
}

// A client hammering application pings while the hub pushes notifications must
// not produce interleaved writers on the socket. Every push lands and the
// connection stays usable afterwards.
func TestServeWSSurvivesPingAndPublishFlood(t *testing.T) {
	const events = 200

	hub := newTestHub(t, 256)
	handler := newTestHandler(t, hub)
	userID := uuid.New()
	conn, _ := dialTestSocket(t, handler, userID)
	waitForConnection(t, hub, userID)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < events; i++ {
			if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := int64(0); i < events; i++ {
			hub.Publish(creditNotification(userID, i))
		}
	}()

	// Pong replies may be shed under pressure, but notifications fit the
	// buffer and every one of them must arrive, in order.
	var next int64
	deadline := time.Now().Add(10 * time.Second)
	for next < events {
		_ = conn.SetReadDeadline(deadline)
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read after %d notifications: %v", next, err)
		}
		if msg.Type != MessageTypeNotification {
			continue
		}
		amount := int64(msg.Notification.Payload["amount"].(float64))
		if amount != next {
			t.Fatalf("notification out of order: expected %d got %d", next, amount)
		}
		next++
	}
	wg.Wait()

	// The socket still answers after the flood.
	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatalf("write ping after flood: %v", err)
	}
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read pong after flood: %v", err)
		}
		if msg.Type == MessageTypePong {
			break
		}
	}

	if count := hub.ConnectionCount(userID); count != 1 {
		t.Fatalf("expected the connection to survive, got %d", count)
	}
}
