package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonlabs/halcyon-backend/pkg/enums"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

type fakeClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.delays = append(f.delays, d)
	f.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (f *fakeClock) NewTicker(time.Duration) Ticker { return silentTicker{} }

func (f *fakeClock) recorded() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.delays))
	copy(out, f.delays)
	return out
}

type silentTicker struct{}

func (silentTicker) C() <-chan time.Time { return nil }
func (silentTicker) Stop()               {}

type failingDialer struct {
	mu    sync.Mutex
	dials int
}

func (f *failingDialer) Dial(context.Context, string) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	return nil, fmt.Errorf("connection refused")
}

func (f *failingDialer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// scriptedConn replays frames to the read loop, then fails the next read.
// With stayOpen set it blocks after the script until closed instead.
type scriptedConn struct {
	frames   [][]byte
	idx      int
	stayOpen bool
	mu       sync.Mutex
	closed   chan struct{}
	once     sync.Once
	writes   [][]byte
}

func newScriptedConn(frames ...[]byte) *scriptedConn {
	return &scriptedConn{frames: frames, closed: make(chan struct{})}
}

func newBlockingConn() *scriptedConn {
	return &scriptedConn{stayOpen: true, closed: make(chan struct{})}
}

func (s *scriptedConn) ReadMessage() (int, []byte, error) {
	s.mu.Lock()
	if s.idx < len(s.frames) {
		frame := s.frames[s.idx]
		s.idx++
		s.mu.Unlock()
		return 1, frame, nil
	}
	stayOpen := s.stayOpen
	s.mu.Unlock()
	if stayOpen {
		<-s.closed
	}
	return 0, nil, fmt.Errorf("connection closed")
}

func (s *scriptedConn) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, data)
	return nil
}

func (s *scriptedConn) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type scriptedDialer struct {
	mu    sync.Mutex
	conns []*scriptedConn
	idx   int
}

func (s *scriptedDialer) Dial(context.Context, string) (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.conns) {
		return nil, fmt.Errorf("connection refused")
	}
	conn := s.conns[s.idx]
	s.idx++
	return conn, nil
}

func notificationFrame(t *testing.T, notificationType enums.NotificationEventType, payload map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(Message{
		Type: MessageTypeNotification,
		Notification: &Notification{
			ID:        uuid.New(),
			UserID:    uuid.New(),
			Type:      notificationType,
			Payload:   payload,
			CreatedAt: time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return data
}

func newTestClient(t *testing.T, dialer Dialer, clock Clock, maxDelay time.Duration) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		URL:                  "ws://localhost/api/v1/realtime/ws",
		Dialer:               dialer,
		Clock:                clock,
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    maxDelay,
		ReconnectMaxAttempts: 5,
		Logger:               logger.New(logger.Options{ServiceName: "client-test"}),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func waitForTerminal(t *testing.T, terminal <-chan ClientEvent) ClientEvent {
	t.Helper()
	select {
	case event := <-terminal:
		return event
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal connection event")
		return ClientEvent{}
	}
}

func TestClientBackoffSequenceAndCeiling(t *testing.T) {
	dialer := &failingDialer{}
	clock := &fakeClock{}
	client := newTestClient(t, dialer, clock, 30*time.Second)

	terminal := make(chan ClientEvent, 1)
	client.On(EventTypeConnection, func(event ClientEvent) {
		if event.State == StateDisconnected {
			terminal <- event
		}
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitForTerminal(t, terminal)

	if state := client.State(); state != StateDisconnected {
		t.Fatalf("expected disconnected terminal state, got %s", state)
	}

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	got := clock.recorded()
	if len(got) != len(want) {
		t.Fatalf("expected %d backoff waits, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("backoff delay %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	// Initial dial plus five reconnect attempts.
	if dials := dialer.count(); dials != 6 {
		t.Fatalf("expected 6 dials, got %d", dials)
	}
}

func TestClientBackoffRespectsMaxDelay(t *testing.T) {
	dialer := &failingDialer{}
	clock := &fakeClock{}
	client := newTestClient(t, dialer, clock, 5*time.Second)

	terminal := make(chan ClientEvent, 1)
	client.On(EventTypeConnection, func(event ClientEvent) {
		if event.State == StateDisconnected {
			terminal <- event
		}
	})
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitForTerminal(t, terminal)

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}
	got := clock.recorded()
	if len(got) != len(want) {
		t.Fatalf("expected %d backoff waits, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("capped delay %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestClientDispatchesNotificationsByType(t *testing.T) {
	conn := newScriptedConn(
		[]byte(`{"type":"pong"}`),
		[]byte(`{"type":"mystery_future_frame"}`),
		notificationFrame(t, enums.NotificationEventCreditChanged, map[string]any{"amount": float64(25)}),
	)
	dialer := &scriptedDialer{conns: []*scriptedConn{conn}}
	clock := &fakeClock{}
	client := newTestClient(t, dialer, clock, 30*time.Second)

	typed := make(chan ClientEvent, 4)
	wildcard := make(chan ClientEvent, 8)
	terminal := make(chan ClientEvent, 1)
	client.On(string(enums.NotificationEventCreditChanged), func(event ClientEvent) { typed <- event })
	client.On(EventTypeWildcard, func(event ClientEvent) { wildcard <- event })
	client.On(EventTypeConnection, func(event ClientEvent) {
		if event.State == StateDisconnected {
			terminal <- event
		}
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case event := <-typed:
		if event.Notification == nil || event.Notification.Type != enums.NotificationEventCreditChanged {
			t.Fatalf("unexpected typed event: %+v", event)
		}
		if event.Notification.Payload["amount"].(float64) != 25 {
			t.Fatalf("unexpected payload: %+v", event.Notification.Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("typed handler never received the notification")
	}

	// Pongs and unknown frames never reach handlers; the wildcard sees the
	// connected event and the notification only.
	waitForTerminal(t, terminal)
	client.Disconnect()

	count := 0
	for {
		select {
		case event := <-wildcard:
			if event.Type != EventTypeConnection && event.Notification == nil {
				t.Fatalf("wildcard received a non-notification frame: %+v", event)
			}
			count++
			continue
		default:
		}
		break
	}
	if count == 0 {
		t.Fatal("wildcard handler received nothing")
	}
}

func TestClientHandlerPanicIsolation(t *testing.T) {
	conn := newScriptedConn(
		notificationFrame(t, enums.NotificationEventEngagementUpdated, nil),
	)
	dialer := &scriptedDialer{conns: []*scriptedConn{conn}}
	client := newTestClient(t, dialer, &fakeClock{}, 30*time.Second)

	received := make(chan ClientEvent, 1)
	client.On(string(enums.NotificationEventEngagementUpdated), func(ClientEvent) { panic("boom") })
	client.On(string(enums.NotificationEventEngagementUpdated), func(event ClientEvent) { received <- event })

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Disconnect()

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("second handler starved by panicking first handler")
	}
}

func waitForState(t *testing.T, client *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for client.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client never reached state %s, at %s", want, client.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientConnectsAgainAfterDisconnect(t *testing.T) {
	first := newBlockingConn()
	second := newBlockingConn()
	dialer := &scriptedDialer{conns: []*scriptedConn{first, second}}
	client := newTestClient(t, dialer, &fakeClock{}, 30*time.Second)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitForState(t, client, StateConnected)
	client.Disconnect()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after Disconnect: %v", err)
	}
	waitForState(t, client, StateConnected)
	client.Disconnect()
}

func TestClientConnectAfterDisconnectStartsFreshAttempts(t *testing.T) {
	conn := newBlockingConn()
	dialer := &scriptedDialer{conns: []*scriptedConn{conn}}
	clock := &fakeClock{}
	client := newTestClient(t, dialer, clock, 30*time.Second)

	terminal := make(chan ClientEvent, 1)
	client.On(EventTypeConnection, func(event ClientEvent) {
		if event.State == StateDisconnected {
			terminal <- event
		}
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitForState(t, client, StateConnected)
	client.Disconnect()

	// The dialer is out of connections now, so the second run walks the
	// whole backoff ladder from the start before landing terminal.
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect after Disconnect: %v", err)
	}
	waitForTerminal(t, terminal)

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	got := clock.recorded()
	if len(got) != len(want) {
		t.Fatalf("expected a fresh attempt budget of %d waits, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("backoff delay %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestClientDisconnectIsIdempotent(t *testing.T) {
	conn := newBlockingConn()
	dialer := &scriptedDialer{conns: []*scriptedConn{conn}}
	client := newTestClient(t, dialer, &fakeClock{}, 30*time.Second)

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Let the dial land before tearing down.
	deadline := time.Now().Add(5 * time.Second)
	for client.State() != StateConnected {
		if time.Now().After(deadline) {
			t.Fatal("client never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}

	client.Disconnect()
	client.Disconnect()

	if state := client.State(); state != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", state)
	}
}
