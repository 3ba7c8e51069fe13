package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

// State is the client connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

// EventTypeConnection is the registry key for connection lifecycle events.
// Notification handlers register under the notification's own type, or under
// EventTypeWildcard for everything.
const (
	EventTypeConnection = "connection"
	EventTypeWildcard   = "*"
)

// ClientEvent is what registered handlers receive: either a notification or a
// connection state change.
type ClientEvent struct {
	Type         string
	State        State
	Notification *Notification
}

// HandlerFunc consumes client events. Handlers run synchronously in
// registration order on the client's read goroutine; a panic in one handler
// is isolated from the others.
type HandlerFunc func(event ClientEvent)

// Conn is the client's view of a websocket connection.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens realtime connections; swapped for a fake in tests.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Clock abstracts the timers the client waits on so reconnect tests can run
// without real sleeps.
type Clock interface {
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors time.Ticker behind an interface.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type gorillaDialer struct{}

func (gorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) NewTicker(d time.Duration) Ticker       { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// ClientConfig tunes the realtime client.
type ClientConfig struct {
	URL string

	// Dialer and Clock default to gorilla/websocket and the wall clock.
	Dialer Dialer
	Clock  Clock

	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int

	Logger *logger.Logger
}

// Client maintains a realtime connection with automatic reconnects. Failed
// dials back off exponentially, min(maxDelay, base*2^attempt); once the
// attempt ceiling is hit the client lands in StateDisconnected and emits a
// terminal connection event.
type Client struct {
	cfg    ClientConfig
	dialer Dialer
	clock  Clock
	logg   *logger.Logger

	mu       sync.Mutex
	state    State
	handlers map[string][]HandlerFunc
	done     chan struct{}
	conn     Conn
	running  bool
}

// NewClient builds a realtime client. Handlers are registered with On before
// Connect.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("realtime url is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = gorillaDialer{}
	}
	if cfg.Clock == nil {
		cfg.Clock = realClock{}
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = time.Second
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = 30 * time.Second
	}
	if cfg.ReconnectMaxAttempts <= 0 {
		cfg.ReconnectMaxAttempts = 5
	}
	return &Client{
		cfg:      cfg,
		dialer:   cfg.Dialer,
		clock:    cfg.Clock,
		logg:     cfg.Logger,
		state:    StateDisconnected,
		handlers: map[string][]HandlerFunc{},
	}, nil
}

// On registers a handler for an event type ("*" for all). Registration must
// finish before Connect.
func (c *Client) On(eventType string, handler HandlerFunc) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	c.handlers[eventType] = append(c.handlers[eventType], handler)
	c.mu.Unlock()
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop. It returns immediately; state changes
// and notifications flow through the registered handlers. A stopped client
// can connect again: each call starts over with a fresh attempt counter.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("client already connected")
	}
	c.running = true
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	go c.run(ctx, done)
	return nil
}

// Disconnect stops the client. Idempotent; pending reconnect timers and the
// heartbeat are both canceled.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.done)
	c.done = nil
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()
}

// finish releases the run slot unless Disconnect already did.
func (c *Client) finish(done chan struct{}) {
	c.mu.Lock()
	if c.done == done {
		c.running = false
		c.done = nil
	}
	c.mu.Unlock()
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer c.finish(done)

	attempt := 0
	firstDial := true

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			c.terminate()
			return
		default:
		}

		if firstDial {
			c.setState(StateConnecting)
		} else {
			c.setState(StateReconnecting)
		}

		conn, err := c.dialer.Dial(ctx, c.cfg.URL)
		if err != nil {
			attempt++
			if attempt > c.cfg.ReconnectMaxAttempts {
				c.logg.Warn(context.Background(), "realtime reconnect ceiling reached")
				c.terminate()
				return
			}
			select {
			case <-c.clock.After(c.backoffDelay(attempt)):
			case <-done:
				return
			case <-ctx.Done():
				c.terminate()
				return
			}
			firstDial = false
			continue
		}

		attempt = 0
		firstDial = false
		select {
		case <-done:
			// Disconnect landed while the dial was in flight.
			_ = conn.Close()
			return
		default:
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)
		c.emit(ClientEvent{Type: EventTypeConnection, State: StateConnected})

		c.serve(conn, done)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()

		select {
		case <-done:
			return
		case <-ctx.Done():
			c.terminate()
			return
		default:
		}
	}
}

// backoffDelay returns the wait before the given (1-based) retry.
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.cfg.ReconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.cfg.ReconnectMaxDelay {
			return c.cfg.ReconnectMaxDelay
		}
	}
	if delay > c.cfg.ReconnectMaxDelay {
		return c.cfg.ReconnectMaxDelay
	}
	return delay
}

// serve pumps one live connection: a heartbeat goroutine writes application
// pings while the read loop dispatches incoming frames. Returns when the
// connection drops.
func (c *Client) serve(conn Conn, done <-chan struct{}) {
	stopHeartbeat := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)
		defer ticker.Stop()
		ping, _ := json.Marshal(Message{Type: MessageTypePing})
		for {
			select {
			case <-ticker.C():
				if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
					return
				}
			case <-stopHeartbeat:
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		c.dispatch(data)
	}

	close(stopHeartbeat)
	_ = conn.Close()
	wg.Wait()
}

// dispatch routes one frame. Pongs only confirm liveness and are not handed
// to notification handlers; unknown message types are ignored.
func (c *Client) dispatch(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	switch msg.Type {
	case MessageTypePong:
		return
	case MessageTypeNotification:
		if msg.Notification == nil {
			return
		}
		c.emit(ClientEvent{
			Type:         string(msg.Notification.Type),
			State:        StateConnected,
			Notification: msg.Notification,
		})
	default:
	}
}

// emit runs the type's handlers then the wildcard handlers, each isolated
// from the others' panics.
func (c *Client) emit(event ClientEvent) {
	c.mu.Lock()
	handlers := make([]HandlerFunc, 0, len(c.handlers[event.Type])+len(c.handlers[EventTypeWildcard]))
	handlers = append(handlers, c.handlers[event.Type]...)
	if event.Type != EventTypeWildcard {
		handlers = append(handlers, c.handlers[EventTypeWildcard]...)
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		c.safeInvoke(handler, event)
	}
}

func (c *Client) safeInvoke(handler HandlerFunc, event ClientEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logg.Error(context.Background(), "realtime handler panicked", fmt.Errorf("%v", r))
		}
	}()
	handler(event)
}

// terminate lands the client in the terminal disconnected state and tells the
// handlers about it.
func (c *Client) terminate() {
	c.setState(StateDisconnected)
	c.emit(ClientEvent{Type: EventTypeConnection, State: StateDisconnected})
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}
