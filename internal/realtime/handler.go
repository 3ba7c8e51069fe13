package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/halcyonlabs/halcyon-backend/pkg/config"
	"github.com/halcyonlabs/halcyon-backend/pkg/logger"
)

// Handler upgrades authenticated requests to websocket connections and pumps
// hub notifications onto them.
type Handler struct {
	hub      *Hub
	cfg      config.RealtimeConfig
	logg     *logger.Logger
	upgrader websocket.Upgrader
}

// NewHandler wires the websocket handler. Origin checking is delegated to the
// CORS layer in front of it.
func NewHandler(hub *Hub, cfg config.RealtimeConfig, logg *logger.Logger) (*Handler, error) {
	if hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Handler{
		hub:  hub,
		cfg:  cfg,
		logg: logg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}, nil
}

// ServeWS upgrades the request and serves the connection until either side
// closes it. The caller has already authenticated the user.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logg.Error(r.Context(), "websocket upgrade failed", err)
		return
	}

	sub := h.hub.Subscribe(userID)
	ctx := h.logg.WithFields(r.Context(), map[string]any{
		"user_id":       userID.String(),
		"connection_id": sub.ID().String(),
	})
	h.logg.Info(ctx, "realtime connection opened")

	done := make(chan struct{})
	// Pong replies flow through the write loop; the connection has a single
	// writer goroutine.
	outbound := make(chan Message, 8)
	go h.writeLoop(conn, sub, outbound, done)
	h.readLoop(conn, outbound)

	sub.Close()
	<-done
	_ = conn.Close()
	h.logg.Info(ctx, "realtime connection closed")
}

// readLoop consumes client frames until the connection drops. Application
// pings get a pong queued for the write loop and push the read deadline out.
func (h *Handler) readLoop(conn *websocket.Conn, outbound chan<- Message) {
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == MessageTypePing {
			select {
			case outbound <- Message{Type: MessageTypePong}:
			default:
				// The write loop is backed up; the client will ping again.
			}
		}
		// Other client frames are ignored; the socket is server-push.
	}
}

// writeLoop drains the subscription and queued replies onto the socket and
// keeps the transport alive with control pings. It is the only goroutine that
// writes to conn.
func (h *Handler) writeLoop(conn *websocket.Conn, sub *Subscription, outbound <-chan Message, done chan<- struct{}) {
	defer close(done)
	// Closing the conn here unblocks the read loop when a write fails.
	defer conn.Close()

	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case notification, ok := <-sub.C():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteJSON(Message{
				Type:         MessageTypeNotification,
				Notification: &notification,
			}); err != nil {
				return
			}
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-heartbeat.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
