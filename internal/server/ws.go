package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayusman/hasta/internal/dispatch"
	"github.com/ayusman/hasta/internal/gesture"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames.
	maxMessageSize = 4 * 1024

	// Messages queued per client before new ones are dropped.
	clientBuffer = 64
)

// Event message types pushed to /api/events subscribers.
const (
	EventGestureDetected = "gesture_detected"
	EventActionResult    = "action_result"
	EventConfigUpdated   = "config_updated"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message is the envelope written to websocket subscribers.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// EventHub pushes pipeline events to websocket subscribers. It implements the
// pipeline observer interface; publishing never blocks on a slow client.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*eventClient]struct{}
	closed  bool
	logger  *zap.Logger
}

type eventClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewEventHub creates an EventHub.
func NewEventHub(logger *zap.Logger) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHub{
		clients: make(map[*eventClient]struct{}),
		logger:  logger,
	}
}

// ServeHTTP upgrades the request and subscribes the connection.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &eventClient{conn: conn, send: make(chan []byte, clientBuffer)}
	if !h.register(c) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}
	h.logger.Info("Event subscriber connected", zap.String("remote", r.RemoteAddr))

	go h.writePump(c)
	h.readPump(c)
	h.logger.Info("Event subscriber disconnected", zap.String("remote", r.RemoteAddr))
}

func (h *EventHub) register(c *eventClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *EventHub) unregister(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// readPump discards client frames and detects disconnects.
func (h *EventHub) readPump(c *eventClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *EventHub) writePump(c *eventClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("Failed to write event", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Broadcast queues a message for every subscriber. Subscribers whose queue is
// full miss the message.
func (h *EventHub) Broadcast(msgType string, data any) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data})
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("type", msgType), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Debug("Dropping event for slow subscriber", zap.String("type", msgType))
		}
	}
}

// OnGestureDetected publishes a gesture_detected event.
func (h *EventHub) OnGestureDetected(ev gesture.Event) {
	h.Broadcast(EventGestureDetected, ev)
}

// OnActionResult publishes an action_result event.
func (h *EventHub) OnActionResult(res dispatch.Result) {
	h.Broadcast(EventActionResult, res)
}

// ClientCount returns the number of connected subscribers.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber and rejects new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
