package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yeti47/replaybuffer/capture"
	"github.com/yeti47/replaybuffer/ccc/logging"
	"github.com/yeti47/replaybuffer/replay"
	"github.com/yeti47/replaybuffer/web/middleware"
)

const (
	EventReplaySaved  = "replay_saved"
	EventCaptureState = "capture_state"

	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     middleware.SameOrigin,
}

// Event is one message of the event feed
type Event struct {
	Type   string `json:"type"`
	TimeMs int64  `json:"time_ms"`
	Data   any    `json:"data,omitempty"`
}

// Client is one subscriber of the feed
type Client struct {
	Send chan []byte
}

// Hub fans events out to websocket subscribers. Slow subscribers miss events
// instead of blocking the publisher.
type Hub struct {
	logger  logging.Logger
	clients map[*Client]struct{}
	mu      sync.RWMutex
	now     func() time.Time
}

func NewHub(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NopLogger
	}
	return &Hub{
		logger:  logger,
		clients: map[*Client]struct{}{},
		now:     time.Now,
	}
}

func (h *Hub) Register() *Client {
	client := &Client{Send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
	}
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

// Publish encodes an event and broadcasts it
func (h *Hub) Publish(eventType string, data any) {
	payload, err := json.Marshal(Event{Type: eventType, TimeMs: h.now().UnixMilli(), Data: data})
	if err != nil {
		h.logger.Error("Failed to encode event", "type", eventType, "error", err)
		return
	}
	h.Broadcast(payload)
}

// ReplaySaved publishes a saved replay
func (h *Hub) ReplaySaved(result *replay.Result) {
	h.Publish(EventReplaySaved, result)
}

// CaptureStateChanged publishes a capture state transition
func (h *Hub) CaptureStateChanged(state capture.State) {
	h.Publish(EventCaptureState, map[string]any{"state": state})
}

// ServeWS handles GET /api/events
func (h *Hub) ServeWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	client := h.Register()
	h.logger.Debug("Event subscriber connected", "remote", conn.RemoteAddr().String())

	go h.writeLoop(conn, client)
	h.readLoop(conn)

	h.Unregister(client)
	h.logger.Debug("Event subscriber disconnected", "remote", conn.RemoteAddr().String())
}

// readLoop discards incoming messages and returns when the connection closes
func (h *Hub) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Websocket read error", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.Send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
