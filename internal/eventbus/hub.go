package eventbus

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
)

// Message is the wire envelope for every WebSocket frame: an event
// taxonomy type (spec §4.11) and its JSON payload.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// client is one connected /ws/{session_id} session.
type client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan Message
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
		_ = c.conn.Close()
	})
}

// Hub upgrades HTTP connections to WebSocket sessions and fans out Bus
// events to them as Message frames (spec §6: "WebSocket /ws/{session_id} —
// subscribe to event topics").
type Hub struct {
	bus     *Bus
	log     zerolog.Logger
	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub constructs a Hub wired to bus.
func NewHub(bus *Bus, log zerolog.Logger) *Hub {
	return &Hub{bus: bus, log: log.With().Str("component", "eventbus_hub").Logger(), clients: make(map[string]*client)}
}

// Run consumes bus events for the hub's lifetime and fans each out to every
// connected client as a Message. Exits when the subscription's channel is
// closed (Bus.Unsubscribe); callers run this in its own goroutine.
func (h *Hub) Run(sub *Subscription) {
	for ev := range sub.Events() {
		msg := Message{Type: string(ev.Topic), Data: sanitizeData(ev.Payload)}
		h.mu.RLock()
		for _, c := range h.clients {
			select {
			case c.send <- msg:
			default:
				h.log.Warn().Str("session_id", c.sessionID).Msg("client send buffer full, dropping message")
			}
		}
		h.mu.RUnlock()
	}
}

// HandleWebSocket upgrades the request and registers a new client under
// sessionID (path parameter from /ws/{session_id}).
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, sessionID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	c := &client{sessionID: sessionID, conn: conn, send: make(chan Message, 64)}

	h.mu.Lock()
	h.clients[sessionID] = c
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c.sessionID)
		h.mu.Unlock()
		c.close()
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
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

// BroadcastState sends an out-of-band full-state snapshot to every
// connected client, independent of the bus.
func (h *Hub) BroadcastState(state any) {
	msg := Message{Type: "state", Data: sanitizeData(state)}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// sanitizeData recursively replaces NaN/±Inf float values with 0 so the
// JSON encoder (which rejects them) never fails mid-broadcast.
func sanitizeData(v any) any {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0.0
		}
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = sanitizeData(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = sanitizeData(vv)
		}
		return out
	default:
		return v
	}
}

// MarshalForAudit renders an event payload for persistence as a RunEvent's
// payload column.
func MarshalForAudit(payload any) ([]byte, error) {
	return json.Marshal(payload)
}
