package event

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WSMessage is the JSON message sent over WebSocket. Tree events carry their
// scope at the top level so clients can route them without decoding Data.
type WSMessage struct {
	Event     string         `json:"event"`               // Event name (e.g., "tree.nodesInserted")
	NodeID    string         `json:"node_id,omitempty"`   // Node a tree event concerns
	Connector string         `json:"connector,omitempty"` // Connector owning that node
	Data      map[string]any `json:"data,omitempty"`      // Event-specific data
	TS        int64          `json:"ts"`                  // Timestamp (Unix ms)
}

// wsFilter selects the events streamed to one client. Nil sets accept
// everything. Node and connector sets only narrow tree events that are scoped
// to a node or connector; unscoped events such as selection changes and
// connection events always pass.
type wsFilter struct {
	events     map[string]bool
	nodes      map[string]bool
	connectors map[string]bool
}

func newWSFilter(c *gin.Context) wsFilter {
	return wsFilter{
		events:     parseFilter(c.Query("events")),
		nodes:      parseFilter(c.Query("nodes")),
		connectors: parseFilter(c.Query("connectors")),
	}
}

func (f wsFilter) match(ev Event) bool {
	if f.events != nil && !f.events[ev.EventName()] {
		return false
	}
	te, ok := ev.(TreeEvent)
	if !ok {
		return true
	}
	nodeID, connector := te.Scope()
	if f.nodes != nil && nodeID != "" && !f.nodes[nodeID] {
		return false
	}
	if f.connectors != nil && connector != "" && !f.connectors[connector] {
		return false
	}
	return true
}

func newWSMessage(ev Event) WSMessage {
	msg := WSMessage{
		Event: ev.EventName(),
		Data:  eventToData(ev),
		TS:    time.Now().UnixMilli(),
	}
	if te, ok := ev.(TreeEvent); ok {
		msg.NodeID, msg.Connector = te.Scope()
	}
	return msg
}

// WSHandler handles WebSocket connections for event notifications.
type WSHandler struct {
	emitter  *Emitter
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a WebSocket handler streaming the emitter's events.
func NewWSHandler(emitter *Emitter) *WSHandler {
	return &WSHandler{
		emitter: emitter,
		logger:  emitter.logger.With("component", "ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handle is the Gin handler for WebSocket connections.
// Query params:
//   - events: comma-separated event names to subscribe (empty = all)
//   - nodes: comma-separated node IDs whose tree events are wanted
//   - connectors: comma-separated connector names whose tree events are wanted
//
// Example: /api/events/ws?events=tree.nodesInserted,tree.nodesRemoved&connectors=local
func (h *WSHandler) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	filter := newWSFilter(c)

	// Channel for sending events to this client
	sendCh := make(chan WSMessage, 64)
	done := make(chan struct{})

	// Subscribe to events
	unsubscribe := h.emitter.OnAny(func(ev Event) {
		if !filter.match(ev) {
			return
		}
		select {
		case sendCh <- newWSMessage(ev):
		default:
			// Drop if buffer is full
			h.logger.Warn("dropped event, buffer full", "event", ev.EventName())
		}
	})
	defer unsubscribe()

	// Reader goroutine - keeps connection alive
	go func() {
		defer close(done)
		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	var writeMu sync.Mutex

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case msg := <-sendCh:
			writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := conn.WriteJSON(msg)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// parseFilter turns "a,b" into a set; empty means all events.
func parseFilter(param string) map[string]bool {
	if param == "" {
		return nil
	}
	filter := make(map[string]bool)
	for _, e := range strings.Split(param, ",") {
		if e = strings.TrimSpace(e); e != "" {
			filter[e] = true
		}
	}
	if len(filter) == 0 {
		return nil
	}
	return filter
}

// eventToData converts an Event to a map for JSON serialization.
func eventToData(ev Event) map[string]any {
	// Use JSON marshal/unmarshal for simplicity
	data, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}
