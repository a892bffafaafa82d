// Package websocket maintains the live task-activity feed. Clients connect
// to /ws and receive a message for every task mutation made by their user
// or by the agent acting for them.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// client is one registered connection. gorilla allows a single concurrent
// writer per connection, and writes arrive from both broadcasting request
// goroutines and the read loop's pong reply, so every write goes through
// writeMu.
type client struct {
	conn    *websocket.Conn
	userID  string
	writeMu sync.Mutex
}

// Hub manages WebSocket connections for real-time task updates.
type Hub struct {
	connections map[*websocket.Conn]*client
	mutex       sync.RWMutex
	upgrader    websocket.Upgrader
	log         *logrus.Logger
}

// Message is the frame sent to connected clients.
type Message struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewHub creates a connection hub.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		connections: make(map[*websocket.Conn]*client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Cross-origin is handled by the session token, not Origin.
				return true
			},
		},
		log: log,
	}
}

// HandleConnection upgrades the request and services the connection until
// the client disconnects. userID scopes which broadcasts the client sees.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	c := &client{conn: conn, userID: userID}
	h.mutex.Lock()
	h.connections[conn] = c
	h.mutex.Unlock()
	h.log.WithField("user_id", userID).Debug("websocket client connected")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Debug("websocket read error")
			}
			break
		}

		var data map[string]interface{}
		if err := json.Unmarshal(raw, &data); err != nil {
			continue
		}
		if msgType, ok := data["type"].(string); ok && msgType == "ping" {
			h.send(c, Message{
				Type:      "pong",
				Timestamp: time.Now(),
				Data:      map[string]interface{}{"status": "ok"},
			})
		}
	}

	h.mutex.Lock()
	delete(h.connections, conn)
	h.mutex.Unlock()
	h.log.WithField("user_id", userID).Debug("websocket client disconnected")
}

// BroadcastToUser sends a message to every connection belonging to userID.
func (h *Hub) BroadcastToUser(userID, msgType string, data interface{}) {
	h.mutex.RLock()
	targets := make([]*client, 0, len(h.connections))
	for _, c := range h.connections {
		if c.userID == userID {
			targets = append(targets, c)
		}
	}
	h.mutex.RUnlock()

	message := Message{Type: msgType, Timestamp: time.Now(), Data: data}
	for _, c := range targets {
		h.send(c, message)
	}
}

// BroadcastTaskEvent notifies a user's clients of a task mutation.
func (h *Hub) BroadcastTaskEvent(userID, event string, taskID int64) {
	h.BroadcastToUser(userID, event, map[string]interface{}{"task_id": taskID})
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.connections)
}

func (h *Hub) send(c *client, message Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.WithError(err).Warn("failed to marshal websocket message")
		return
	}

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		h.log.WithError(err).Debug("failed to send websocket message")
		h.mutex.Lock()
		delete(h.connections, c.conn)
		h.mutex.Unlock()
	}
}
