// Package ws is the websocket transport. The hub tracks connections and
// their room membership and implements the broadcaster consumed by the
// live protocol handler.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	readLimit    = 65536
)

// envelope is the wire shape of every message in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan envelope
}

// Hub maintains connID -> client and roomCode -> set of connections.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*client
	rooms map[string]map[string]*client

	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		conns:  make(map[string]*client),
		rooms:  make(map[string]map[string]*client),
		logger: logger,
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
	h.logger.Debug("connection registered", zap.String("conn_id", c.id))
}

// unregister drops the connection from its room. The send channel is
// never closed: broadcasts snapshot the member list outside the lock and
// may still deliver to a just-removed client, so closing here would turn
// that race into a send on a closed channel. The write pump exits on its
// own once the underlying connection is closed.
func (h *Hub) unregister(connID string) {
	h.mu.Lock()
	_, ok := h.conns[connID]
	if ok {
		delete(h.conns, connID)
		for code, members := range h.rooms {
			if _, in := members[connID]; in {
				delete(members, connID)
				if len(members) == 0 {
					delete(h.rooms, code)
				}
			}
		}
	}
	h.mu.Unlock()
	if ok {
		h.logger.Debug("connection unregistered", zap.String("conn_id", connID))
	}
}

// Join adds the connection to a room group. A connection belongs to at
// most one room; rejoining moves it.
func (h *Hub) Join(roomCode, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	for code, members := range h.rooms {
		if code == roomCode {
			continue
		}
		if _, in := members[connID]; in {
			delete(members, connID)
			if len(members) == 0 {
				delete(h.rooms, code)
			}
		}
	}
	if h.rooms[roomCode] == nil {
		h.rooms[roomCode] = make(map[string]*client)
	}
	h.rooms[roomCode][connID] = c
}

func (h *Hub) ToConn(connID, event string, payload any) {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.deliver(c, event, payload)
}

func (h *Hub) ToRoom(roomCode, event string, payload any) {
	for _, c := range h.members(roomCode) {
		h.deliver(c, event, payload)
	}
}

func (h *Hub) ToOthers(roomCode, exceptConnID, event string, payload any) {
	for _, c := range h.members(roomCode) {
		if c.id == exceptConnID {
			continue
		}
		h.deliver(c, event, payload)
	}
}

func (h *Hub) members(roomCode string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.rooms[roomCode]))
	for _, c := range h.rooms[roomCode] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) deliver(c *client, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("payload marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case c.send <- envelope{Event: event, Data: data}:
	default:
		// buffer full, skip
		h.logger.Warn("send buffer full, dropping message",
			zap.String("conn_id", c.id), zap.String("event", event))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
