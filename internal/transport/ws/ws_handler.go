package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"classbland-live/internal/live"
)

// WSHandler upgrades HTTP requests to websockets and dispatches inbound
// events to the live protocol handler.
type WSHandler struct {
	hub      *Hub
	protocol *live.Handler
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(hub *Hub, protocol *live.Handler, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:      hub,
		protocol: protocol,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS runs one connection. The userId query parameter identifies the
// caller for teacher events; students identify themselves in the join
// payload.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan envelope, 256),
	}
	h.hub.register(c)
	go c.writePump()

	defer func() {
		h.protocol.HandleDisconnect(r.Context(), c.id)
		h.hub.unregister(c.id)
		_ = conn.Close()
	}()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := r.Context()
	for {
		var msg envelope
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Event {
		case live.EventJoinRoom:
			var p live.JoinRoomPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil {
				h.hub.ToConn(c.id, live.EventError, map[string]string{"message": "invalid payload"})
				continue
			}
			h.protocol.HandleJoinRoom(ctx, c.id, p)
		case live.EventSubmitAnswer:
			var p live.SubmitAnswerPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil {
				h.hub.ToConn(c.id, live.EventError, map[string]string{"message": "invalid payload"})
				continue
			}
			h.protocol.HandleSubmitAnswer(ctx, c.id, p)
		case live.EventTeacherJoin, live.EventTeacherStart, live.EventTeacherResults,
			live.EventTeacherNext, live.EventTeacherEnd:
			var p live.SessionPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil {
				h.hub.ToConn(c.id, live.EventError, map[string]string{"message": "invalid payload"})
				continue
			}
			switch msg.Event {
			case live.EventTeacherJoin:
				h.protocol.HandleTeacherJoin(ctx, c.id, userID, p)
			case live.EventTeacherStart:
				h.protocol.HandleStartSession(ctx, c.id, userID, p)
			case live.EventTeacherResults:
				h.protocol.HandleShowResults(ctx, c.id, userID, p)
			case live.EventTeacherNext:
				h.protocol.HandleNextQuestion(ctx, c.id, userID, p)
			case live.EventTeacherEnd:
				h.protocol.HandleEndSession(ctx, c.id, userID, p)
			}
		default:
			h.hub.ToConn(c.id, live.EventError, map[string]string{"message": "unsupported event"})
		}
	}
}
