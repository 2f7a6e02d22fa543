package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CoreLoopStudios-Org/GameService/internal/apperr"
	"github.com/CoreLoopStudios-Org/GameService/internal/broadcaster"
)

// connectionOutboundQueueDepth bounds how many frames a connection's write
// pump can fall behind by before the broadcaster starts dropping to it.
const connectionOutboundQueueDepth = 64

// clientMessage is the envelope every inbound websocket frame decodes into
// (spec §4.11's authenticated method table).
type clientMessage struct {
	Type         string         `json:"type"`
	RoomID       string         `json:"roomId,omitempty"`
	TemplateName string         `json:"templateName,omitempty"`
	Action       string         `json:"action,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	CommandID    string         `json:"commandId,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// connection is one live websocket client.
type connection struct {
	id     string
	userID string
	ws     *websocket.Conn
	send   chan []byte
	hub    *Hub

	mu         sync.Mutex
	roomID     string          // the room this connection is seated in, "" if none
	spectating map[string]bool // rooms this connection watches without a seat
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId query parameter is required", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("websocket upgrade failed", err)
		return
	}

	conn := &connection{
		id:         newConnectionID(),
		userID:     userID,
		ws:         ws,
		send:       make(chan []byte, connectionOutboundQueueDepth),
		hub:        h,
		spectating: make(map[string]bool),
	}

	ctx := context.Background()
	reclaimedRoomID, _, err := h.session.Connect(ctx, userID, conn.id)
	if err != nil {
		h.logf("session connect failed for "+userID, err)
	}
	if reclaimedRoomID != "" {
		conn.roomID = reclaimedRoomID
		h.broadcaster.Subscribe(reclaimedRoomID, conn.id, conn.send)
	}

	go conn.writePump()
	conn.readPump()
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) readPump() {
	hub := c.hub
	defer c.onDisconnect()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := context.Background()
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.replyError("", apperr.CodeInvalidInput, "malformed message")
			continue
		}

		allowed, err := hub.registry.CheckRateLimit(ctx, c.userID, hub.rateLimitMax, hub.rateLimitWindow)
		if err != nil {
			hub.logf("rate limit check failed for "+c.userID, err)
			continue
		}
		if !allowed {
			c.replyError(msg.Type, apperr.CodeSystemOverloaded, "rate limit exceeded")
			continue
		}

		hub.handleMessage(ctx, c, msg)
	}
}

func (c *connection) onDisconnect() {
	hub := c.hub
	ctx := context.Background()

	c.mu.Lock()
	roomID := c.roomID
	spectating := make([]string, 0, len(c.spectating))
	for r := range c.spectating {
		spectating = append(spectating, r)
	}
	c.mu.Unlock()

	if roomID != "" {
		hub.broadcaster.Unsubscribe(roomID, c.id)
	}
	for _, r := range spectating {
		hub.broadcaster.Unsubscribe(r, c.id)
	}
	if err := hub.session.Disconnect(ctx, c.userID, c.id, roomID); err != nil {
		hub.logf("session disconnect failed for "+c.userID, err)
	}
	close(c.send)
}

func (c *connection) reply(replyType string, data any) {
	raw, err := json.Marshal(broadcaster.Envelope{Type: replyType, Data: data})
	if err != nil {
		c.hub.logf("marshal hub reply failed", err)
		return
	}
	select {
	case c.send <- raw:
	default:
		c.hub.logf("dropping reply to slow connection "+c.id, nil)
	}
}

func (c *connection) replyError(action string, code apperr.Code, message string) {
	c.reply(broadcaster.TypeActionError, map[string]any{
		"action":  action,
		"code":    string(code),
		"message": message,
	})
}

func (c *connection) setRoom(roomID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

func (c *connection) clearRoom() {
	c.mu.Lock()
	c.roomID = ""
	c.mu.Unlock()
}

func (c *connection) addSpectating(roomID string) {
	c.mu.Lock()
	c.spectating[roomID] = true
	c.mu.Unlock()
}

func (c *connection) removeSpectating(roomID string) {
	c.mu.Lock()
	delete(c.spectating, roomID)
	c.mu.Unlock()
}
