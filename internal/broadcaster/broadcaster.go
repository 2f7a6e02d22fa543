// Package broadcaster implements the room-scoped fan-out surface (spec
// §4.10): typed messages delivered to every subscriber of a room in
// per-room FIFO order, best-effort to slow or disconnected subscribers.
package broadcaster

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CoreLoopStudios-Org/GameService/internal/model"
)

// Message types, one per spec §4.10 variant.
const (
	TypeGameState          = "GameState"
	TypePlayerJoined       = "PlayerJoined"
	TypePlayerLeft         = "PlayerLeft"
	TypePlayerDisconnected = "PlayerDisconnected"
	TypePlayerReconnected  = "PlayerReconnected"
	TypeGameEvent          = "GameEvent"
	TypeActionError        = "ActionError"
	TypeChatMessage        = "ChatMessage"
)

// Envelope is the wire shape every message takes: a discriminant Type plus
// a type-specific Data payload, JSON-encoded for delivery over the hub's
// websocket connections.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// outboundQueueDepth bounds each subscriber's per-connection send buffer.
// When a subscriber's queue is full, that message is skipped for that
// subscriber only; it stays subscribed and never blocks the rest of the
// room's fan-out (spec §4.10: best-effort to spectators).
const outboundQueueDepth = 64

// room holds one room's live subscribers plus the mutex that gives this
// room's messages FIFO order across concurrent callers (the scheduler's
// timeout sweep and the hub's command handlers both broadcast to the same
// room without coordinating otherwise).
type room struct {
	mu          sync.Mutex
	subscribers map[string]chan []byte // connectionId -> outbound queue
}

// Broadcaster fans typed messages out to every connection subscribed to a
// room. It satisfies both scheduler.Broadcaster and session.Broadcaster.
type Broadcaster struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	logger *zap.Logger
}

// New builds an empty Broadcaster.
func New(logger *zap.Logger) *Broadcaster {
	return &Broadcaster{rooms: make(map[string]*room), logger: logger}
}

// Subscribe registers connectionId's outbound queue against roomID. A
// connection provides its own queue (typically one shared channel drained
// by a single write pump) so the same connection can subscribe to more
// than one room at once — a player in roomA who is also spectating roomB.
func (b *Broadcaster) Subscribe(roomID, connectionID string, outbound chan []byte) {
	r := b.roomFor(roomID)
	r.mu.Lock()
	r.subscribers[connectionID] = outbound
	r.mu.Unlock()
}

// Unsubscribe removes connectionID from roomID's fan-out. It never closes
// the connection's outbound channel, since that channel's lifecycle is
// owned by the connection, not by any one room subscription.
func (b *Broadcaster) Unsubscribe(roomID, connectionID string) {
	b.mu.RLock()
	r, ok := b.rooms[roomID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	r.mu.Lock()
	delete(r.subscribers, connectionID)
	empty := len(r.subscribers) == 0
	r.mu.Unlock()

	if empty {
		b.mu.Lock()
		if cur, ok := b.rooms[roomID]; ok && cur == r {
			delete(b.rooms, roomID)
		}
		b.mu.Unlock()
	}
}

func (b *Broadcaster) roomFor(roomID string) *room {
	b.mu.RLock()
	r, ok := b.rooms[roomID]
	b.mu.RUnlock()
	if ok {
		return r
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rooms[roomID]; ok {
		return r
	}
	r = &room{subscribers: make(map[string]chan []byte)}
	b.rooms[roomID] = r
	return r
}

// publish delivers env to every current subscriber of roomID. Locking the
// room's mutex for the whole fan-out is what gives same-node messages for
// one room their FIFO guarantee (spec §4.10).
func (b *Broadcaster) publish(roomID string, env Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		b.logf("marshal broadcast envelope failed", err)
		return
	}

	b.mu.RLock()
	r, ok := b.rooms[roomID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for connID, ch := range r.subscribers {
		select {
		case ch <- raw:
		default:
			b.logf("dropping slow subscriber "+connID+" in room "+roomID, nil)
		}
	}
}

// sendTo delivers env to exactly one connection, used for ActionError
// replies that must never broadcast to the rest of the room (spec §7).
func (b *Broadcaster) sendTo(roomID, connectionID string, env Envelope) {
	raw, err := json.Marshal(env)
	if err != nil {
		b.logf("marshal direct envelope failed", err)
		return
	}
	r := b.roomFor(roomID)
	r.mu.Lock()
	ch, ok := r.subscribers[connectionID]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- raw:
	default:
		b.logf("dropping direct message to slow subscriber "+connectionID, nil)
	}
}

// BroadcastState fans out a GameState message, satisfying
// scheduler.Broadcaster.
func (b *Broadcaster) BroadcastState(roomID string, state []byte) {
	b.publish(roomID, Envelope{Type: TypeGameState, Data: map[string]any{"state": state}})
}

// BroadcastEvents fans out one GameEvent message per event, satisfying
// scheduler.Broadcaster.
func (b *Broadcaster) BroadcastEvents(roomID string, events []model.GameEvent) {
	for _, ev := range events {
		b.publish(roomID, Envelope{Type: TypeGameEvent, Data: map[string]any{
			"name": ev.Name, "data": ev.Data, "timestamp": ev.Timestamp,
		}})
	}
}

// BroadcastActionResult implements spec §4.10's rule for relaying an
// ActionResult to the room: one GameEvent per event, then a GameState if
// newState is present.
func (b *Broadcaster) BroadcastActionResult(roomID string, result model.ActionResult) {
	b.BroadcastEvents(roomID, result.Events)
	if result.NewState != nil {
		b.BroadcastState(roomID, result.NewState)
	}
}

// BroadcastPlayerJoined fans out a PlayerJoined message.
func (b *Broadcaster) BroadcastPlayerJoined(roomID, userID, userName string, seatIndex int) {
	b.publish(roomID, Envelope{Type: TypePlayerJoined, Data: map[string]any{
		"userId": userID, "userName": userName, "seatIndex": seatIndex,
	}})
}

// BroadcastPlayerLeft fans out a PlayerLeft message, satisfying
// session.Broadcaster.
func (b *Broadcaster) BroadcastPlayerLeft(roomID, userID string) {
	b.publish(roomID, Envelope{Type: TypePlayerLeft, Data: map[string]any{"userId": userID}})
}

// BroadcastPlayerDisconnected fans out a PlayerDisconnected message,
// satisfying session.Broadcaster.
func (b *Broadcaster) BroadcastPlayerDisconnected(roomID, userID string, gracePeriodSeconds int) {
	b.publish(roomID, Envelope{Type: TypePlayerDisconnected, Data: map[string]any{
		"userId": userID, "gracePeriodSeconds": gracePeriodSeconds,
	}})
}

// BroadcastPlayerReconnected fans out a PlayerReconnected message,
// satisfying session.Broadcaster.
func (b *Broadcaster) BroadcastPlayerReconnected(roomID, userID string) {
	b.publish(roomID, Envelope{Type: TypePlayerReconnected, Data: map[string]any{"userId": userID}})
}

// BroadcastChatMessage fans out a ChatMessage to the room.
func (b *Broadcaster) BroadcastChatMessage(roomID, userID, userName, text string) {
	b.publish(roomID, Envelope{Type: TypeChatMessage, Data: map[string]any{
		"userId": userID, "userName": userName, "text": text, "timestamp": time.Now(),
	}})
}

// SendActionError delivers an ActionError to the single originating
// connection only, never broadcasting it to the room (spec §7).
func (b *Broadcaster) SendActionError(roomID, connectionID, action, message string) {
	b.sendTo(roomID, connectionID, Envelope{Type: TypeActionError, Data: map[string]any{
		"action": action, "message": message,
	}})
}

func (b *Broadcaster) logf(msg string, err error) {
	if b.logger == nil {
		return
	}
	if err != nil {
		b.logger.Warn(msg, zap.Error(err))
		return
	}
	b.logger.Debug(msg)
}
