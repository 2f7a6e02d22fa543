// Package hub implements the realtime surface (spec §4.11): a chi-routed
// HTTP server upgrading clients to websockets, validating and rate-limiting
// every inbound command, and routing room-mutating commands through the
// dispatcher so the per-room serialization guarantee holds end to end.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/CoreLoopStudios-Org/GameService/internal/apperr"
	"github.com/CoreLoopStudios-Org/GameService/internal/broadcaster"
	"github.com/CoreLoopStudios-Org/GameService/internal/dispatcher"
	"github.com/CoreLoopStudios-Org/GameService/internal/gamemodule"
	"github.com/CoreLoopStudios-Org/GameService/internal/model"
	"github.com/CoreLoopStudios-Org/GameService/internal/registry"
	"github.com/CoreLoopStudios-Org/GameService/internal/roomid"
	"github.com/CoreLoopStudios-Org/GameService/internal/session"
)

// DefaultRateLimit and DefaultRateLimitWindow mirror spec §6.5's
// rateLimit.permitLimit/windowMinutes defaults.
const (
	DefaultRateLimit       = 100
	DefaultRateLimitWindow = time.Minute
	writeWait              = 10 * time.Second
	pongWait               = 60 * time.Second
	pingInterval           = (pongWait * 9) / 10
)

// OutboxWriter is the narrow surface the hub needs to record a player-driven
// GameEnded side effect (the scheduler records the timeout-driven ones).
type OutboxWriter interface {
	EnqueueGameEnded(ctx context.Context, payload model.GameEndedPayload) error
}

// Hub wires the websocket/HTTP surface to the dispatcher, the registered
// game modules, the broadcaster, and session lifecycle tracking.
type Hub struct {
	deps        gamemodule.Deps
	dispatcher  *dispatcher.Dispatcher
	registry    *registry.Registry
	broadcaster *broadcaster.Broadcaster
	session     *session.Manager
	outbox      OutboxWriter
	logger      *zap.Logger
	upgrader    websocket.Upgrader

	rateLimitMax    int
	rateLimitWindow time.Duration

	mu          sync.Mutex
	svcCache    map[string]gamemodule.RoomService
	engineCache map[string]gamemodule.Engine
}

// New builds a Hub.
func New(deps gamemodule.Deps, d *dispatcher.Dispatcher, reg *registry.Registry, bc *broadcaster.Broadcaster, sm *session.Manager, outbox OutboxWriter, logger *zap.Logger) *Hub {
	return &Hub{
		deps:        deps,
		dispatcher:  d,
		registry:    reg,
		broadcaster: bc,
		session:     sm,
		outbox:      outbox,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rateLimitMax:    DefaultRateLimit,
		rateLimitWindow: DefaultRateLimitWindow,
		svcCache:        make(map[string]gamemodule.RoomService),
		engineCache:     make(map[string]gamemodule.Engine),
	}
}

// WithRateLimit overrides the default permit-limit/window pair.
func (h *Hub) WithRateLimit(max int, window time.Duration) *Hub {
	h.rateLimitMax = max
	h.rateLimitWindow = window
	return h
}

// Router builds the chi route table (spec §4.11).
func (h *Hub) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws", h.serveWS)
	r.Get("/rooms/{roomId}/state", h.handleGetStateHTTP)
	r.Get("/rooms/{roomId}/legal-actions", h.handleGetLegalActionsHTTP)
	return r
}

func (h *Hub) roomServiceFor(gameType string) (gamemodule.RoomService, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if svc, ok := h.svcCache[gameType]; ok {
		return svc, true
	}
	descriptor, ok := gamemodule.Lookup(gameType)
	if !ok {
		return nil, false
	}
	svc := descriptor.BuildRoomService(h.deps)
	h.svcCache[gameType] = svc
	return svc, true
}

func (h *Hub) engineFor(gameType string) (gamemodule.Engine, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.engineCache[gameType]; ok {
		return e, true
	}
	descriptor, ok := gamemodule.Lookup(gameType)
	if !ok {
		return nil, false
	}
	e := descriptor.BuildEngine(h.deps)
	h.engineCache[gameType] = e
	return e, true
}

// resolveRoomID accepts either a raw roomId or a short code. A value that
// is neither is rejected as invalid input without touching the registry.
func (h *Hub) resolveRoomID(ctx context.Context, roomIDOrCode string) (string, error) {
	if roomid.Valid(roomIDOrCode) {
		roomID, ok, err := h.registry.GetRoomIDByShortCode(ctx, roomIDOrCode)
		if err != nil {
			return "", err
		}
		if ok {
			return roomID, nil
		}
	}
	if roomIDPattern.MatchString(roomIDOrCode) {
		return roomIDOrCode, nil
	}
	if !roomid.Valid(roomIDOrCode) {
		return "", apperr.New(apperr.CodeInvalidInput, "invalid roomId or short code")
	}
	return "", apperr.New(apperr.CodeRoomNotFound, "no room for short code "+roomIDOrCode)
}

func (h *Hub) logf(msg string, err error) {
	if h.logger == nil {
		return
	}
	h.logger.Warn(msg, zap.Error(err))
}

func newConnectionID() string { return uuid.NewString() }

func writeJSON(ws *websocket.Conn, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, raw)
}
