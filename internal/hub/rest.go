package hub

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CoreLoopStudios-Org/GameService/internal/apperr"
)

// handleGetStateHTTP serves GET /rooms/{roomId}/state for non-socket
// polling clients and the admin console (spec §4.11).
func (h *Hub) handleGetStateHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID, err := h.resolveRoomID(ctx, chi.URLParam(r, "roomId"))
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	gameType, ok, err := h.registry.GameTypeOf(ctx, roomID)
	if err != nil || !ok {
		writeHTTPError(w, apperr.New(apperr.CodeRoomNotFound, "room not found"))
		return
	}
	engine, ok := h.engineFor(gameType)
	if !ok {
		writeHTTPError(w, apperr.New(apperr.CodeUnknownAction, "unknown gameType "+gameType))
		return
	}
	state, ok, err := engine.GetStateAsync(ctx, roomID)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	if !ok {
		writeHTTPError(w, apperr.New(apperr.CodeRoomNotFound, "room not found"))
		return
	}
	writeJSONHTTP(w, http.StatusOK, state)
}

// handleGetLegalActionsHTTP serves GET /rooms/{roomId}/legal-actions.
func (h *Hub) handleGetLegalActionsHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID, err := h.resolveRoomID(ctx, chi.URLParam(r, "roomId"))
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	userID := r.URL.Query().Get("userId")
	gameType, ok, err := h.registry.GameTypeOf(ctx, roomID)
	if err != nil || !ok {
		writeHTTPError(w, apperr.New(apperr.CodeRoomNotFound, "room not found"))
		return
	}
	engine, ok := h.engineFor(gameType)
	if !ok {
		writeHTTPError(w, apperr.New(apperr.CodeUnknownAction, "unknown gameType "+gameType))
		return
	}
	actions, err := engine.GetLegalActionsAsync(ctx, roomID, userID)
	if err != nil {
		writeHTTPError(w, err)
		return
	}
	writeJSONHTTP(w, http.StatusOK, map[string]any{"actions": actions})
}

func writeJSONHTTP(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeHTTPError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperr.CodeRoomNotFound:
		status = http.StatusNotFound
	case apperr.CodeInvalidInput:
		status = http.StatusBadRequest
	case apperr.CodeSystemOverloaded:
		status = http.StatusServiceUnavailable
	}
	writeJSONHTTP(w, status, map[string]any{"error": err.Error(), "code": string(code)})
}
