package hub

import (
	"context"
	"time"

	"github.com/CoreLoopStudios-Org/GameService/internal/apperr"
	"github.com/CoreLoopStudios-Org/GameService/internal/gamemodule"
	"github.com/CoreLoopStudios-Org/GameService/internal/model"
)

// handleMessage routes one decoded client message to its handler (spec
// §4.11's authenticated method table).
func (h *Hub) handleMessage(ctx context.Context, c *connection, msg clientMessage) {
	switch msg.Type {
	case "CreateRoom":
		h.handleCreateRoom(ctx, c, msg)
	case "JoinRoom":
		h.handleJoinRoom(ctx, c, msg)
	case "LeaveRoom":
		h.handleLeaveRoom(ctx, c, msg)
	case "SpectateRoom":
		h.handleSpectateRoom(ctx, c, msg)
	case "StopSpectating":
		h.handleStopSpectating(ctx, c, msg)
	case "PerformAction":
		h.handlePerformAction(ctx, c, msg)
	case "GetLegalActions":
		h.handleGetLegalActions(ctx, c, msg)
	case "GetState":
		h.handleGetState(ctx, c, msg)
	case "SendChatMessage":
		h.handleSendChatMessage(ctx, c, msg)
	default:
		c.replyError(msg.Type, apperr.CodeUnknownAction, "unrecognized message type")
	}
}

func (h *Hub) handleCreateRoom(ctx context.Context, c *connection, msg clientMessage) {
	if err := validateTemplateName(msg.TemplateName); err != nil {
		c.replyError("CreateRoom", apperr.CodeOf(err), err.Error())
		return
	}
	// This runtime's template catalog is a 1:1 mapping from templateName to
	// a registered game type; richer template -> config resolution is out
	// of scope for the one reference module shipped here.
	gameType := msg.TemplateName
	svc, ok := h.roomServiceFor(gameType)
	if !ok {
		c.replyError("CreateRoom", apperr.CodeUnknownAction, "unknown templateName "+gameType)
		return
	}

	maxSeats := intFromPayload(msg.Payload, "maxSeats", 2)
	entryFee := int64FromPayload(msg.Payload, "entryFee", 0)
	visibility := model.VisibilityPublic
	if v, ok := msg.Payload["visibility"].(string); ok && v == string(model.VisibilityPrivate) {
		visibility = model.VisibilityPrivate
	}

	roomID, err := svc.CreateRoom(ctx, gamemodule.RoomMeta{
		GameType:   gameType,
		MaxSeats:   maxSeats,
		EntryFee:   entryFee,
		Visibility: visibility,
	})
	if err != nil {
		c.replyError("CreateRoom", apperr.CodeOf(err), err.Error())
		return
	}
	resp := map[string]any{"success": true, "roomId": roomID}
	if shortCode, hasCode, err := h.registry.GetShortCodeByRoomID(ctx, roomID); err == nil && hasCode {
		resp["shortCode"] = shortCode
	}
	c.reply("CreateRoomResult", resp)
}

func (h *Hub) handleJoinRoom(ctx context.Context, c *connection, msg clientMessage) {
	roomID, err := h.resolveRoomID(ctx, msg.RoomID)
	if err != nil {
		c.replyError("JoinRoom", apperr.CodeOf(err), err.Error())
		return
	}
	gameType, ok, err := h.registry.GameTypeOf(ctx, roomID)
	if err != nil || !ok {
		c.replyError("JoinRoom", apperr.CodeRoomNotFound, "room not found")
		return
	}
	svc, ok := h.roomServiceFor(gameType)
	if !ok {
		c.replyError("JoinRoom", apperr.CodeUnknownAction, "unknown gameType "+gameType)
		return
	}

	userID := c.userID
	err = h.dispatcher.Dispatch(ctx, roomID, func() {
		result, err := svc.JoinRoom(ctx, roomID, userID)
		if err != nil {
			c.replyError("JoinRoom", apperr.CodeOf(err), err.Error())
			return
		}
		if !result.Success {
			c.reply("JoinRoomResult", map[string]any{"success": false, "error": result.Error})
			return
		}
		if err := h.registry.SetUserRoom(ctx, userID, roomID); err != nil {
			h.logf("set user room failed for "+userID, err)
		}
		c.setRoom(roomID)
		h.broadcaster.Subscribe(roomID, c.id, c.send)
		// Reply to the joining connection before fanning PlayerJoined out
		// to the room, so the actor's own RPC result is never preceded by
		// a broadcast it triggered.
		c.reply("JoinRoomResult", map[string]any{"success": true, "seatIndex": result.Seat})
		h.broadcaster.BroadcastPlayerJoined(roomID, userID, userID, result.Seat)
	})
	if err != nil {
		c.replyError("JoinRoom", apperr.CodeOf(err), err.Error())
	}
}

func (h *Hub) handleLeaveRoom(ctx context.Context, c *connection, msg clientMessage) {
	roomID, err := h.resolveRoomID(ctx, msg.RoomID)
	if err != nil {
		c.replyError("LeaveRoom", apperr.CodeOf(err), err.Error())
		return
	}
	gameType, ok, err := h.registry.GameTypeOf(ctx, roomID)
	if err != nil || !ok {
		c.replyError("LeaveRoom", apperr.CodeRoomNotFound, "room not found")
		return
	}
	svc, ok := h.roomServiceFor(gameType)
	if !ok {
		c.replyError("LeaveRoom", apperr.CodeUnknownAction, "unknown gameType "+gameType)
		return
	}

	userID := c.userID
	err = h.dispatcher.Dispatch(ctx, roomID, func() {
		if err := svc.LeaveRoom(ctx, roomID, userID); err != nil {
			c.replyError("LeaveRoom", apperr.CodeOf(err), err.Error())
			return
		}
		if err := h.registry.ClearUserRoom(ctx, userID); err != nil {
			h.logf("clear user room failed for "+userID, err)
		}
		c.clearRoom()
		c.reply("LeaveRoomResult", map[string]any{"success": true})
		h.broadcaster.BroadcastPlayerLeft(roomID, userID)
		h.broadcaster.Unsubscribe(roomID, c.id)
	})
	if err != nil {
		c.replyError("LeaveRoom", apperr.CodeOf(err), err.Error())
	}
}

func (h *Hub) handleSpectateRoom(ctx context.Context, c *connection, msg clientMessage) {
	roomID, err := h.resolveRoomID(ctx, msg.RoomID)
	if err != nil {
		c.replyError("SpectateRoom", apperr.CodeOf(err), err.Error())
		return
	}
	if _, ok, err := h.registry.GameTypeOf(ctx, roomID); err != nil || !ok {
		c.replyError("SpectateRoom", apperr.CodeRoomNotFound, "room not found")
		return
	}
	h.broadcaster.Subscribe(roomID, c.id, c.send)
	c.addSpectating(roomID)
	c.reply("SpectateRoomResult", map[string]any{"success": true})
}

func (h *Hub) handleStopSpectating(ctx context.Context, c *connection, msg clientMessage) {
	if err := validateRoomID(msg.RoomID); err != nil {
		c.replyError("StopSpectating", apperr.CodeOf(err), err.Error())
		return
	}
	h.broadcaster.Unsubscribe(msg.RoomID, c.id)
	c.removeSpectating(msg.RoomID)
	c.reply("StopSpectatingResult", map[string]any{"success": true})
}

func (h *Hub) handlePerformAction(ctx context.Context, c *connection, msg clientMessage) {
	if err := validateRoomID(msg.RoomID); err != nil {
		c.replyError("PerformAction", apperr.CodeOf(err), err.Error())
		return
	}
	if err := validateAction(msg.Action); err != nil {
		c.replyError(msg.Action, apperr.CodeOf(err), err.Error())
		return
	}
	roomID := msg.RoomID
	gameType, ok, err := h.registry.GameTypeOf(ctx, roomID)
	if err != nil || !ok {
		c.replyError(msg.Action, apperr.CodeRoomNotFound, "room not found")
		return
	}
	engine, ok := h.engineFor(gameType)
	if !ok {
		c.replyError(msg.Action, apperr.CodeUnknownAction, "unknown gameType "+gameType)
		return
	}
	svc, _ := h.roomServiceFor(gameType)

	userID := c.userID
	cmd := gamemodule.Command{UserID: userID, Action: msg.Action, Payload: msg.Payload}
	err = h.dispatcher.Dispatch(ctx, roomID, func() {
		result, err := engine.ExecuteAsync(ctx, roomID, cmd)
		if err != nil {
			c.replyError(msg.Action, apperr.CodeOf(err), err.Error())
			return
		}
		if !result.Success {
			c.replyError(msg.Action, apperr.CodeIllegalMove, result.ErrorMessage)
			return
		}
		// Unlike JoinRoom/LeaveRoom, the room-wide GameEvent/GameState pair
		// is the primary payload here; PerformActionResult is just an ack
		// carrying commandId back to the caller, so it trails the broadcast.
		h.broadcaster.BroadcastActionResult(roomID, result)
		c.reply("PerformActionResult", map[string]any{"success": true, "commandId": msg.CommandID})

		if result.GameEnded && h.outbox != nil && svc != nil {
			h.enqueueGameEnded(ctx, roomID, gameType, svc, result)
		}
	})
	if err != nil {
		c.replyError(msg.Action, apperr.CodeOf(err), err.Error())
	}
}

func (h *Hub) enqueueGameEnded(ctx context.Context, roomID, gameType string, svc gamemodule.RoomService, result gamemodule.ActionResult) {
	meta, ok, err := svc.GetRoomMeta(ctx, roomID)
	if err != nil || !ok {
		h.logf("read room meta for GameEnded payload failed", err)
		return
	}
	payload := model.GameEndedPayload{
		RoomID:       roomID,
		GameType:     gameType,
		TotalPot:     meta.EntryFee * int64(len(meta.Seats)),
		Seats:        meta.Seats,
		WinnerUserID: result.WinnerUserID,
		Ranking:      result.Ranking,
		StateJSON:    string(result.NewState),
		StartedAt:    meta.CreatedAt,
		EndedAt:      time.Now(),
	}
	if err := h.outbox.EnqueueGameEnded(ctx, payload); err != nil {
		h.logf("enqueue GameEnded failed for room "+roomID, err)
	}
}

func (h *Hub) handleGetLegalActions(ctx context.Context, c *connection, msg clientMessage) {
	roomID, err := h.resolveRoomID(ctx, msg.RoomID)
	if err != nil {
		c.replyError("GetLegalActions", apperr.CodeOf(err), err.Error())
		return
	}
	gameType, ok, err := h.registry.GameTypeOf(ctx, roomID)
	if err != nil || !ok {
		c.replyError("GetLegalActions", apperr.CodeRoomNotFound, "room not found")
		return
	}
	engine, ok := h.engineFor(gameType)
	if !ok {
		c.replyError("GetLegalActions", apperr.CodeUnknownAction, "unknown gameType "+gameType)
		return
	}
	actions, err := engine.GetLegalActionsAsync(ctx, roomID, c.userID)
	if err != nil {
		c.replyError("GetLegalActions", apperr.CodeOf(err), err.Error())
		return
	}
	c.reply("GetLegalActionsResult", map[string]any{"actions": actions})
}

func (h *Hub) handleGetState(ctx context.Context, c *connection, msg clientMessage) {
	roomID, err := h.resolveRoomID(ctx, msg.RoomID)
	if err != nil {
		c.replyError("GetState", apperr.CodeOf(err), err.Error())
		return
	}
	gameType, ok, err := h.registry.GameTypeOf(ctx, roomID)
	if err != nil || !ok {
		c.replyError("GetState", apperr.CodeRoomNotFound, "room not found")
		return
	}
	engine, ok := h.engineFor(gameType)
	if !ok {
		c.replyError("GetState", apperr.CodeUnknownAction, "unknown gameType "+gameType)
		return
	}
	state, ok, err := engine.GetStateAsync(ctx, roomID)
	if err != nil {
		c.replyError("GetState", apperr.CodeOf(err), err.Error())
		return
	}
	if !ok {
		c.replyError("GetState", apperr.CodeRoomNotFound, "room not found")
		return
	}
	c.reply("GetStateResult", state)
}

func (h *Hub) handleSendChatMessage(ctx context.Context, c *connection, msg clientMessage) {
	if err := validateRoomID(msg.RoomID); err != nil {
		c.replyError("SendChatMessage", apperr.CodeOf(err), err.Error())
		return
	}
	if err := validateChatText(msg.Message); err != nil {
		c.replyError("SendChatMessage", apperr.CodeOf(err), err.Error())
		return
	}
	h.broadcaster.BroadcastChatMessage(msg.RoomID, c.userID, c.userID, msg.Message)
}

func intFromPayload(payload map[string]any, key string, fallback int) int {
	if v, ok := payload[key].(float64); ok {
		return int(v)
	}
	return fallback
}

func int64FromPayload(payload map[string]any, key string, fallback int64) int64 {
	if v, ok := payload[key].(float64); ok {
		return int64(v)
	}
	return fallback
}
