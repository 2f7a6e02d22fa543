package race

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"github.com/CoreLoopStudios-Org/GameService/internal/apperr"
	"github.com/CoreLoopStudios-Org/GameService/internal/codec"
	"github.com/CoreLoopStudios-Org/GameService/internal/gamemodule"
	"github.com/CoreLoopStudios-Org/GameService/internal/model"
	"github.com/CoreLoopStudios-Org/GameService/internal/roomstore"
)

// Engine implements gamemodule.ITurnBased for the race game.
type Engine struct {
	deps gamemodule.Deps
}

// NewEngine builds the race Engine over the shared infrastructure.
func NewEngine(deps gamemodule.Deps) gamemodule.Engine {
	return &Engine{deps: deps}
}

func (e *Engine) TurnTimeoutSeconds() int { return TurnTimeoutSeconds }

func rollDie() (int32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(6))
	if err != nil {
		return 0, err
	}
	return int32(n.Int64()) + 1, nil
}

// ExecuteAsync applies one of "roll" or "move" to the room under the
// caller-held lock.
func (e *Engine) ExecuteAsync(ctx context.Context, roomID string, cmd gamemodule.Command) (gamemodule.ActionResult, error) {
	state, meta, found, err := roomstore.Load[State](ctx, e.deps.Store, GameType, roomID)
	if err != nil {
		return gamemodule.ActionResult{}, err
	}
	if !found {
		return gamemodule.ActionResult{}, apperr.New(apperr.CodeRoomNotFound, "room "+roomID+" not found")
	}

	seat, ok := meta.SeatOf(cmd.UserID)
	if !ok {
		return gamemodule.ActionResult{}, apperr.New(apperr.CodeNotInRoom, cmd.UserID+" is not seated in "+roomID)
	}
	if state.GameOver != 0 {
		return gamemodule.ActionResult{Success: false, ErrorMessage: "game has already ended"}, nil
	}
	if int32(seat) != state.CurrentTurn {
		return gamemodule.ActionResult{Success: false, ErrorMessage: "not your turn"}, nil
	}

	var events []gamemodule.GameEvent
	switch cmd.Action {
	case "roll":
		if state.HasRolled != 0 {
			return gamemodule.ActionResult{Success: false, ErrorMessage: "already rolled this turn"}, nil
		}
		roll, err := rollDie()
		if err != nil {
			return gamemodule.ActionResult{}, err
		}
		state.LastRoll = roll
		state.HasRolled = 1
		events = append(events, model.GameEvent{
			Name:      "DiceRolled",
			Data:      map[string]any{"seat": seat, "roll": roll},
			Timestamp: time.Now(),
		})
	case "move":
		if state.HasRolled == 0 {
			return gamemodule.ActionResult{Success: false, ErrorMessage: "roll before moving"}, nil
		}
		state.Positions[seat] += state.LastRoll
		state.HasRolled = 0
		if state.Positions[seat] >= BoardLength {
			state.GameOver = 1
			state.WinnerSeat = int32(seat)
			events = append(events, model.GameEvent{
				Name:      "GameEnded",
				Data:      map[string]any{"winnerSeat": seat},
				Timestamp: time.Now(),
			})
			if err := e.deps.Registry.UnregisterTurnTimeout(ctx, GameType, roomID); err != nil {
				return gamemodule.ActionResult{}, err
			}
		} else {
			state.CurrentTurn = nextTurn(state.CurrentTurn, state.NumPlayers)
			meta.TurnStartedAt = time.Now()
			if err := e.deps.Registry.RegisterTurnTimeout(ctx, GameType, roomID, turnDeadline(meta.TurnStartedAt)); err != nil {
				return gamemodule.ActionResult{}, err
			}
			events = append(events, model.GameEvent{
				Name:      "TurnAdvanced",
				Data:      map[string]any{"seat": state.CurrentTurn},
				Timestamp: time.Now(),
			})
		}
	default:
		return gamemodule.ActionResult{}, apperr.New(apperr.CodeUnknownAction, "unknown action "+cmd.Action)
	}

	if err := roomstore.Save(ctx, e.deps.Store, roomID, state, meta, codec.CurrentVersion); err != nil {
		return gamemodule.ActionResult{}, err
	}

	blob, err := encodedState(state)
	if err != nil {
		return gamemodule.ActionResult{}, err
	}

	result := gamemodule.ActionResult{
		Success:  true,
		NewState: blob,
		Events:   events,
	}
	if state.GameOver != 0 {
		result.GameEnded = true
		result.WinnerUserID = winnerUserID(meta, state)
	}
	return result, nil
}

func nextTurn(current, numPlayers int32) int32 {
	if numPlayers <= 0 {
		return 0
	}
	return (current + 1) % numPlayers
}

func winnerUserID(meta model.RoomMeta, state State) string {
	for userID, seat := range meta.Seats {
		if int32(seat) == state.WinnerSeat {
			return userID
		}
	}
	return ""
}

// GetLegalActionsAsync reports "roll" or "move" for the current turn
// holder, nothing for anyone else.
func (e *Engine) GetLegalActionsAsync(ctx context.Context, roomID, userID string) ([]string, error) {
	state, meta, found, err := roomstore.Load[State](ctx, e.deps.Store, GameType, roomID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.New(apperr.CodeRoomNotFound, "room "+roomID+" not found")
	}
	if state.GameOver != 0 {
		return nil, nil
	}
	seat, ok := meta.SeatOf(userID)
	if !ok || int32(seat) != state.CurrentTurn {
		return nil, nil
	}
	if state.HasRolled == 0 {
		return []string{"roll"}, nil
	}
	return []string{"move"}, nil
}

// GetStateAsync returns a point read for roomId.
func (e *Engine) GetStateAsync(ctx context.Context, roomID string) (gamemodule.StateResponse, bool, error) {
	state, meta, found, err := roomstore.Load[State](ctx, e.deps.Store, GameType, roomID)
	if err != nil || !found {
		return gamemodule.StateResponse{}, false, err
	}
	blob, err := encodedState(state)
	if err != nil {
		return gamemodule.StateResponse{}, false, err
	}
	var legal []string
	for userID := range meta.Seats {
		moves, err := e.GetLegalActionsAsync(ctx, roomID, userID)
		if err == nil && len(moves) > 0 {
			legal = moves
		}
	}
	return gamemodule.StateResponse{
		RoomID:     roomID,
		GameType:   GameType,
		Meta:       meta,
		State:      blob,
		LegalMoves: legal,
	}, true, nil
}

// GetManyStatesAsync batch-reads state and meta in two round trips total
// (rather than one GetStateAsync per room), then computes legal moves
// per-seat the same way GetStateAsync does.
func (e *Engine) GetManyStatesAsync(ctx context.Context, roomIDs []string) (map[string]gamemodule.StateResponse, error) {
	states, err := roomstore.LoadMany[State](ctx, e.deps.Store, GameType, roomIDs)
	if err != nil {
		return nil, err
	}
	metas, err := e.deps.Store.LoadMetaMany(ctx, GameType, roomIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]gamemodule.StateResponse, len(states))
	for id, state := range states {
		meta, ok := metas[id]
		if !ok {
			continue
		}
		blob, err := encodedState(state)
		if err != nil {
			return nil, err
		}
		var legal []string
		for userID := range meta.Seats {
			moves, err := e.GetLegalActionsAsync(ctx, id, userID)
			if err == nil && len(moves) > 0 {
				legal = moves
			}
		}
		out[id] = gamemodule.StateResponse{
			RoomID:     id,
			GameType:   GameType,
			Meta:       meta,
			State:      blob,
			LegalMoves: legal,
		}
	}
	return out, nil
}

// GetManyMetasAsync batches meta-only reads via the store's bulk path.
func (e *Engine) GetManyMetasAsync(ctx context.Context, roomIDs []string) (map[string]gamemodule.RoomMeta, error) {
	return e.deps.Store.LoadMetaMany(ctx, GameType, roomIDs)
}

// CheckTimeoutsAsync is invoked by the scheduler once a due entry fires.
// Skipping the roll/move distinction for timeout purposes: a silent player
// simply forfeits the turn and the engine advances it on their behalf.
func (e *Engine) CheckTimeoutsAsync(ctx context.Context, roomID string) (*gamemodule.ActionResult, error) {
	state, meta, found, err := roomstore.Load[State](ctx, e.deps.Store, GameType, roomID)
	if err != nil || !found {
		return nil, err
	}
	if state.GameOver != 0 {
		return nil, nil
	}

	state.CurrentTurn = nextTurn(state.CurrentTurn, state.NumPlayers)
	state.HasRolled = 0
	meta.TurnStartedAt = time.Now()

	if err := roomstore.Save(ctx, e.deps.Store, roomID, state, meta, codec.CurrentVersion); err != nil {
		return nil, err
	}
	// Reinserting the due entry for the new turn is the scheduler's job
	// (it removes the stale entry unconditionally and reinserts only when
	// the result lands a new turn) — the engine only authors the timeout
	// on player-driven turn changes in ExecuteAsync.

	blob, err := encodedState(state)
	if err != nil {
		return nil, err
	}
	return &gamemodule.ActionResult{
		Success:  true,
		NewState: blob,
		Events: []gamemodule.GameEvent{{
			Name:      "TurnTimeout",
			Data:      map[string]any{"seat": state.CurrentTurn},
			Timestamp: time.Now(),
		}},
	}, nil
}
