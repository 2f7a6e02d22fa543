// Package gamemodule defines the contract a pluggable rule engine must
// satisfy to embed in the room runtime, and the process-wide table modules
// register themselves into at init (spec §4.5, §9 "descriptor").
package gamemodule

import "context"

// Engine is the interface every game module must implement. All hub-driven
// actions for a gameType flow through its single registered Engine.
type Engine interface {
	// ExecuteAsync applies cmd against roomId's current state under the
	// caller-held room lock, returning the result of the attempted
	// transition. It loads and saves the room's state itself but must not
	// acquire the lock; the caller (dispatcher thunk) owns the locking.
	ExecuteAsync(ctx context.Context, roomID string, cmd Command) (ActionResult, error)

	// GetLegalActionsAsync lists the actions available to userID given the
	// current turn holder and game state.
	GetLegalActionsAsync(ctx context.Context, roomID, userID string) ([]string, error)

	// GetStateAsync returns a point read of roomId's state, or ok=false if
	// the room does not exist.
	GetStateAsync(ctx context.Context, roomID string) (StateResponse, bool, error)

	// GetManyStatesAsync and GetManyMetasAsync serve batched lobby/admin
	// views without one round trip per room.
	GetManyStatesAsync(ctx context.Context, roomIDs []string) (map[string]StateResponse, error)
	GetManyMetasAsync(ctx context.Context, roomIDs []string) (map[string]RoomMeta, error)
}

// ITurnBased is implemented by engines with a turn concept. Engines lacking
// one (single-player reveal games) simply don't satisfy this interface, and
// the scheduler skips their gameType entirely.
type ITurnBased interface {
	Engine

	// TurnTimeoutSeconds is the duration after TurnStartedAt at which
	// CheckTimeoutsAsync should be invoked if no legal command arrives.
	TurnTimeoutSeconds() int

	// CheckTimeoutsAsync is invoked by the scheduler under the room lock
	// once a due entry fires. A nil or unsuccessful result means the engine
	// declined to act, and the scheduler does not reinsert a due entry for
	// the room. After a successful result that starts a new turn, the
	// scheduler reinserts one at TurnStartedAt + TurnTimeoutSeconds.
	CheckTimeoutsAsync(ctx context.Context, roomID string) (*ActionResult, error)
}

// RoomService is the lifecycle half of a game module: creating, joining,
// and leaving rooms of its gameType.
type RoomService interface {
	CreateRoom(ctx context.Context, meta RoomMeta) (string, error)
	JoinRoom(ctx context.Context, roomID, userID string) (JoinResult, error)
	LeaveRoom(ctx context.Context, roomID, userID string) error
	GetRoomMeta(ctx context.Context, roomID string) (RoomMeta, bool, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// Descriptor is what a game module exports at process init to register
// itself (spec §9). JSONSchema is optional and may be empty.
type Descriptor struct {
	GameType         string
	BuildEngine      func(deps Deps) Engine
	BuildRoomService func(deps Deps) RoomService
	JSONSchema       string
}

var registry = map[string]Descriptor{}

// Register adds d to the process-wide descriptor table. It panics on a
// duplicate gameType, since that can only happen from a programming error
// at init time.
func Register(d Descriptor) {
	if _, exists := registry[d.GameType]; exists {
		panic("gamemodule: duplicate registration for game type " + d.GameType)
	}
	registry[d.GameType] = d
}

// Lookup returns the descriptor for gameType, if registered.
func Lookup(gameType string) (Descriptor, bool) {
	d, ok := registry[gameType]
	return d, ok
}

// RegisteredGameTypes lists every game type registered so far, for the
// scheduler and admin surfaces to enumerate.
func RegisteredGameTypes() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	return types
}
