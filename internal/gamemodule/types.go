package gamemodule

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/CoreLoopStudios-Org/GameService/internal/model"
	"github.com/CoreLoopStudios-Org/GameService/internal/registry"
	"github.com/CoreLoopStudios-Org/GameService/internal/roomstore"
)

// Aliases so engine/room-service implementations depend on one import
// (gamemodule) instead of reaching into internal/model directly.
type (
	Command       = model.Command
	ActionResult  = model.ActionResult
	StateResponse = model.StateResponse
	JoinResult    = model.JoinResult
	RoomMeta      = model.RoomMeta
	GameEvent     = model.GameEvent
)

// Deps is what a module's Build* funcs receive: the shared infrastructure
// every engine/room-service is built over. Modules never construct their
// own Redis client or store — they're handed the process-wide ones.
type Deps struct {
	Store    *roomstore.Store
	Registry *registry.Registry
	Economy  Economy
	Redis    *redis.Client
}

// Economy is the subset of the economy package a room service needs at
// join/leave time, kept narrow so gamemodule never imports the concrete
// economy package (spec §4.9 is a boundary the room runtime consumes, not
// owns).
type Economy interface {
	ReserveEntryFee(ctx context.Context, userID string, fee int64, roomID string) (model.Reservation, error)
	RefundEntryFee(ctx context.Context, reservation model.Reservation) error
}
