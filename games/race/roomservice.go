package race

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CoreLoopStudios-Org/GameService/internal/apperr"
	"github.com/CoreLoopStudios-Org/GameService/internal/codec"
	"github.com/CoreLoopStudios-Org/GameService/internal/gamemodule"
	"github.com/CoreLoopStudios-Org/GameService/internal/model"
	"github.com/CoreLoopStudios-Org/GameService/internal/roomstore"
)

// lockTTL bounds how long a join/leave/create holds the room lock.
const lockTTL = time.Second

// RoomService implements gamemodule.RoomService for the race game.
type RoomService struct {
	deps     gamemodule.Deps
	workerID string
}

// NewRoomService builds the race RoomService over the shared infrastructure.
func NewRoomService(deps gamemodule.Deps) gamemodule.RoomService {
	return &RoomService{deps: deps, workerID: uuid.NewString()}
}

// newRoomID returns a 32-character lowercase hex id. A canonical
// hyphenated UUID string would fail the hub's roomId pattern (spec §6.4),
// so rooms get the hyphen-free hex form directly.
func newRoomID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("race: generate room id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// CreateRoom persists an empty table, registers it in every index, and
// mints its short code (spec §4.3, §6.2 Room<->ShortCode bijection).
func (s *RoomService) CreateRoom(ctx context.Context, meta gamemodule.RoomMeta) (string, error) {
	if meta.MaxSeats < 2 || meta.MaxSeats > MaxSeats {
		return "", apperr.New(apperr.CodeInvalidInput, "race requires 2-4 seats")
	}
	roomID, err := newRoomID()
	if err != nil {
		return "", err
	}
	meta.RoomID = roomID
	meta.GameType = GameType
	meta.CreatedAt = time.Now()
	if meta.Seats == nil {
		meta.Seats = map[string]int{}
	}
	state := NewState(meta.MaxSeats)
	if err := roomstore.Save(ctx, s.deps.Store, roomID, state, meta, codec.CurrentVersion); err != nil {
		return "", err
	}
	if _, err := s.deps.Registry.CreateShortCode(ctx, roomID); err != nil {
		return "", err
	}
	return roomID, nil
}

// JoinRoom reserves the entry fee, then atomically (under the room lock)
// assigns the lowest free seat, refunding the reservation on any failure
// after it was taken (spec §4.5 JoinRoom invariants, testable property 4).
func (s *RoomService) JoinRoom(ctx context.Context, roomID, userID string) (gamemodule.JoinResult, error) {
	token := s.workerID + ":" + uuid.NewString()
	ok, err := s.deps.Store.TryLock(ctx, GameType, roomID, token, lockTTL)
	if err != nil {
		return gamemodule.JoinResult{}, err
	}
	if !ok {
		return gamemodule.JoinResult{}, apperr.New(apperr.CodeLockContention, "room "+roomID+" is busy")
	}
	defer s.deps.Store.Unlock(ctx, GameType, roomID, token)

	state, meta, found, err := roomstore.Load[State](ctx, s.deps.Store, GameType, roomID)
	if err != nil {
		return gamemodule.JoinResult{}, err
	}
	if !found {
		return gamemodule.JoinResult{}, apperr.New(apperr.CodeRoomNotFound, "room "+roomID+" not found")
	}
	if _, already := meta.SeatOf(userID); already {
		return gamemodule.JoinResult{Success: false, Error: "already seated"}, nil
	}
	if meta.IsFull() {
		return gamemodule.JoinResult{Success: false, Error: "room is full"}, nil
	}
	seat := meta.LowestFreeSeat()
	if seat < 0 {
		return gamemodule.JoinResult{Success: false, Error: "room is full"}, nil
	}

	var reservation model.Reservation
	if meta.EntryFee > 0 {
		reservation, err = s.deps.Economy.ReserveEntryFee(ctx, userID, meta.EntryFee, roomID)
		if err != nil {
			return gamemodule.JoinResult{}, err
		}
	}

	meta.Seats[userID] = seat
	if err := roomstore.Save(ctx, s.deps.Store, roomID, state, meta, codec.CurrentVersion); err != nil {
		if meta.EntryFee > 0 {
			_ = s.deps.Economy.RefundEntryFee(ctx, reservation)
		}
		return gamemodule.JoinResult{}, err
	}

	return gamemodule.JoinResult{Success: true, Seat: seat}, nil
}

// LeaveRoom removes userID's seat.
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, userID string) error {
	token := s.workerID + ":" + uuid.NewString()
	ok, err := s.deps.Store.TryLock(ctx, GameType, roomID, token, lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.CodeLockContention, "room "+roomID+" is busy")
	}
	defer s.deps.Store.Unlock(ctx, GameType, roomID, token)

	state, meta, found, err := roomstore.Load[State](ctx, s.deps.Store, GameType, roomID)
	if err != nil {
		return err
	}
	if !found {
		return apperr.New(apperr.CodeRoomNotFound, "room "+roomID+" not found")
	}
	delete(meta.Seats, userID)
	return roomstore.Save(ctx, s.deps.Store, roomID, state, meta, codec.CurrentVersion)
}

// GetRoomMeta reads the current seat map and config for roomID.
func (s *RoomService) GetRoomMeta(ctx context.Context, roomID string) (gamemodule.RoomMeta, bool, error) {
	_, meta, found, err := roomstore.Load[State](ctx, s.deps.Store, GameType, roomID)
	return meta, found, err
}

// DeleteRoom removes the room entirely (admin action or engine-driven
// end-of-game cleanup).
func (s *RoomService) DeleteRoom(ctx context.Context, roomID string) error {
	return s.deps.Store.Delete(ctx, GameType, roomID)
}
