package race

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/CoreLoopStudios-Org/GameService/internal/apperr"
	"github.com/CoreLoopStudios-Org/GameService/internal/gamemodule"
	"github.com/CoreLoopStudios-Org/GameService/internal/model"
	"github.com/CoreLoopStudios-Org/GameService/internal/registry"
	"github.com/CoreLoopStudios-Org/GameService/internal/roomstore"
)

type fakeEconomy struct {
	reserved map[string]int64
	refunded map[string]bool
	failNext bool
}

func newFakeEconomy() *fakeEconomy {
	return &fakeEconomy{reserved: map[string]int64{}, refunded: map[string]bool{}}
}

func (f *fakeEconomy) ReserveEntryFee(ctx context.Context, userID string, fee int64, roomID string) (model.Reservation, error) {
	if f.failNext {
		return model.Reservation{}, apperr.New(apperr.CodeInsufficientFunds, "insufficient funds")
	}
	id := userID + ":" + roomID
	f.reserved[id] = fee
	return model.Reservation{ReservationID: id, UserID: userID, RoomID: roomID, Fee: fee}, nil
}

func (f *fakeEconomy) RefundEntryFee(ctx context.Context, reservation model.Reservation) error {
	f.refunded[reservation.ReservationID] = true
	delete(f.reserved, reservation.ReservationID)
	return nil
}

func newTestDeps(t *testing.T) (gamemodule.Deps, *fakeEconomy) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reg := registry.New(rdb)
	store := roomstore.New(rdb, reg)
	econ := newFakeEconomy()
	return gamemodule.Deps{Store: store, Registry: reg, Economy: econ, Redis: rdb}, econ
}

func TestCreateJoinAndRoll(t *testing.T) {
	ctx := context.Background()
	deps, _ := newTestDeps(t)
	svc := NewRoomService(deps)
	engine := NewEngine(deps)

	roomID, err := svc.CreateRoom(ctx, gamemodule.RoomMeta{MaxSeats: 2})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	res, err := svc.JoinRoom(ctx, roomID, "alice")
	if err != nil || !res.Success || res.Seat != 0 {
		t.Fatalf("JoinRoom alice: %+v, %v", res, err)
	}
	res, err = svc.JoinRoom(ctx, roomID, "bob")
	if err != nil || !res.Success || res.Seat != 1 {
		t.Fatalf("JoinRoom bob: %+v, %v", res, err)
	}

	actions, err := engine.GetLegalActionsAsync(ctx, roomID, "alice")
	if err != nil {
		t.Fatalf("GetLegalActionsAsync: %v", err)
	}
	if len(actions) != 1 || actions[0] != "roll" {
		t.Fatalf("actions = %v, want [roll]", actions)
	}

	result, err := engine.ExecuteAsync(ctx, roomID, gamemodule.Command{UserID: "alice", Action: "roll"})
	if err != nil {
		t.Fatalf("ExecuteAsync roll: %v", err)
	}
	if !result.Success {
		t.Fatalf("roll should succeed: %+v", result)
	}

	result, err = engine.ExecuteAsync(ctx, roomID, gamemodule.Command{UserID: "bob", Action: "roll"})
	if err != nil {
		t.Fatalf("ExecuteAsync bob out of turn: %v", err)
	}
	if result.Success {
		t.Fatal("bob should not be able to act out of turn")
	}
}

func TestJoinRoomFullRejectsThirdPlayer(t *testing.T) {
	ctx := context.Background()
	deps, _ := newTestDeps(t)
	svc := NewRoomService(deps)

	roomID, err := svc.CreateRoom(ctx, gamemodule.RoomMeta{MaxSeats: 2})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	mustJoin(t, svc, roomID, "a")
	mustJoin(t, svc, roomID, "b")

	res, err := svc.JoinRoom(ctx, roomID, "c")
	if err != nil {
		t.Fatalf("JoinRoom c: %v", err)
	}
	if res.Success {
		t.Fatal("third join must fail: room is full")
	}
}

func mustJoin(t *testing.T, svc gamemodule.RoomService, roomID, userID string) {
	t.Helper()
	res, err := svc.JoinRoom(context.Background(), roomID, userID)
	if err != nil || !res.Success {
		t.Fatalf("JoinRoom %s: %+v, %v", userID, res, err)
	}
}

func TestJoinRoomPropagatesEntryFeeReservationFailure(t *testing.T) {
	ctx := context.Background()
	deps, econ := newTestDeps(t)
	svc := NewRoomService(deps)

	roomID, err := svc.CreateRoom(ctx, gamemodule.RoomMeta{MaxSeats: 2, EntryFee: 100})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	econ.failNext = true
	_, err = svc.JoinRoom(ctx, roomID, "alice")
	if err == nil {
		t.Fatal("expected reservation failure to propagate")
	}
	if len(econ.reserved) != 0 {
		t.Fatal("no reservation should remain after a failed ReserveEntryFee")
	}
}

func TestFullGamePlayToWin(t *testing.T) {
	ctx := context.Background()
	deps, _ := newTestDeps(t)
	svc := NewRoomService(deps)
	engine := NewEngine(deps)

	roomID, err := svc.CreateRoom(ctx, gamemodule.RoomMeta{MaxSeats: 2})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	mustJoin(t, svc, roomID, "alice")
	mustJoin(t, svc, roomID, "bob")

	for turns := 0; turns < 500; turns++ {
		state, _, found, err := roomstore.Load[State](ctx, deps.Store, GameType, roomID)
		if err != nil || !found {
			t.Fatalf("Load: found=%v err=%v", found, err)
		}
		if state.GameOver != 0 {
			return
		}
		userID := "alice"
		if state.CurrentTurn == 1 {
			userID = "bob"
		}
		if state.HasRolled == 0 {
			if _, err := engine.ExecuteAsync(ctx, roomID, gamemodule.Command{UserID: userID, Action: "roll"}); err != nil {
				t.Fatalf("roll: %v", err)
			}
		} else {
			if _, err := engine.ExecuteAsync(ctx, roomID, gamemodule.Command{UserID: userID, Action: "move"}); err != nil {
				t.Fatalf("move: %v", err)
			}
		}
	}
	t.Fatal("game did not end within 500 turns")
}
