package roomstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/CoreLoopStudios-Org/GameService/internal/codec"
	"github.com/CoreLoopStudios-Org/GameService/internal/model"
)

type raceState struct {
	Positions [4]int32
	Turn      int32
}

type fakeIndexer struct {
	registered map[string]bool
	touched    int
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{registered: map[string]bool{}}
}

func (f *fakeIndexer) RegisterRoom(ctx context.Context, gameType, roomID string) error {
	f.registered[roomID] = true
	return nil
}
func (f *fakeIndexer) UpdateRoomActivity(ctx context.Context, gameType, roomID string) error {
	f.touched++
	return nil
}
func (f *fakeIndexer) Unregister(ctx context.Context, gameType, roomID string) error {
	delete(f.registered, roomID)
	return nil
}

func newTestStore(t *testing.T) (*Store, *fakeIndexer) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	idx := newFakeIndexer()
	return New(rdb, idx), idx
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, idx := newTestStore(t)

	meta := model.RoomMeta{RoomID: "room1", GameType: "race", MaxSeats: 4, Seats: map[string]int{"u1": 0}}
	state := raceState{Positions: [4]int32{1, 2, 3, 4}, Turn: 1}

	if err := Save(ctx, store, "room1", state, meta, codec.CurrentVersion); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !idx.registered["room1"] {
		t.Fatal("Save must register the room in the indexer")
	}
	if idx.touched != 1 {
		t.Fatalf("touched = %d, want 1", idx.touched)
	}

	gotState, gotMeta, found, err := Load[raceState](ctx, store, "race", "room1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("expected room to be found")
	}
	if gotState != state {
		t.Fatalf("state mismatch: got %+v want %+v", gotState, state)
	}
	if gotMeta.RoomID != "room1" || gotMeta.MaxSeats != 4 {
		t.Fatalf("meta mismatch: %+v", gotMeta)
	}
}

func TestLoadAbsentRoom(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	_, _, found, err := Load[raceState](ctx, store, "race", "nope")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Fatal("expected absent room to report found=false")
	}
}

func TestTryLockFairness(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	ok, err := store.TryLock(ctx, "race", "room1", "worker-a", time.Second)
	if err != nil || !ok {
		t.Fatalf("worker-a TryLock: ok=%v err=%v", ok, err)
	}
	ok, err = store.TryLock(ctx, "race", "room1", "worker-b", time.Second)
	if err != nil {
		t.Fatalf("worker-b TryLock: %v", err)
	}
	if ok {
		t.Fatal("worker-b must not acquire a lock worker-a holds")
	}

	// worker-b must not be able to release a lock it does not hold.
	if err := store.Unlock(ctx, "race", "room1", "worker-b"); err == nil {
		t.Fatal("worker-b must not be able to unlock worker-a's lock")
	}

	if err := store.Unlock(ctx, "race", "room1", "worker-a"); err != nil {
		t.Fatalf("worker-a Unlock: %v", err)
	}

	ok, err = store.TryLock(ctx, "race", "room1", "worker-b", time.Second)
	if err != nil || !ok {
		t.Fatalf("worker-b should acquire lock after release: ok=%v err=%v", ok, err)
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	ctx := context.Background()
	store, idx := newTestStore(t)
	meta := model.RoomMeta{RoomID: "room1", GameType: "race", MaxSeats: 2}
	if err := Save(ctx, store, "room1", raceState{}, meta, codec.CurrentVersion); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, "race", "room1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if idx.registered["room1"] {
		t.Fatal("Delete must unregister the room")
	}
	_, _, found, err := Load[raceState](ctx, store, "race", "room1")
	if err != nil {
		t.Fatalf("Load after delete: %v", err)
	}
	if found {
		t.Fatal("room should be gone after Delete")
	}
}

func TestLoadMetaMany(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	for _, id := range []string{"r1", "r2"} {
		meta := model.RoomMeta{RoomID: id, GameType: "race", MaxSeats: 4}
		if err := Save(ctx, store, id, raceState{}, meta, codec.CurrentVersion); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}
	got, err := store.LoadMetaMany(ctx, "race", []string{"r1", "r2", "missing"})
	if err != nil {
		t.Fatalf("LoadMetaMany: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d metas, want 2", len(got))
	}
}
