package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/CoreLoopStudios-Org/GameService/internal/gamemodule"
	"github.com/CoreLoopStudios-Org/GameService/internal/model"
	"github.com/CoreLoopStudios-Org/GameService/internal/registry"
)

type fakeBroadcaster struct {
	mu           sync.Mutex
	disconnected []string
	reconnected  []string
	left         []string
}

func (f *fakeBroadcaster) BroadcastPlayerDisconnected(roomID, userID string, gracePeriodSeconds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, userID)
}
func (f *fakeBroadcaster) BroadcastPlayerReconnected(roomID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnected = append(f.reconnected, userID)
}
func (f *fakeBroadcaster) BroadcastPlayerLeft(roomID, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, userID)
}

type fakeRoomService struct {
	mu   sync.Mutex
	left []string
}

func (f *fakeRoomService) CreateRoom(ctx context.Context, meta gamemodule.RoomMeta) (string, error) {
	return "", nil
}
func (f *fakeRoomService) JoinRoom(ctx context.Context, roomID, userID string) (gamemodule.JoinResult, error) {
	return gamemodule.JoinResult{}, nil
}
func (f *fakeRoomService) LeaveRoom(ctx context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, userID)
	return nil
}
func (f *fakeRoomService) GetRoomMeta(ctx context.Context, roomID string) (gamemodule.RoomMeta, bool, error) {
	return gamemodule.RoomMeta{}, false, nil
}
func (f *fakeRoomService) DeleteRoom(ctx context.Context, roomID string) error { return nil }

var _ model.DisconnectTicket // keep model imported for readability of doc comments

func newTestManager(t *testing.T) (*Manager, *fakeBroadcaster, *fakeRoomService) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reg := registry.New(rdb)
	bc := &fakeBroadcaster{}
	svc := &fakeRoomService{}
	mgr := New(reg, bc, func(gameType string) (gamemodule.RoomService, bool) {
		return svc, true
	}, nil).WithGracePeriod(10 * time.Millisecond)
	return mgr, bc, svc
}

func TestConnectMarksOnline(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	if _, _, err := mgr.Connect(ctx, "u1", "c1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	online, err := mgr.registry.IsOnline(ctx, "u1")
	if err != nil || !online {
		t.Fatalf("IsOnline = %v, %v, want true", online, err)
	}
}

func TestDisconnectOpensTicketWhenLastConnection(t *testing.T) {
	ctx := context.Background()
	mgr, bc, _ := newTestManager(t)

	if _, _, err := mgr.Connect(ctx, "u1", "c1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := mgr.Disconnect(ctx, "u1", "c1", "room1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	room, ok, err := mgr.registry.GetDisconnectTicket(ctx, "u1")
	if err != nil || !ok || room != "room1" {
		t.Fatalf("GetDisconnectTicket = %q, %v, %v", room, ok, err)
	}
	if len(bc.disconnected) != 1 {
		t.Fatalf("expected one PlayerDisconnected broadcast, got %d", len(bc.disconnected))
	}
}

func TestReconnectReclaimsRoomAndCancelsTicket(t *testing.T) {
	ctx := context.Background()
	mgr, bc, _ := newTestManager(t)

	if _, _, err := mgr.Connect(ctx, "u1", "c1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := mgr.Disconnect(ctx, "u1", "c1", "room1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	room, reconnected, err := mgr.Connect(ctx, "u1", "c2")
	if err != nil {
		t.Fatalf("Connect (reconnect): %v", err)
	}
	if !reconnected || room != "room1" {
		t.Fatalf("reconnected=%v room=%q, want true/room1", reconnected, room)
	}
	if _, ok, _ := mgr.registry.GetDisconnectTicket(ctx, "u1"); ok {
		t.Fatal("ticket should be cancelled after reconnect")
	}
	if len(bc.reconnected) != 1 {
		t.Fatalf("expected one PlayerReconnected broadcast, got %d", len(bc.reconnected))
	}
}

func TestCleanupWorkerEvictsExpiredTickets(t *testing.T) {
	ctx := context.Background()
	mgr, bc, svc := newTestManager(t)

	if _, _, err := mgr.Connect(ctx, "u1", "c1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := mgr.Disconnect(ctx, "u1", "c1", "room1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	time.Sleep(20 * time.Millisecond) // outlast the 10ms grace period

	mgr.sweepExpiredTickets(ctx, func(roomID string) (string, bool) { return "race", true })

	if len(svc.left) != 1 || svc.left[0] != "u1" {
		t.Fatalf("LeaveRoom calls = %v, want [u1]", svc.left)
	}
	if len(bc.left) != 1 {
		t.Fatalf("expected one PlayerLeft broadcast, got %d", len(bc.left))
	}
	if _, ok, _ := mgr.registry.GetDisconnectTicket(ctx, "u1"); ok {
		t.Fatal("ticket should be gone after eviction")
	}
}
