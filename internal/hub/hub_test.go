package hub

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/CoreLoopStudios-Org/GameService/games/race"
	"github.com/CoreLoopStudios-Org/GameService/internal/broadcaster"
	"github.com/CoreLoopStudios-Org/GameService/internal/dispatcher"
	"github.com/CoreLoopStudios-Org/GameService/internal/gamemodule"
	"github.com/CoreLoopStudios-Org/GameService/internal/model"
	"github.com/CoreLoopStudios-Org/GameService/internal/registry"
	"github.com/CoreLoopStudios-Org/GameService/internal/roomstore"
	"github.com/CoreLoopStudios-Org/GameService/internal/session"
)

var registerRaceOnce sync.Once

type fakeEconomy struct{}

func (fakeEconomy) ReserveEntryFee(ctx context.Context, userID string, fee int64, roomID string) (model.Reservation, error) {
	return model.Reservation{}, nil
}
func (fakeEconomy) RefundEntryFee(ctx context.Context, reservation model.Reservation) error {
	return nil
}

type fakeOutbox struct {
	mu       sync.Mutex
	enqueued []model.GameEndedPayload
}

func (f *fakeOutbox) EnqueueGameEnded(ctx context.Context, payload model.GameEndedPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, payload)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeOutbox) {
	t.Helper()
	registerRaceOnce.Do(race.Register)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	reg := registry.New(rdb)
	store := roomstore.New(rdb, reg)
	deps := gamemodule.Deps{Store: store, Registry: reg, Economy: fakeEconomy{}, Redis: rdb}

	bc := broadcaster.New(nil)
	sm := session.New(reg, bc, func(gameType string) (gamemodule.RoomService, bool) {
		d, ok := gamemodule.Lookup(gameType)
		if !ok {
			return nil, false
		}
		return d.BuildRoomService(deps), true
	}, nil)
	d := dispatcher.New(1)
	ob := &fakeOutbox{}

	h := New(deps, d, reg, bc, sm, ob, nil).WithRateLimit(1000, time.Minute)
	return httptest.NewServer(h.Router()), ob
}

func dial(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) broadcaster.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env broadcaster.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return env
}

func TestCreateJoinAndPerformActionOverWebsocket(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	alice := dial(t, server, "alice")
	defer alice.Close()

	if err := alice.WriteJSON(clientMessage{Type: "CreateRoom", TemplateName: "race", Payload: map[string]any{"maxSeats": float64(2)}}); err != nil {
		t.Fatalf("write CreateRoom: %v", err)
	}
	createEnv := readEnvelope(t, alice)
	if createEnv.Type != "CreateRoomResult" {
		t.Fatalf("type = %q, want CreateRoomResult", createEnv.Type)
	}
	data := createEnv.Data.(map[string]any)
	roomID, _ := data["roomId"].(string)
	if roomID == "" {
		t.Fatalf("expected a roomId, got %+v", data)
	}

	if err := alice.WriteJSON(clientMessage{Type: "JoinRoom", RoomID: roomID}); err != nil {
		t.Fatalf("write JoinRoom: %v", err)
	}
	joinEnv := readEnvelope(t, alice)
	if joinEnv.Type != "JoinRoomResult" {
		t.Fatalf("type = %q, want JoinRoomResult", joinEnv.Type)
	}
	// Alice is subscribed before her join is broadcast, so she also
	// receives her own PlayerJoined.
	aliceOwnJoined := readEnvelope(t, alice)
	if aliceOwnJoined.Type != broadcaster.TypePlayerJoined {
		t.Fatalf("type = %q, want PlayerJoined", aliceOwnJoined.Type)
	}

	bob := dial(t, server, "bob")
	defer bob.Close()
	if err := bob.WriteJSON(clientMessage{Type: "JoinRoom", RoomID: roomID}); err != nil {
		t.Fatalf("write JoinRoom (bob): %v", err)
	}
	bobJoinEnv := readEnvelope(t, bob)
	if bobJoinEnv.Type != "JoinRoomResult" {
		t.Fatalf("type = %q, want JoinRoomResult", bobJoinEnv.Type)
	}
	// Alice's connection, subscribed to the room, also sees bob's
	// PlayerJoined broadcast.
	alicePlayerJoined := readEnvelope(t, alice)
	if alicePlayerJoined.Type != broadcaster.TypePlayerJoined {
		t.Fatalf("type = %q, want PlayerJoined", alicePlayerJoined.Type)
	}

	if err := alice.WriteJSON(clientMessage{Type: "PerformAction", RoomID: roomID, Action: "roll"}); err != nil {
		t.Fatalf("write PerformAction: %v", err)
	}
	gameEvent := readEnvelope(t, alice)
	if gameEvent.Type != broadcaster.TypeGameEvent {
		t.Fatalf("type = %q, want GameEvent", gameEvent.Type)
	}
	gameState := readEnvelope(t, alice)
	if gameState.Type != broadcaster.TypeGameState {
		t.Fatalf("type = %q, want GameState", gameState.Type)
	}
	actionResult := readEnvelope(t, alice)
	if actionResult.Type != "PerformActionResult" {
		t.Fatalf("type = %q, want PerformActionResult", actionResult.Type)
	}
}

func TestPerformActionRejectsOutOfTurnPlayer(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	alice := dial(t, server, "alice")
	defer alice.Close()
	alice.WriteJSON(clientMessage{Type: "CreateRoom", TemplateName: "race", Payload: map[string]any{"maxSeats": float64(2)}})
	createEnv := readEnvelope(t, alice)
	roomID := createEnv.Data.(map[string]any)["roomId"].(string)
	alice.WriteJSON(clientMessage{Type: "JoinRoom", RoomID: roomID})
	readEnvelope(t, alice) // JoinRoomResult
	readEnvelope(t, alice) // own PlayerJoined broadcast

	bob := dial(t, server, "bob")
	defer bob.Close()
	bob.WriteJSON(clientMessage{Type: "JoinRoom", RoomID: roomID})
	readEnvelope(t, bob)           // JoinRoomResult
	readEnvelope(t, bob)           // own PlayerJoined broadcast
	readEnvelope(t, alice)         // PlayerJoined broadcast for bob

	// Seat 0 (alice) goes first; bob acting now must be rejected.
	bob.WriteJSON(clientMessage{Type: "PerformAction", RoomID: roomID, Action: "roll"})
	errEnv := readEnvelope(t, bob)
	if errEnv.Type != broadcaster.TypeActionError {
		t.Fatalf("type = %q, want ActionError", errEnv.Type)
	}
}

func TestInvalidRoomIDRejectedBeforeAnyLookup(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	alice := dial(t, server, "alice")
	defer alice.Close()

	alice.WriteJSON(clientMessage{Type: "JoinRoom", RoomID: "not-hex!!"})
	env := readEnvelope(t, alice)
	if env.Type != broadcaster.TypeActionError {
		t.Fatalf("type = %q, want ActionError", env.Type)
	}
}
