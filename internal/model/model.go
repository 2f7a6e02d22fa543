// Package model holds the entities shared across the room runtime: the
// pieces every component (store, registry, dispatcher, hub, economy) passes
// around by value. None of them own persistence; that is the room store's
// and registry's job (spec §3, "Ownership").
package model

import "time"

// RoomVisibility controls whether a room is discoverable in public lobby
// listings.
type RoomVisibility string

const (
	VisibilityPublic  RoomVisibility = "public"
	VisibilityPrivate RoomVisibility = "private"
)

// RoomMeta is the small JSON document describing a room's shape. It never
// carries the game's binary state (see codec.Encode for that).
type RoomMeta struct {
	RoomID          string            `json:"roomId"`
	GameType        string            `json:"gameType"`
	Seats           map[string]int    `json:"seats"` // userId -> seat
	MaxSeats        int               `json:"maxSeats"`
	Visibility      RoomVisibility    `json:"visibility"`
	EntryFee        int64             `json:"entryFee"`
	Config          map[string]string `json:"config"`
	TurnStartedAt   time.Time         `json:"turnStartedAt"`
	DisconnectGrace map[string]time.Time `json:"disconnectGrace"` // userId -> reconnect deadline
	CreatedAt       time.Time         `json:"createdAt"`
}

// SeatOf returns the seat assigned to userID and whether one exists.
func (m *RoomMeta) SeatOf(userID string) (int, bool) {
	s, ok := m.Seats[userID]
	return s, ok
}

// IsFull reports whether every seat is occupied.
func (m *RoomMeta) IsFull() bool {
	return len(m.Seats) >= m.MaxSeats
}

// LowestFreeSeat returns the lowest-indexed unoccupied seat, or -1 if the
// room is full (spec §4.5, JoinRoom invariant 2).
func (m *RoomMeta) LowestFreeSeat() int {
	taken := make([]bool, m.MaxSeats)
	for _, seat := range m.Seats {
		if seat >= 0 && seat < m.MaxSeats {
			taken[seat] = true
		}
	}
	for i, used := range taken {
		if !used {
			return i
		}
	}
	return -1
}

// Command is a client-originated action dispatched to a game engine.
type Command struct {
	UserID  string
	Action  string
	Payload map[string]any
}

// ActionResult is returned by an engine's ExecuteAsync (spec §4.5).
type ActionResult struct {
	Success      bool
	ErrorMessage string
	NewState     []byte // codec-encoded GameState<T>, nil if unchanged
	Events       []GameEvent
	GameEnded    bool
	WinnerUserID string   // empty if no single winner
	Ranking      []string // userIds in finishing order, may be empty
}

// GameEvent is a named, timestamped payload an engine emits for the
// broadcaster to fan out as a GameEvent message.
type GameEvent struct {
	Name      string
	Data      map[string]any
	Timestamp time.Time
}

// StateResponse is the batched/point read returned by GetStateAsync.
type StateResponse struct {
	RoomID     string
	GameType   string
	Meta       RoomMeta
	State      []byte
	LegalMoves []string
}

// JoinResult is returned by RoomService.JoinRoom.
type JoinResult struct {
	Success bool
	Seat    int
	Error   string
}

// DisconnectTicket records a grace-period reservation for a disconnected
// player (spec §3).
type DisconnectTicket struct {
	UserID    string
	RoomID    string
	ExpiresAt time.Time
}

// TimeoutEntry is one row of the turn-due index (spec §3/§4.6).
type TimeoutEntry struct {
	RoomID   string
	GameType string
	DueAt    time.Time
}

// Reservation is the ledger-side handle produced by ReserveEntryFee (spec
// §4.9), threaded through CommitEntryFee/RefundEntryFee.
type Reservation struct {
	ReservationID string
	UserID        string
	RoomID        string
	Fee           int64
	CreatedAt     time.Time
	Confirmed     bool
}

// OutboxRecord is a row of the outbox_messages table (spec §6.3).
type OutboxRecord struct {
	ID          int64
	EventType   string
	Payload     []byte
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// GameEndedPayload is the JSON payload of a GameEnded outbox record.
type GameEndedPayload struct {
	RoomID       string         `json:"roomId"`
	GameType     string         `json:"gameType"`
	TotalPot     int64          `json:"totalPot"`
	Seats        map[string]int `json:"seats"`
	WinnerUserID string         `json:"winnerUserId,omitempty"`
	Ranking      []string       `json:"ranking,omitempty"`
	StateJSON    string         `json:"stateJson"`
	StartedAt    time.Time      `json:"startedAt"`
	EndedAt      time.Time      `json:"endedAt"`
}

// ArchivedGame is a row of the archived_games table (spec §6.3).
type ArchivedGame struct {
	ID              int64
	RoomID          string
	GameType        string
	FinalStateJSON  string
	PlayerSeatsJSON string
	WinnerUserID    string
	TotalPot        int64
	StartedAt       time.Time
	EndedAt         time.Time
}

// LedgerEntry is a row of the wallet_transactions table (spec §6.3).
type LedgerEntry struct {
	ID             int64
	UserID         string
	Amount         int64
	BalanceAfter   int64
	Type           string
	ReferenceID    string
	IdempotencyKey string
	CreatedAt      time.Time
}

// WorkerIdentity describes a worker process. No lock currently uses it: the
// scheduler and the room services build their SET NX lock values as plain
// strings.
type WorkerIdentity struct {
	ID        string
	StartedAt time.Time
}
