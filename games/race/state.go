// Package race is the reference game module: a 2-4 seat dice race used to
// exercise the full engine/room-service contract end to end (spec §4.5,
// "Reference module").
package race

import "time"

// BoardLength is the finish line; the first seat whose position reaches it
// wins.
const BoardLength = 50

// MaxSeats is the largest table this module supports.
const MaxSeats = 4

// TurnTimeoutSeconds is this module's ITurnBased contribution.
const TurnTimeoutSeconds = 30

// GameType is the descriptor key this module registers under.
const GameType = "race"

// State is the fixed-size, reference-free layout persisted by the codec.
// Every field is a plain integer so the type satisfies the codec's
// "unmanaged" requirement without reflection surprises.
type State struct {
	Positions  [MaxSeats]int32
	CurrentTurn int32
	LastRoll    int32
	HasRolled   int32 // 0 or 1, for CurrentTurn's seat
	NumPlayers  int32
	GameOver    int32
	WinnerSeat  int32 // -1 until GameOver
}

// NewState returns the starting layout for a table of numPlayers seats.
func NewState(numPlayers int) State {
	return State{
		CurrentTurn: 0,
		NumPlayers:  int32(numPlayers),
		WinnerSeat:  -1,
	}
}

func turnDeadline(turnStartedAt time.Time) time.Time {
	return turnStartedAt.Add(TurnTimeoutSeconds * time.Second)
}
