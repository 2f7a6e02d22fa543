package services

import (
	"context"

	"github.com/CoreLoopStudios-Org/GameService/internal/economy"
)

// EconomyService is the read-only surface the console exposes: it never
// reserves, commits, refunds, or pays out — those stay behind the room
// runtime's own economy boundary (spec §4.9). This package only looks.
type EconomyService struct {
	ledger *economy.Ledger
}

func NewService(ledger *economy.Ledger) *EconomyService {
	return &EconomyService{ledger: ledger}
}

func (s *EconomyService) Balance(ctx context.Context, userID string) (economy.BalanceView, bool, error) {
	return s.ledger.GetBalance(ctx, userID)
}

func (s *EconomyService) ArchivedGame(ctx context.Context, roomID string) (economy.ArchivedGameView, bool, error) {
	return s.ledger.GetArchivedGame(ctx, roomID)
}
