// Package economy implements the four ledger operations the room runtime
// consumes at its boundary with the wallet system (spec §4.9): entry-fee
// reservation/commit/refund and end-of-game payouts. Every write is keyed
// by an idempotency key so outbox retries never double-credit (spec §8,
// testable property 5).
package economy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/CoreLoopStudios-Org/GameService/internal/apperr"
	"github.com/CoreLoopStudios-Org/GameService/internal/model"
)

// RakeBps is the fixed rake taken from every pot before distribution
// (spec §4.9: 3%, expressed in basis points of 10000 to avoid floats).
const RakeBps = 300

// rankingShares maps seat count to the harmonic-series payout table (spec
// §4.9). Winner-take-all and equal-refund are computed inline.
var rankingShares = map[int][]float64{
	2: {0.7, 0.3},
	3: {0.5, 0.3, 0.2},
	4: {0.4, 0.3, 0.2, 0.1},
}

// Ledger implements the economy boundary against the relational schema
// (spec §6.3: player_profiles, wallet_transactions).
type Ledger struct {
	db *sqlx.DB
}

// New builds a Ledger over an already-connected sqlx handle (pgx stdlib
// driver; see internal/config for pool sizing).
func New(db *sqlx.DB) *Ledger {
	return &Ledger{db: db}
}

// ReserveEntryFee debits fee from userID's balance and records the
// reservation under a fresh idempotency key, failing with
// InsufficientFunds if the balance would go negative.
func (l *Ledger) ReserveEntryFee(ctx context.Context, userID string, fee int64, roomID string) (model.Reservation, error) {
	reservationID := uuid.NewString()

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return model.Reservation{}, fmt.Errorf("economy: begin reserve: %w", err)
	}
	defer tx.Rollback()

	var coins, version int64
	err = tx.QueryRowxContext(ctx,
		`SELECT coins, version FROM player_profiles WHERE user_id = $1 AND is_deleted = false FOR UPDATE`,
		userID,
	).Scan(&coins, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, apperr.New(apperr.CodeInvalidInput, "unknown player "+userID)
	}
	if err != nil {
		return model.Reservation{}, fmt.Errorf("economy: read balance: %w", err)
	}
	if coins-fee < 0 {
		return model.Reservation{}, apperr.New(apperr.CodeInsufficientFunds, "insufficient funds for entry fee")
	}

	// Gate on the idempotency key first: a conflicting insert means this
	// exact reservation already landed, so the balance must not move a
	// second time (spec §8, testable property 5). Checking via
	// ON CONFLICT DO NOTHING also avoids poisoning the transaction with a
	// unique-violation error, which Postgres would otherwise require a
	// rollback to clear.
	var inserted bool
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO wallet_transactions (user_id, amount, balance_after, type, reference_id, idempotency_key)
		 VALUES ($1, $2, $3, 'entry_fee_reserve', $4, $5)
		 ON CONFLICT (idempotency_key) DO NOTHING
		 RETURNING true`,
		userID, -fee, coins-fee, roomID, reservationID,
	).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, apperr.New(apperr.CodeDuplicateTransaction, "reservation already recorded")
	}
	if err != nil {
		return model.Reservation{}, fmt.Errorf("economy: write ledger entry: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE player_profiles SET coins = coins - $1, version = version + 1 WHERE user_id = $2 AND version = $3`,
		fee, userID, version,
	)
	if err != nil {
		return model.Reservation{}, fmt.Errorf("economy: debit balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return model.Reservation{}, apperr.New(apperr.CodeConcurrencyConflict, "player profile changed concurrently")
	}

	if err := tx.Commit(); err != nil {
		return model.Reservation{}, fmt.Errorf("economy: commit reserve: %w", err)
	}

	return model.Reservation{
		ReservationID: reservationID,
		UserID:        userID,
		RoomID:        roomID,
		Fee:           fee,
	}, nil
}

// CommitEntryFee marks a reservation as confirmed. This is bookkeeping
// only — the debit already happened at ReserveEntryFee time — so it never
// touches the balance.
func (l *Ledger) CommitEntryFee(ctx context.Context, reservation model.Reservation) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE wallet_transactions SET description = 'confirmed' WHERE idempotency_key = $1`,
		reservation.ReservationID,
	)
	if err != nil {
		return fmt.Errorf("economy: commit entry fee: %w", err)
	}
	return nil
}

// RefundEntryFee credits fee back to reservation.UserID under the
// idempotency key refund:<reservationId> (spec §4.9, testable property 4).
func (l *Ledger) RefundEntryFee(ctx context.Context, reservation model.Reservation) error {
	idempotencyKey := "refund:" + reservation.ReservationID

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("economy: begin refund: %w", err)
	}
	defer tx.Rollback()

	// Reserve the idempotency key before crediting anything (same gating
	// order as ReserveEntryFee) so a retried refund never double-credits.
	var placeholder sql.NullInt64
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO wallet_transactions (user_id, amount, balance_after, type, reference_id, idempotency_key)
		 VALUES ($1, $2, 0, 'entry_fee_refund', $3, $4)
		 ON CONFLICT (idempotency_key) DO NOTHING
		 RETURNING id`,
		reservation.UserID, reservation.Fee, reservation.RoomID, idempotencyKey,
	).Scan(&placeholder)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.New(apperr.CodeDuplicateTransaction, "refund already recorded")
	}
	if err != nil {
		return fmt.Errorf("economy: write refund entry: %w", err)
	}

	var coins int64
	err = tx.QueryRowxContext(ctx,
		`UPDATE player_profiles SET coins = coins + $1, version = version + 1
		 WHERE user_id = $2 RETURNING coins`,
		reservation.Fee, reservation.UserID,
	).Scan(&coins)
	if err != nil {
		return fmt.Errorf("economy: credit refund: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE wallet_transactions SET balance_after = $1 WHERE idempotency_key = $2`,
		coins, idempotencyKey,
	); err != nil {
		return fmt.Errorf("economy: record refund balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("economy: commit refund: %w", err)
	}
	return nil
}

// BalanceView is a read-only projection of a player_profiles row.
type BalanceView struct {
	UserID string `db:"user_id" json:"userId"`
	Coins  int64  `db:"coins" json:"coins"`
}

// GetBalance reads a player's current balance. ok is false if no profile
// exists for userID.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (BalanceView, bool, error) {
	var b BalanceView
	err := l.db.GetContext(ctx, &b,
		`SELECT user_id, coins FROM player_profiles WHERE user_id = $1 AND is_deleted = false`,
		userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return BalanceView{}, false, nil
	}
	if err != nil {
		return BalanceView{}, false, fmt.Errorf("economy: get balance: %w", err)
	}
	return b, true, nil
}

// ArchivedGameView is a read-only projection of an archived_games row.
type ArchivedGameView struct {
	RoomID         string    `db:"room_id" json:"roomId"`
	GameType       string    `db:"game_type" json:"gameType"`
	FinalStateJSON string    `db:"final_state_json" json:"finalStateJson"`
	PlayerSeats    string    `db:"player_seats_json" json:"playerSeatsJson"`
	WinnerUserID   string    `db:"winner_user_id" json:"winnerUserId"`
	TotalPot       int64     `db:"total_pot" json:"totalPot"`
	StartedAt      time.Time `db:"started_at" json:"startedAt"`
	EndedAt        time.Time `db:"ended_at" json:"endedAt"`
}

// GetArchivedGame reads the archived record for a finished room. ok is
// false if roomID was never archived (still in progress, or never existed).
func (l *Ledger) GetArchivedGame(ctx context.Context, roomID string) (ArchivedGameView, bool, error) {
	var g ArchivedGameView
	err := l.db.GetContext(ctx, &g,
		`SELECT room_id, game_type, final_state_json, player_seats_json, winner_user_id, total_pot, started_at, ended_at
		 FROM archived_games WHERE room_id = $1`,
		roomID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ArchivedGameView{}, false, nil
	}
	if err != nil {
		return ArchivedGameView{}, false, fmt.Errorf("economy: get archived game: %w", err)
	}
	return g, true, nil
}

// award is one (userId, amount) payout line.
type award struct {
	UserID string
	Amount int64
}

// computeAwards implements spec §4.9's three payout modes.
func computeAwards(totalPot int64, seats map[string]int, winnerUserID string, ranking []string) []award {
	rake := totalPot * RakeBps / 10000
	pool := totalPot - rake

	switch {
	case winnerUserID != "" && len(ranking) == 0:
		return []award{{UserID: winnerUserID, Amount: pool}}

	case len(ranking) > 0:
		shares, ok := rankingShares[len(ranking)]
		if !ok {
			// Unsupported table size: fall back to winner-take-all for
			// the first-place finisher rather than guess a distribution.
			return []award{{UserID: ranking[0], Amount: pool}}
		}
		awards := make([]award, 0, len(shares))
		var distributed int64
		for i, share := range shares {
			amount := int64(float64(pool) * share)
			distributed += amount
			awards = append(awards, award{UserID: ranking[i], Amount: amount})
		}
		// Any rounding remainder goes to first place so the sum equals
		// pool exactly.
		if remainder := pool - distributed; remainder != 0 && len(awards) > 0 {
			awards[0].Amount += remainder
		}
		return awards

	default:
		// No winner: equal refund of the pool across every seated user,
		// rake still applies since the house costs were incurred.
		if len(seats) == 0 {
			return nil
		}
		share := pool / int64(len(seats))
		remainder := pool - share*int64(len(seats))
		awards := make([]award, 0, len(seats))
		first := true
		for userID := range seats {
			amount := share
			if first {
				amount += remainder
				first = false
			}
			awards = append(awards, award{UserID: userID, Amount: amount})
		}
		return awards
	}
}

// ProcessGamePayouts distributes totalPot per spec §4.9, applying rake and
// the winner-take-all / ranking / equal-refund rules, each award keyed by
// win:<roomId>:<userId> for idempotent retry via the outbox.
func (l *Ledger) ProcessGamePayouts(ctx context.Context, roomID, gameType string, totalPot int64, seats map[string]int, winnerUserID string, ranking []string) error {
	awards := computeAwards(totalPot, seats, winnerUserID, ranking)

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("economy: begin payout: %w", err)
	}
	defer tx.Rollback()

	for _, a := range awards {
		if a.Amount <= 0 {
			continue
		}
		idempotencyKey := fmt.Sprintf("win:%s:%s", roomID, a.UserID)

		// Gate on the idempotency key before crediting: if a prior outbox
		// attempt already recorded this award, ON CONFLICT DO NOTHING
		// reports no row and this award is simply skipped, never
		// double-crediting the winner.
		var placeholder sql.NullInt64
		err := tx.QueryRowxContext(ctx,
			`INSERT INTO wallet_transactions (user_id, amount, balance_after, type, reference_id, idempotency_key)
			 VALUES ($1, $2, 0, 'game_payout', $3, $4)
			 ON CONFLICT (idempotency_key) DO NOTHING
			 RETURNING id`,
			a.UserID, a.Amount, roomID, idempotencyKey,
		).Scan(&placeholder)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("economy: write payout entry for %s: %w", a.UserID, err)
		}

		var coins int64
		err = tx.QueryRowxContext(ctx,
			`UPDATE player_profiles SET coins = coins + $1, version = version + 1
			 WHERE user_id = $2 RETURNING coins`,
			a.Amount, a.UserID,
		).Scan(&coins)
		if err != nil {
			return fmt.Errorf("economy: credit payout for %s: %w", a.UserID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE wallet_transactions SET balance_after = $1 WHERE idempotency_key = $2`,
			coins, idempotencyKey,
		); err != nil {
			return fmt.Errorf("economy: record payout balance for %s: %w", a.UserID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("economy: commit payout: %w", err)
	}
	return nil
}
