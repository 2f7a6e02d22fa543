// Package outbox implements the transactional outbox and archival worker
// (spec §4.8): GameEnded side effects are written alongside room state in
// the same logical step, then drained asynchronously so a payout failure
// never blocks the room from accepting its next command.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/CoreLoopStudios-Org/GameService/internal/model"
)

// EventGameEnded is the only mandatory event type this worker dispatches
// (spec §4.8). Additional event types can be registered via WithHandler.
const EventGameEnded = "GameEnded"

// batchSize bounds how many outbox rows one drain pass claims.
const batchSize = 100

// maxAttempts is the retry ceiling before a row is considered dead and left
// for the purge job instead of retried further.
const maxAttempts = 5

// maxErrorLen truncates lastError so a verbose driver error never grows the
// row without bound.
const maxErrorLen = 500

// retentionPeriod is how long a processed or exhausted row survives before
// PurgeOld removes it.
const retentionPeriod = 7 * 24 * time.Hour

// Economy is the narrow ledger surface the GameEnded handler needs.
type Economy interface {
	ProcessGamePayouts(ctx context.Context, roomID, gameType string, totalPot int64, seats map[string]int, winnerUserID string, ranking []string) error
}

// Handler processes one outbox row's payload inside an already-open
// transaction; returning an error aborts that row's transaction and leaves
// it for retry.
type Handler func(ctx context.Context, tx *sqlx.Tx, payload []byte) error

// Worker drains the outbox table and forwards GameEnded rows to the ledger,
// then archives the final game state in the row's own transaction. The
// payout commits in a separate ledger transaction, not in the archive's.
type Worker struct {
	db       *sqlx.DB
	economy  Economy
	logger   *zap.Logger
	handlers map[string]Handler
}

// New builds a Worker with the mandatory GameEnded handler registered.
func New(db *sqlx.DB, economy Economy, logger *zap.Logger) *Worker {
	w := &Worker{db: db, economy: economy, logger: logger, handlers: map[string]Handler{}}
	w.handlers[EventGameEnded] = w.handleGameEnded
	return w
}

// WithHandler registers (or overrides) the handler for eventType.
func (w *Worker) WithHandler(eventType string, h Handler) *Worker {
	w.handlers[eventType] = h
	return w
}

// EnqueueGameEnded writes a GameEnded row, satisfying scheduler.OutboxWriter.
func (w *Worker) EnqueueGameEnded(ctx context.Context, payload model.GameEndedPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal GameEnded payload: %w", err)
	}
	_, err = w.db.ExecContext(ctx,
		`INSERT INTO outbox_messages (event_type, payload, attempts, created_at) VALUES ($1, $2, 0, now())`,
		EventGameEnded, raw,
	)
	if err != nil {
		return fmt.Errorf("outbox: enqueue GameEnded: %w", err)
	}
	return nil
}

// Run blocks, draining the outbox every interval and purging old rows once
// an hour, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, drainInterval time.Duration) {
	drainTicker := time.NewTicker(drainInterval)
	defer drainTicker.Stop()
	purgeTicker := time.NewTicker(time.Hour)
	defer purgeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-drainTicker.C:
			if err := w.DrainOnce(ctx); err != nil {
				w.logf("drain pass failed", err)
			}
		case <-purgeTicker.C:
			if n, err := w.PurgeOld(ctx); err != nil {
				w.logf("purge pass failed", err)
			} else if n > 0 {
				w.logger.Info("purged exhausted outbox rows", zap.Int64("count", n))
			}
		}
	}
}

type outboxRow struct {
	ID        int64  `db:"id"`
	EventType string `db:"event_type"`
	Payload   []byte `db:"payload"`
	Attempts  int    `db:"attempts"`
}

// DrainOnce claims up to batchSize unprocessed rows and processes each in
// its own transaction, so one poison row never blocks the rest of the
// batch.
func (w *Worker) DrainOnce(ctx context.Context) error {
	var rows []outboxRow
	err := w.db.SelectContext(ctx, &rows,
		`SELECT id, event_type, payload, attempts FROM outbox_messages
		 WHERE processed_at IS NULL AND attempts < $1
		 ORDER BY created_at ASC LIMIT $2`,
		maxAttempts, batchSize,
	)
	if err != nil {
		return fmt.Errorf("outbox: claim batch: %w", err)
	}
	for _, row := range rows {
		w.processRow(ctx, row)
	}
	return nil
}

func (w *Worker) processRow(ctx context.Context, row outboxRow) {
	handler, ok := w.handlers[row.EventType]
	if !ok {
		w.recordFailure(ctx, row.ID, fmt.Errorf("no handler registered for event type %q", row.EventType))
		return
	}

	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		w.logf("begin outbox transaction failed", err)
		return
	}
	defer tx.Rollback()

	if err := handler(ctx, tx, row.Payload); err != nil {
		w.recordFailure(ctx, row.ID, err)
		return
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE outbox_messages SET processed_at = now() WHERE id = $1`, row.ID,
	); err != nil {
		w.logf("mark outbox row processed failed", err)
		return
	}
	if err := tx.Commit(); err != nil {
		w.logf("commit outbox row failed", err)
	}
}

func (w *Worker) recordFailure(ctx context.Context, id int64, cause error) {
	msg := cause.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	_, err := w.db.ExecContext(ctx,
		`UPDATE outbox_messages SET attempts = attempts + 1, last_error = $1 WHERE id = $2`,
		msg, id,
	)
	if err != nil {
		w.logf("record outbox failure failed", err)
	}
}

// handleGameEnded is the mandatory handler (spec §4.8): it runs the payout,
// which commits in its own ledger transaction, and then archives the final
// state in the transaction the caller opened. The two do not commit
// atomically together.
func (w *Worker) handleGameEnded(ctx context.Context, tx *sqlx.Tx, payload []byte) error {
	var p model.GameEndedPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("outbox: unmarshal GameEnded payload: %w", err)
	}

	// ProcessGamePayouts opens its own transaction against the same pool;
	// this is safe because it is independently idempotent per award
	// (keyed win:<roomId>:<userId>), so a retry after a partial failure
	// here never double-credits.
	if err := w.economy.ProcessGamePayouts(ctx, p.RoomID, p.GameType, p.TotalPot, p.Seats, p.WinnerUserID, p.Ranking); err != nil {
		return fmt.Errorf("outbox: process payouts for room %s: %w", p.RoomID, err)
	}

	seatsJSON, err := json.Marshal(p.Seats)
	if err != nil {
		return fmt.Errorf("outbox: marshal seats: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO archived_games
		 (room_id, game_type, final_state_json, player_seats_json, winner_user_id, total_pot, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.RoomID, p.GameType, p.StateJSON, string(seatsJSON), p.WinnerUserID, p.TotalPot, p.StartedAt, p.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("outbox: archive game %s: %w", p.RoomID, err)
	}
	return nil
}

// PurgeOld deletes processed or exhausted rows older than retentionPeriod
// (spec §4.8: hourly purge).
func (w *Worker) PurgeOld(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-retentionPeriod)
	res, err := w.db.ExecContext(ctx,
		`DELETE FROM outbox_messages WHERE created_at < $1 AND (processed_at IS NOT NULL OR attempts >= $2)`,
		cutoff, maxAttempts,
	)
	if err != nil {
		return 0, fmt.Errorf("outbox: purge: %w", err)
	}
	return res.RowsAffected()
}

func (w *Worker) logf(msg string, err error) {
	if w.logger == nil {
		return
	}
	w.logger.Warn(msg, zap.Error(err))
}
