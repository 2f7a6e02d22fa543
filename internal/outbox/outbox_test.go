package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/CoreLoopStudios-Org/GameService/internal/model"
)

type fakeEconomy struct {
	calls    int
	failNext bool
}

func (f *fakeEconomy) ProcessGamePayouts(ctx context.Context, roomID, gameType string, totalPot int64, seats map[string]int, winnerUserID string, ranking []string) error {
	f.calls++
	if f.failNext {
		f.failNext = false
		return errors.New("ledger unavailable")
	}
	return nil
}

func newMockWorker(t *testing.T) (*Worker, sqlmock.Sqlmock, *fakeEconomy, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	sqlxDB := sqlx.NewDb(db, "postgres")
	econ := &fakeEconomy{}
	return New(sqlxDB, econ, nil), mock, econ, func() { db.Close() }
}

func TestEnqueueGameEnded(t *testing.T) {
	w, mock, _, closeDB := newMockWorker(t)
	defer closeDB()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_messages")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := w.EnqueueGameEnded(context.Background(), model.GameEndedPayload{RoomID: "room1", GameType: "race"})
	if err != nil {
		t.Fatalf("EnqueueGameEnded: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDrainOnceProcessesGameEndedAndMarksDone(t *testing.T) {
	w, mock, econ, closeDB := newMockWorker(t)
	defer closeDB()

	payload, _ := json.Marshal(model.GameEndedPayload{RoomID: "room1", GameType: "race", TotalPot: 100, Seats: map[string]int{"alice": 0}})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, event_type, payload, attempts FROM outbox_messages")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "payload", "attempts"}).
			AddRow(int64(1), EventGameEnded, payload, 0))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO archived_games")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox_messages SET processed_at = now()")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := w.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}
	if econ.calls != 1 {
		t.Fatalf("ProcessGamePayouts calls = %d, want 1", econ.calls)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDrainOnceRecordsFailureWithoutMarkingProcessed(t *testing.T) {
	w, mock, econ, closeDB := newMockWorker(t)
	defer closeDB()
	econ.failNext = true

	payload, _ := json.Marshal(model.GameEndedPayload{RoomID: "room1", GameType: "race", TotalPot: 100})

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, event_type, payload, attempts FROM outbox_messages")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "event_type", "payload", "attempts"}).
			AddRow(int64(1), EventGameEnded, payload, 0))
	mock.ExpectBegin()
	// handleGameEnded fails inside ProcessGamePayouts before any tx statement runs.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE outbox_messages SET attempts = attempts + 1")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectRollback()

	if err := w.DrainOnce(context.Background()); err != nil {
		t.Fatalf("DrainOnce: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPurgeOldDeletesExhaustedRows(t *testing.T) {
	w, mock, _, closeDB := newMockWorker(t)
	defer closeDB()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM outbox_messages")).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := w.PurgeOld(context.Background())
	if err != nil {
		t.Fatalf("PurgeOld: %v", err)
	}
	if n != 3 {
		t.Fatalf("purged = %d, want 3", n)
	}
}
