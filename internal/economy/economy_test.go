package economy

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/CoreLoopStudios-Org/GameService/internal/apperr"
)

func TestComputeAwardsWinnerTakeAll(t *testing.T) {
	awards := computeAwards(1000, map[string]int{"a": 0, "b": 1}, "a", nil)
	if len(awards) != 1 || awards[0].UserID != "a" {
		t.Fatalf("awards = %+v, want single winner-take-all award", awards)
	}
	if awards[0].Amount != 970 { // 1000 - 3% rake
		t.Fatalf("amount = %d, want 970", awards[0].Amount)
	}
}

func TestComputeAwardsRankingTable(t *testing.T) {
	awards := computeAwards(1000, nil, "", []string{"a", "b", "c"})
	if len(awards) != 3 {
		t.Fatalf("awards = %+v, want 3 entries", awards)
	}
	var total int64
	for _, a := range awards {
		total += a.Amount
	}
	if total != 970 {
		t.Fatalf("total distributed = %d, want 970 (pool after rake)", total)
	}
	if awards[0].UserID != "a" || awards[0].Amount < awards[1].Amount {
		t.Fatalf("first place should receive the largest share: %+v", awards)
	}
}

func TestComputeAwardsEqualRefund(t *testing.T) {
	awards := computeAwards(900, map[string]int{"a": 0, "b": 1, "c": 2}, "", nil)
	if len(awards) != 3 {
		t.Fatalf("awards = %+v, want 3 equal refunds", awards)
	}
	var total int64
	for _, a := range awards {
		total += a.Amount
	}
	if total != 873 { // 900 - 3% rake
		t.Fatalf("total = %d, want 873", total)
	}
}

func newMockLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	sqlxDB := sqlx.NewDb(db, "postgres")
	return New(sqlxDB), mock, func() { db.Close() }
}

func TestReserveEntryFeeSuccess(t *testing.T) {
	ledger, mock, closeDB := newMockLedger(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT coins, version FROM player_profiles")).
		WillReturnRows(sqlmock.NewRows([]string{"coins", "version"}).AddRow(int64(500), int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO wallet_transactions")).
		WillReturnRows(sqlmock.NewRows([]string{"true"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE player_profiles SET coins = coins - ")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	reservation, err := ledger.ReserveEntryFee(context.Background(), "alice", 100, "room1")
	if err != nil {
		t.Fatalf("ReserveEntryFee: %v", err)
	}
	if reservation.UserID != "alice" || reservation.Fee != 100 {
		t.Fatalf("reservation = %+v", reservation)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReserveEntryFeeInsufficientFunds(t *testing.T) {
	ledger, mock, closeDB := newMockLedger(t)
	defer closeDB()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT coins, version FROM player_profiles")).
		WillReturnRows(sqlmock.NewRows([]string{"coins", "version"}).AddRow(int64(50), int64(1)))
	mock.ExpectRollback()

	_, err := ledger.ReserveEntryFee(context.Background(), "alice", 100, "room1")
	if apperr.CodeOf(err) != apperr.CodeInsufficientFunds {
		t.Fatalf("code = %v, want CodeInsufficientFunds", apperr.CodeOf(err))
	}
}

func TestGetBalanceFound(t *testing.T) {
	ledger, mock, closeDB := newMockLedger(t)
	defer closeDB()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, coins FROM player_profiles")).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "coins"}).AddRow("alice", int64(500)))

	bal, ok, err := ledger.GetBalance(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if !ok || bal.Coins != 500 {
		t.Fatalf("bal = %+v, ok = %v", bal, ok)
	}
}

func TestGetBalanceNotFound(t *testing.T) {
	ledger, mock, closeDB := newMockLedger(t)
	defer closeDB()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT user_id, coins FROM player_profiles")).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "coins"}))

	_, ok, err := ledger.GetBalance(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for an unknown player")
	}
}
