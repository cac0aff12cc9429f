package token

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizencorps/stache/pkg/custody"
)

func TestMemoryLedgerTransfer(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Open(ctx, "a", "alice"))
	require.NoError(t, l.Open(ctx, "b", "bob"))
	require.NoError(t, l.Mint(ctx, "a", 100))

	require.NoError(t, l.Transfer(ctx, "a", "b", "alice", 40))

	a, err := l.Account(ctx, "a")
	require.NoError(t, err)
	b, err := l.Account(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, uint64(60), a.Amount)
	assert.Equal(t, uint64(40), b.Amount)

	assert.ErrorIs(t, l.Transfer(ctx, "a", "b", "bob", 1), custody.ErrNotAuthorized)
	assert.ErrorIs(t, l.Transfer(ctx, "a", "b", "alice", 61), custody.ErrInsufficientFunds)
	assert.ErrorIs(t, l.Transfer(ctx, "a", "nowhere", "alice", 1), ErrAccountNotFound)
	assert.ErrorIs(t, l.Mint(ctx, "nowhere", 1), ErrAccountNotFound)
}

func TestMemoryLedgerOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Open(ctx, "a", "alice"))
	require.NoError(t, l.Mint(ctx, "a", 5))
	require.NoError(t, l.Open(ctx, "a", "mallory"))

	assert.ErrorIs(t, l.Transfer(ctx, "a", "a", "mallory", 1), custody.ErrNotAuthorized)
	acc, _ := l.Account(ctx, "a")
	assert.Equal(t, uint64(5), acc.Amount)
}

func TestMemoryLedgerCloseIfEmpty(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Open(ctx, "a", "alice"))
	require.NoError(t, l.Open(ctx, "b", "bob"))
	require.NoError(t, l.Mint(ctx, "a", 10))

	require.NoError(t, l.CloseIfEmpty(ctx, "a", "b", "alice"))
	_, err := l.Account(ctx, "a")
	require.NoError(t, err, "non-empty account stays open")

	require.NoError(t, l.Transfer(ctx, "a", "b", "alice", 10))
	assert.ErrorIs(t, l.CloseIfEmpty(ctx, "a", "b", "bob"), custody.ErrNotAuthorized)
	require.NoError(t, l.CloseIfEmpty(ctx, "a", "b", "alice"))
	_, err = l.Account(ctx, "a")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestPostgresLedgerAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPostgresLedger(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT amount FROM token_accounts WHERE account_key = $1")).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(42))
	acc, err := l.Account(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, custody.Account{Key: "a", Amount: 42}, acc)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT amount FROM token_accounts")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	_, err = l.Account(ctx, "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerTransfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPostgresLedger(db)
	lock := regexp.QuoteMeta("SELECT owner, amount FROM token_accounts WHERE account_key = $1 FOR UPDATE")

	mock.ExpectBegin()
	mock.ExpectQuery(lock).WithArgs("a/ata").
		WillReturnRows(sqlmock.NewRows([]string{"owner", "amount"}).AddRow("alice", 100))
	mock.ExpectQuery(lock).WithArgs("b/ata").
		WillReturnRows(sqlmock.NewRows([]string{"owner", "amount"}).AddRow("bob", 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE token_accounts SET amount = amount - $1")).
		WithArgs(int64(30), "a/ata").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE token_accounts SET amount = amount + $1")).
		WithArgs(int64(30), "b/ata").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, l.Transfer(context.Background(), "a/ata", "b/ata", "alice", 30))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerTransferLocksInKeyOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPostgresLedger(db)
	lock := regexp.QuoteMeta("SELECT owner, amount FROM token_accounts WHERE account_key = $1 FOR UPDATE")

	mock.ExpectBegin()
	mock.ExpectQuery(lock).WithArgs("a/ata").
		WillReturnRows(sqlmock.NewRows([]string{"owner", "amount"}).AddRow("alice", 0))
	mock.ExpectQuery(lock).WithArgs("b/ata").
		WillReturnRows(sqlmock.NewRows([]string{"owner", "amount"}).AddRow("bob", 5))
	mock.ExpectRollback()

	err = l.Transfer(context.Background(), "b/ata", "a/ata", "bob", 10)
	assert.ErrorIs(t, err, custody.ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerTransferWrongAuthority(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPostgresLedger(db)
	lock := regexp.QuoteMeta("SELECT owner, amount FROM token_accounts WHERE account_key = $1 FOR UPDATE")

	mock.ExpectBegin()
	mock.ExpectQuery(lock).WithArgs("a/ata").
		WillReturnRows(sqlmock.NewRows([]string{"owner", "amount"}).AddRow("alice", 100))
	mock.ExpectQuery(lock).WithArgs("b/ata").
		WillReturnRows(sqlmock.NewRows([]string{"owner", "amount"}).AddRow("bob", 0))
	mock.ExpectRollback()

	err = l.Transfer(context.Background(), "a/ata", "b/ata", "mallory", 1)
	assert.ErrorIs(t, err, custody.ErrNotAuthorized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerCloseIfEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPostgresLedger(db)
	lock := regexp.QuoteMeta("SELECT owner, amount FROM token_accounts WHERE account_key = $1 FOR UPDATE")

	mock.ExpectBegin()
	mock.ExpectQuery(lock).WithArgs("v/ata").
		WillReturnRows(sqlmock.NewRows([]string{"owner", "amount"}).AddRow("v", 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM token_accounts WHERE account_key = $1")).
		WithArgs("v/ata").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, l.CloseIfEmpty(context.Background(), "v/ata", "dest", "v"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedgerMintMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPostgresLedger(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE token_accounts SET amount = amount + $1 WHERE account_key = $2")).
		WithArgs(int64(5), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, l.Mint(context.Background(), "missing", 5), ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
