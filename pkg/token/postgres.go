package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kaizencorps/stache/pkg/custody"
)

// PostgresLedger implements custody.Ledger backed by PostgreSQL.
// Balance changes lock the affected rows with SELECT FOR UPDATE.
type PostgresLedger struct {
	db *sql.DB
}

var _ custody.Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger creates a ledger over db. Call Migrate once before use.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Migrate creates the token_accounts table.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS token_accounts (
	account_key TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	amount      BIGINT NOT NULL DEFAULT 0 CHECK (amount >= 0)
)`)
	if err != nil {
		return fmt.Errorf("token migrate: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Open(ctx context.Context, key, owner custody.Key) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO token_accounts (account_key, owner, amount) VALUES ($1, $2, 0) ON CONFLICT (account_key) DO NOTHING`,
		string(key), string(owner),
	)
	if err != nil {
		return fmt.Errorf("open %s: %w", key, err)
	}
	return nil
}

// Mint credits amount to an open account.
func (l *PostgresLedger) Mint(ctx context.Context, key custody.Key, amount uint64) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE token_accounts SET amount = amount + $1 WHERE account_key = $2`,
		int64(amount), string(key),
	)
	if err != nil {
		return fmt.Errorf("mint %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mint %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("mint %s: %w", key, ErrAccountNotFound)
	}
	return nil
}

func (l *PostgresLedger) Account(ctx context.Context, key custody.Key) (custody.Account, error) {
	var amount int64
	err := l.db.QueryRowContext(ctx,
		`SELECT amount FROM token_accounts WHERE account_key = $1`,
		string(key),
	).Scan(&amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return custody.Account{}, fmt.Errorf("account %s: %w", key, ErrAccountNotFound)
		}
		return custody.Account{}, fmt.Errorf("account %s: %w", key, err)
	}
	return custody.Account{Key: key, Amount: uint64(amount)}, nil
}

// Transfer moves amount inside one transaction. Rows are locked in key order
// so concurrent opposite transfers cannot deadlock.
func (l *PostgresLedger) Transfer(ctx context.Context, from, to, authority custody.Key, amount uint64) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	first, second := from, to
	if second < first {
		first, second = second, first
	}
	rows := make(map[custody.Key]lockedRow, 2)
	for _, key := range []custody.Key{first, second} {
		row, err := lockRow(ctx, tx, key)
		if err != nil {
			return fmt.Errorf("transfer %s -> %s: %w", from, to, err)
		}
		rows[key] = row
	}

	src := rows[from]
	if src.owner != authority {
		return fmt.Errorf("transfer from %s by %s: %w", from, authority, custody.ErrNotAuthorized)
	}
	if uint64(src.amount) < amount {
		return fmt.Errorf("transfer from %s: balance %d < %d: %w", from, src.amount, amount, custody.ErrInsufficientFunds)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE token_accounts SET amount = amount - $1 WHERE account_key = $2`,
		int64(amount), string(from),
	); err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE token_accounts SET amount = amount + $1 WHERE account_key = $2`,
		int64(amount), string(to),
	); err != nil {
		return fmt.Errorf("credit %s: %w", to, err)
	}
	return tx.Commit()
}

func (l *PostgresLedger) CloseIfEmpty(ctx context.Context, key, destination, authority custody.Key) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row, err := lockRow(ctx, tx, key)
	if err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if row.owner != authority {
		return fmt.Errorf("close %s by %s: %w", key, authority, custody.ErrNotAuthorized)
	}
	if row.amount > 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM token_accounts WHERE account_key = $1`, string(key)); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	return tx.Commit()
}

type lockedRow struct {
	owner  custody.Key
	amount int64
}

func lockRow(ctx context.Context, tx *sql.Tx, key custody.Key) (lockedRow, error) {
	var owner string
	var amount int64
	err := tx.QueryRowContext(ctx,
		`SELECT owner, amount FROM token_accounts WHERE account_key = $1 FOR UPDATE`,
		string(key),
	).Scan(&owner, &amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return lockedRow{}, fmt.Errorf("%s: %w", key, ErrAccountNotFound)
		}
		return lockedRow{}, fmt.Errorf("lock %s: %w", key, err)
	}
	return lockedRow{owner: custody.Key(owner), amount: amount}, nil
}
