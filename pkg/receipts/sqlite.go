package receipts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/index"
)

// SQLiteStore keeps receipts in a SQLite table created on construction.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS transfer_receipts (
		receipt_id     TEXT PRIMARY KEY,
		treasury_key   TEXT NOT NULL,
		source         TEXT NOT NULL,
		record_key     TEXT NOT NULL DEFAULT '',
		action_index   INTEGER NOT NULL DEFAULT 0,
		from_account   TEXT NOT NULL,
		to_account     TEXT NOT NULL,
		authority      TEXT NOT NULL,
		amount         INTEGER NOT NULL,
		approvers      JSON,
		executed_at    TEXT NOT NULL,
		content_hash   TEXT NOT NULL,
		archive_digest TEXT NOT NULL DEFAULT ''
	)`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("migrate receipts: %w", err)
	}
	_, err := s.db.ExecContext(context.Background(),
		`CREATE INDEX IF NOT EXISTS transfer_receipts_treasury ON transfer_receipts (treasury_key, executed_at)`)
	if err != nil {
		return fmt.Errorf("migrate receipts index: %w", err)
	}
	return nil
}

// timeLayout is fixed-width so executed_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const receiptColumns = `receipt_id, treasury_key, source, record_key, action_index, from_account, to_account, authority, amount, approvers, executed_at, content_hash, archive_digest`

func (s *SQLiteStore) Append(ctx context.Context, r *Receipt) error {
	approvers, err := json.Marshal(r.Approvers)
	if err != nil {
		return fmt.Errorf("receipt %s: %w", r.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transfer_receipts (`+receiptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Treasury), string(r.Source), string(r.Record), int(r.ActionIndex),
		string(r.From), string(r.To), string(r.Authority), int64(r.Amount), string(approvers),
		r.ExecutedAt.UTC().Format(timeLayout), r.ContentHash, r.ArchiveDigest,
	)
	if err != nil {
		return fmt.Errorf("insert receipt %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Receipt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM transfer_receipts WHERE receipt_id = ?`, id)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt %s: %w", id, ErrNotFound)
	}
	return r, err
}

func (s *SQLiteStore) List(ctx context.Context, treasury custody.Key, limit int) ([]*Receipt, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM transfer_receipts WHERE treasury_key = ? ORDER BY executed_at DESC, rowid DESC LIMIT ?`,
		string(treasury), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row scanner) (*Receipt, error) {
	var (
		r                                        Receipt
		treasury, source, record, from, to, auth string
		actionIndex                              int
		amount                                   int64
		approvers, executedAt                    string
	)
	err := row.Scan(&r.ID, &treasury, &source, &record, &actionIndex, &from, &to, &auth,
		&amount, &approvers, &executedAt, &r.ContentHash, &r.ArchiveDigest)
	if err != nil {
		return nil, err
	}
	r.Treasury = custody.Key(treasury)
	r.Source = Source(source)
	r.Record = custody.Key(record)
	r.ActionIndex = index.Index(actionIndex)
	r.From = custody.Key(from)
	r.To = custody.Key(to)
	r.Authority = custody.Key(auth)
	r.Amount = uint64(amount)
	if approvers != "" && approvers != "null" {
		if err := json.Unmarshal([]byte(approvers), &r.Approvers); err != nil {
			return nil, fmt.Errorf("receipt %s approvers: %w", r.ID, err)
		}
	}
	ts, err := time.Parse(timeLayout, executedAt)
	if err != nil {
		return nil, fmt.Errorf("receipt %s timestamp: %w", r.ID, err)
	}
	r.ExecutedAt = ts
	return &r, nil
}
