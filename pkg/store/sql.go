package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects placeholder style and row locking for SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore keeps documents in SQL tables. It supports SQLite
// (modernc.org/sqlite) and PostgreSQL (lib/pq) through database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps db. Call Migrate before first use.
func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("store: unsupported dialect %q", dialect)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// Migrate creates the record tables.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, table := range []string{tableTreasuries, tableVaults, tableAutomations} {
		query := `CREATE TABLE IF NOT EXISTS ` + table + ` (
	record_key   TEXT PRIMARY KEY,
	treasury_key TEXT NOT NULL,
	version      TEXT NOT NULL,
	revision     BIGINT NOT NULL,
	body         TEXT NOT NULL
)`
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("migrate %s: %w", table, err)
		}
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *SQLStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *SQLStore) run(ctx context.Context, readOnly bool, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly && s.dialect == DialectPostgres})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(recordTx{docs: &sqlTx{tx: tx, dialect: s.dialect, readOnly: readOnly}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqlTx struct {
	tx       *sql.Tx
	dialect  Dialect
	readOnly bool
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func (t *sqlTx) rebind(query string) string {
	if t.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (t *sqlTx) lockClause() string {
	if t.dialect == DialectPostgres && !t.readOnly {
		return " FOR UPDATE"
	}
	return ""
}

func (t *sqlTx) get(ctx context.Context, table, key string) (document, error) {
	query := t.rebind(`SELECT record_key, treasury_key, version, revision, body FROM ` + table + ` WHERE record_key = ?` + t.lockClause())

	var doc document
	var revision int64
	var body string
	err := t.tx.QueryRowContext(ctx, query, key).Scan(&doc.Key, &doc.Treasury, &doc.Version, &revision, &body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return document{}, ErrNotFound
		}
		return document{}, fmt.Errorf("get %s: %w", key, err)
	}
	doc.Revision = uint64(revision)
	doc.Body = []byte(body)
	return doc, nil
}

func (t *sqlTx) list(ctx context.Context, table, treasuryKey string) ([]document, error) {
	query := `SELECT record_key, treasury_key, version, revision, body FROM ` + table
	var args []any
	if treasuryKey != "" {
		query += ` WHERE treasury_key = ?`
		args = append(args, treasuryKey)
	}
	query += ` ORDER BY record_key`

	rows, err := t.tx.QueryContext(ctx, t.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var out []document
	for rows.Next() {
		var doc document
		var revision int64
		var body string
		if err := rows.Scan(&doc.Key, &doc.Treasury, &doc.Version, &revision, &body); err != nil {
			return nil, fmt.Errorf("list %s: %w", table, err)
		}
		doc.Revision = uint64(revision)
		doc.Body = []byte(body)
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	return out, nil
}

func (t *sqlTx) put(ctx context.Context, table string, doc document, expected uint64) error {
	if t.readOnly {
		return fmt.Errorf("put %s: read-only unit of work", doc.Key)
	}

	if expected == 0 {
		var n int
		err := t.tx.QueryRowContext(ctx,
			t.rebind(`SELECT COUNT(*) FROM `+table+` WHERE record_key = ?`), doc.Key,
		).Scan(&n)
		if err != nil {
			return fmt.Errorf("create %s: %w", doc.Key, err)
		}
		if n > 0 {
			return fmt.Errorf("create %s: already exists: %w", doc.Key, ErrConflict)
		}
		_, err = t.tx.ExecContext(ctx,
			t.rebind(`INSERT INTO `+table+` (record_key, treasury_key, version, revision, body) VALUES (?, ?, ?, ?, ?)`),
			doc.Key, doc.Treasury, doc.Version, int64(doc.Revision), string(doc.Body),
		)
		if err != nil {
			return fmt.Errorf("create %s: %w", doc.Key, err)
		}
		return nil
	}

	res, err := t.tx.ExecContext(ctx,
		t.rebind(`UPDATE `+table+` SET version = ?, revision = ?, body = ? WHERE record_key = ? AND revision = ?`),
		doc.Version, int64(doc.Revision), string(doc.Body), doc.Key, int64(expected),
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", doc.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", doc.Key, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s at revision %d: %w", doc.Key, expected, ErrConflict)
	}
	return nil
}

func (t *sqlTx) del(ctx context.Context, table, key string) error {
	if t.readOnly {
		return fmt.Errorf("delete %s: read-only unit of work", key)
	}
	res, err := t.tx.ExecContext(ctx, t.rebind(`DELETE FROM `+table+` WHERE record_key = ?`), key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", key, ErrNotFound)
	}
	return nil
}
