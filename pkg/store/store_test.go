package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/kaizencorps/stache/pkg/automation"
	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/payload"
	"github.com/kaizencorps/stache/pkg/treasury"
	"github.com/kaizencorps/stache/pkg/vault"
)

var errBoom = errors.New("boom")

func newTreasury(t *testing.T) *treasury.Treasury {
	t.Helper()
	tr, err := treasury.New("kc", "beards", "acme", time.Unix(0, 0))
	require.NoError(t, err)
	return tr
}

func openSQLite(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewSQLStore(db, DialectSQLite)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

// exerciseStore runs the shared behaviour against any backend.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()
	tr := newTreasury(t)

	t.Run("create and read back", func(t *testing.T) {
		err := s.Update(ctx, func(tx Tx) error {
			idx, err := tr.AddVault()
			if err != nil {
				return err
			}
			if err := tx.PutTreasury(ctx, tr); err != nil {
				return err
			}
			v, err := vault.New(tr.Key, idx, "ops", vault.TwoSignature())
			if err != nil {
				return err
			}
			if _, err := v.Withdraw("alice", "a", "b", 5, time.Unix(0, 0)); err != nil {
				return err
			}
			return tx.PutVault(ctx, v)
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), tr.Revision)

		err = s.View(ctx, func(tx Tx) error {
			got, err := tx.Treasury(ctx, tr.Key)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), got.Revision)
			assert.True(t, got.HasVault(1))

			v, err := tx.Vault(ctx, tr.Key, 1)
			require.NoError(t, err)
			assert.Len(t, v.Pending, 1)
			assert.Equal(t, []custody.Key{"alice"}, v.Pending[0].Approvers)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("create twice conflicts", func(t *testing.T) {
		dup := newTreasury(t)
		err := s.Update(ctx, func(tx Tx) error { return tx.PutTreasury(ctx, dup) })
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("stale revision conflicts", func(t *testing.T) {
		var stale *treasury.Treasury
		require.NoError(t, s.View(ctx, func(tx Tx) error {
			var err error
			stale, err = tx.Treasury(ctx, tr.Key)
			return err
		}))

		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			fresh, err := tx.Treasury(ctx, tr.Key)
			if err != nil {
				return err
			}
			if _, err := fresh.AddAutomation(); err != nil {
				return err
			}
			return tx.PutTreasury(ctx, fresh)
		}))

		err := s.Update(ctx, func(tx Tx) error { return tx.PutTreasury(ctx, stale) })
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("failed unit of work commits nothing", func(t *testing.T) {
		err := s.Update(ctx, func(tx Tx) error {
			a := automation.New(tr.Key, 1, "sweep")
			if err := a.SetAction(payload.NewTransfer("a", "b", 1)); err != nil {
				return err
			}
			if err := tx.PutAutomation(ctx, a); err != nil {
				return err
			}
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)

		err = s.View(ctx, func(tx Tx) error {
			_, err := tx.Automation(ctx, tr.Key, 1)
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list and delete", func(t *testing.T) {
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			return tx.PutAutomation(ctx, automation.New(tr.Key, 1, "sweep"))
		}))

		require.NoError(t, s.View(ctx, func(tx Tx) error {
			all, err := tx.Automations(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 1)
			none, err := tx.Automations(ctx, "other/treasury")
			require.NoError(t, err)
			assert.Empty(t, none)
			vaults, err := tx.Vaults(ctx, tr.Key)
			require.NoError(t, err)
			assert.Len(t, vaults, 1)
			return nil
		}))

		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			return tx.DeleteAutomation(ctx, tr.Key, 1)
		}))
		err := s.Update(ctx, func(tx Tx) error { return tx.DeleteAutomation(ctx, tr.Key, 1) })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("view is read-only", func(t *testing.T) {
		err := s.View(ctx, func(tx Tx) error {
			return tx.PutAutomation(ctx, automation.New(tr.Key, 2, "other"))
		})
		assert.Error(t, err)
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	exerciseStore(t, openSQLite(t))
}

func TestMemoryStoreReadsOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tr := newTreasury(t)

	err := s.Update(ctx, func(tx Tx) error {
		require.NoError(t, tx.PutTreasury(ctx, tr))
		got, err := tx.Treasury(ctx, tr.Key)
		require.NoError(t, err)
		assert.Equal(t, tr.Key, got.Key)
		require.NoError(t, tx.DeleteTreasury(ctx, tr.Key))
		_, err = tx.Treasury(ctx, tr.Key)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestUnsupportedVersionRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.tables[tableTreasuries]["beards/acme"] = document{
		Key: "beards/acme", Treasury: "beards/acme", Version: "2.0.0", Revision: 1, Body: []byte(`{}`),
	}

	err := s.View(ctx, func(tx Tx) error {
		_, err := tx.Treasury(ctx, "beards/acme")
		return err
	})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestCheckVersion(t *testing.T) {
	assert.NoError(t, checkVersion("k", "1.0.0"))
	assert.NoError(t, checkVersion("k", "1.4.2"))
	assert.ErrorIs(t, checkVersion("k", "0.9.0"), ErrUnsupportedVersion)
	assert.ErrorIs(t, checkVersion("k", "2.0.0"), ErrUnsupportedVersion)
	assert.ErrorIs(t, checkVersion("k", "garbage"), ErrUnsupportedVersion)
}

func TestNewSQLStoreRejectsUnknownDialect(t *testing.T) {
	_, err := NewSQLStore(nil, "mysql")
	assert.Error(t, err)
}

func TestPostgresDialectQueries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := NewSQLStore(db, DialectPostgres)
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT record_key, treasury_key, version, revision, body FROM treasuries WHERE record_key = $1 FOR UPDATE`)).
		WithArgs("beards/acme").
		WillReturnRows(sqlmock.NewRows([]string{"record_key", "treasury_key", "version", "revision", "body"}).
			AddRow("beards/acme", "beards/acme", "1.0.0", 3, `{"key":"beards/acme","keychain":"kc","version":"1.0.0","vault_indices":{"max":5,"next":1,"live":[]},"auto_indices":{"max":5,"next":1,"live":[]}}`))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE treasuries SET version = $1, revision = $2, body = $3 WHERE record_key = $4 AND revision = $5`)).
		WithArgs("1.0.0", int64(4), sqlmock.AnyArg(), "beards/acme", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = s.Update(ctx, func(tx Tx) error {
		tr, err := tx.Treasury(ctx, "beards/acme")
		if err != nil {
			return err
		}
		assert.Equal(t, uint64(3), tr.Revision)
		if _, err := tr.AddVault(); err != nil {
			return err
		}
		return tx.PutTreasury(ctx, tr)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateConflictRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := NewSQLStore(db, DialectPostgres)
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE vaults SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	v, err := vault.New("beards/acme", 1, "ops", vault.Open())
	require.NoError(t, err)
	v.Revision = 7

	err = s.Update(ctx, func(tx Tx) error { return tx.PutVault(ctx, v) })
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, uint64(7), v.Revision, "revision restored on failure")
	assert.NoError(t, mock.ExpectationsWereMet())
}
