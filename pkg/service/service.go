// Package service exposes one method per treasury operation. Each method
// checks authorization against the treasury's keychain, runs inside a single
// store unit of work, and performs ledger transfers last so that a failed
// transfer discards every record change. Executed transfers are written as
// receipts after the unit of work commits.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/observability"
	"github.com/kaizencorps/stache/pkg/receipts"
	"github.com/kaizencorps/stache/pkg/store"
	"github.com/kaizencorps/stache/pkg/token"
	"github.com/kaizencorps/stache/pkg/treasury"
)

// Options wires the service to its collaborators. Store, Directory and Ledger
// are required.
type Options struct {
	Store     store.Store
	Directory custody.Directory
	Ledger    custody.Ledger
	// Scheduler receives activated automations. Nil disables registration.
	Scheduler custody.Scheduler
	// Receipts records executed transfers. Nil disables receipts.
	Receipts      receipts.Store
	Observability *observability.Provider
	// ActionTTL expires pending vault actions; zero disables expiry.
	ActionTTL time.Duration
	Logger    *slog.Logger
}

type Service struct {
	store     store.Store
	directory custody.Directory
	ledger    custody.Ledger
	scheduler custody.Scheduler
	receipts  receipts.Store
	obs       *observability.Provider
	actionTTL time.Duration
	logger    *slog.Logger
	clock     func() time.Time
}

func New(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Directory == nil || opts.Ledger == nil {
		return nil, errors.New("service: store, directory and ledger are required")
	}
	obs := opts.Observability
	if obs == nil {
		var err error
		obs, err = observability.NewWithMeterProvider(noop.NewMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("service: %w", err)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     opts.Store,
		directory: opts.Directory,
		ledger:    opts.Ledger,
		scheduler: opts.Scheduler,
		receipts:  opts.Receipts,
		obs:       obs,
		actionTTL: opts.ActionTTL,
		logger:    logger.With("component", "treasury-service"),
		clock:     time.Now,
	}, nil
}

// WithClock overrides the clock for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// update runs fn as one tracked unit of work.
func (s *Service) update(ctx context.Context, op string, tk custody.Key, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	ctx, done := s.obs.Track(ctx, op, attribute.String("stache.treasury", string(tk)))
	defer func() { done(err) }()
	return s.store.Update(ctx, func(tx store.Tx) error {
		return fn(ctx, tx)
	})
}

func (s *Service) authorize(ctx context.Context, t *treasury.Treasury, authority custody.Key) error {
	ok, err := s.directory.HasKey(ctx, t.Keychain, authority)
	if err != nil {
		return fmt.Errorf("keychain lookup: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s is not on keychain %s: %w", authority, t.Keychain, custody.ErrNotAuthorized)
	}
	return nil
}

func (s *Service) authorizeVerified(ctx context.Context, keychain, authority custody.Key) error {
	ok, err := s.directory.HasVerifiedKey(ctx, keychain, authority)
	if err != nil {
		return fmt.Errorf("keychain lookup: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s is not a verified key on %s: %w", authority, keychain, custody.ErrNotAuthorized)
	}
	return nil
}

// account returns the ledger state of key. Closed or never-opened accounts
// read as empty.
func (s *Service) account(ctx context.Context, key custody.Key) (custody.Account, error) {
	acc, err := s.ledger.Account(ctx, key)
	if errors.Is(err, token.ErrAccountNotFound) {
		return custody.Account{Key: key}, nil
	}
	if err != nil {
		return custody.Account{}, fmt.Errorf("ledger account %s: %w", key, err)
	}
	return acc, nil
}

// ignoreClosed drops errors for accounts that are already gone.
func ignoreClosed(err error) error {
	if errors.Is(err, token.ErrAccountNotFound) {
		return nil
	}
	return err
}

// transferOut moves amount out of a record's account. When the transfer
// empties the account it is closed, with any remainder going to closeTo.
// Once the transfer has moved value the record change must commit, so a
// failed close is logged and the account is left open.
func (s *Service) transferOut(ctx context.Context, from custody.Account, to, authority, closeTo custody.Key, amount uint64) error {
	if err := s.ledger.Transfer(ctx, from.Key, to, authority, amount); err != nil {
		return fmt.Errorf("transfer %s -> %s: %w", from.Key, to, err)
	}
	if from.Amount != amount {
		return nil
	}
	if err := ignoreClosed(s.ledger.CloseIfEmpty(ctx, from.Key, closeTo, authority)); err != nil {
		s.logger.ErrorContext(ctx, "close drained account", "account", from.Key, "close_to", closeTo, "error", err)
	}
	return nil
}

// record seals and appends receipts. The transfers they describe have
// already committed, so failures are logged rather than returned.
func (s *Service) record(ctx context.Context, rs ...*receipts.Receipt) {
	if s.receipts == nil {
		return
	}
	for _, r := range rs {
		if r == nil {
			continue
		}
		if r.ExecutedAt.IsZero() {
			r.ExecutedAt = s.now()
		}
		if err := r.Seal(); err != nil {
			s.logger.ErrorContext(ctx, "seal receipt", "treasury", r.Treasury, "source", r.Source, "error", err)
			continue
		}
		if err := s.receipts.Append(ctx, r); err != nil {
			s.logger.ErrorContext(ctx, "append receipt", "receipt_id", r.ID, "treasury", r.Treasury, "error", err)
		}
	}
}

func loadTreasury(ctx context.Context, tx store.Tx, tk custody.Key) (*treasury.Treasury, error) {
	t, err := tx.Treasury(ctx, tk)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("treasury %s: %w", tk, custody.ErrInvalidTreasury)
	}
	return t, err
}

func notFound(err error, kind error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, kind)
	}
	return err
}

// CreateTreasury creates a treasury governed by keychain and opens its token
// account. The authority must hold a verified key on the keychain.
func (s *Service) CreateTreasury(ctx context.Context, authority, keychain custody.Key, domain, stacheID string) (*treasury.Treasury, error) {
	var created *treasury.Treasury
	tk := treasury.Key(domain, stacheID)
	err := s.update(ctx, "create_treasury", tk, func(ctx context.Context, tx store.Tx) error {
		if err := s.authorizeVerified(ctx, keychain, authority); err != nil {
			return err
		}
		t, err := treasury.New(keychain, domain, stacheID, s.now())
		if err != nil {
			return err
		}
		if err := tx.PutTreasury(ctx, t); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("treasury %s already exists: %w", t.Key, custody.ErrInvalidTreasury)
			}
			return err
		}
		if err := s.ledger.Open(ctx, treasury.AccountKey(t.Key), t.Key); err != nil {
			return fmt.Errorf("open treasury account: %w", err)
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "treasury created", "treasury", created.Key, "keychain", keychain)
	return created, nil
}

// DestroyTreasury removes an empty treasury and closes its token account.
func (s *Service) DestroyTreasury(ctx context.Context, authority, tk custody.Key) error {
	err := s.update(ctx, "destroy_treasury", tk, func(ctx context.Context, tx store.Tx) error {
		t, err := loadTreasury(ctx, tx, tk)
		if err != nil {
			return err
		}
		if err := s.authorizeVerified(ctx, t.Keychain, authority); err != nil {
			return err
		}
		if !t.Empty() {
			return fmt.Errorf("treasury %s has %d vaults and %d automations: %w",
				tk, t.Vaults.Len(), t.Automations.Len(), custody.ErrTreasuryNotEmpty)
		}
		acc, err := s.account(ctx, treasury.AccountKey(tk))
		if err != nil {
			return err
		}
		if acc.Amount > 0 {
			return fmt.Errorf("treasury %s still holds %d: %w", tk, acc.Amount, custody.ErrTreasuryNotEmpty)
		}
		if err := tx.DeleteTreasury(ctx, tk); err != nil {
			return err
		}
		if err := s.ledger.CloseIfEmpty(ctx, acc.Key, authority, tk); err != nil {
			return ignoreClosed(fmt.Errorf("close treasury account: %w", err))
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "treasury destroyed", "treasury", tk)
	return nil
}

// Stash deposits amount from an account owned by owner into the treasury.
func (s *Service) Stash(ctx context.Context, owner, tk, from custody.Key, amount uint64) error {
	var receipt *receipts.Receipt
	err := s.update(ctx, "stash", tk, func(ctx context.Context, tx store.Tx) error {
		t, err := loadTreasury(ctx, tx, tk)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, t, owner); err != nil {
			return err
		}
		to := treasury.AccountKey(tk)
		if err := s.ledger.Transfer(ctx, from, to, owner, amount); err != nil {
			return fmt.Errorf("stash into %s: %w", tk, err)
		}
		receipt = &receipts.Receipt{Treasury: tk, Source: receipts.SourceStash, Record: tk, From: from, To: to, Authority: owner, Amount: amount}
		return nil
	})
	if err != nil {
		return err
	}
	s.record(ctx, receipt)
	return nil
}

// Unstash withdraws amount from the treasury account to an external account.
func (s *Service) Unstash(ctx context.Context, owner, tk, to custody.Key, amount uint64) error {
	var receipt *receipts.Receipt
	err := s.update(ctx, "unstash", tk, func(ctx context.Context, tx store.Tx) error {
		t, err := loadTreasury(ctx, tx, tk)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, t, owner); err != nil {
			return err
		}
		from, err := s.account(ctx, treasury.AccountKey(tk))
		if err != nil {
			return err
		}
		if from.Amount < amount {
			return fmt.Errorf("treasury %s holds %d, need %d: %w", tk, from.Amount, amount, custody.ErrInsufficientFunds)
		}
		if err := s.ledger.Transfer(ctx, from.Key, to, tk, amount); err != nil {
			return fmt.Errorf("unstash from %s: %w", tk, err)
		}
		receipt = &receipts.Receipt{Treasury: tk, Source: receipts.SourceUnstash, Record: tk, From: from.Key, To: to, Authority: owner, Amount: amount}
		return nil
	})
	if err != nil {
		return err
	}
	s.record(ctx, receipt)
	return nil
}

// Treasury returns the current treasury record.
func (s *Service) Treasury(ctx context.Context, tk custody.Key) (*treasury.Treasury, error) {
	var out *treasury.Treasury
	err := s.store.View(ctx, func(tx store.Tx) error {
		t, err := loadTreasury(ctx, tx, tk)
		out = t
		return err
	})
	return out, err
}

// Receipts lists the newest receipts for a treasury.
func (s *Service) Receipts(ctx context.Context, tk custody.Key, limit int) ([]*receipts.Receipt, error) {
	if s.receipts == nil {
		return nil, nil
	}
	return s.receipts.List(ctx, tk, limit)
}
