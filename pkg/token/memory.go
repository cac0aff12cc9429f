// Package token implements the transfer primitive: token accounts with an
// owning authority and a balance. MemoryLedger backs tests and the demo;
// PostgresLedger is the durable implementation.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kaizencorps/stache/pkg/custody"
)

// ErrAccountNotFound is returned for accounts that were never opened or were
// closed.
var ErrAccountNotFound = errors.New("token: account not found")

type account struct {
	owner  custody.Key
	amount uint64
}

// MemoryLedger is an in-memory custody.Ledger. Safe for concurrent use.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[custody.Key]*account
}

var _ custody.Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{accounts: make(map[custody.Key]*account)}
}

func (l *MemoryLedger) Open(_ context.Context, key, owner custody.Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[key]; !ok {
		l.accounts[key] = &account{owner: owner}
	}
	return nil
}

// Mint credits amount to an open account.
func (l *MemoryLedger) Mint(_ context.Context, key custody.Key, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[key]
	if !ok {
		return fmt.Errorf("mint %s: %w", key, ErrAccountNotFound)
	}
	acc.amount += amount
	return nil
}

func (l *MemoryLedger) Account(_ context.Context, key custody.Key) (custody.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[key]
	if !ok {
		return custody.Account{}, fmt.Errorf("account %s: %w", key, ErrAccountNotFound)
	}
	return custody.Account{Key: key, Amount: acc.amount}, nil
}

func (l *MemoryLedger) Transfer(_ context.Context, from, to, authority custody.Key, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.accounts[from]
	if !ok {
		return fmt.Errorf("transfer from %s: %w", from, ErrAccountNotFound)
	}
	dst, ok := l.accounts[to]
	if !ok {
		return fmt.Errorf("transfer to %s: %w", to, ErrAccountNotFound)
	}
	if src.owner != authority {
		return fmt.Errorf("transfer from %s by %s: %w", from, authority, custody.ErrNotAuthorized)
	}
	if src.amount < amount {
		return fmt.Errorf("transfer from %s: balance %d < %d: %w", from, src.amount, amount, custody.ErrInsufficientFunds)
	}
	src.amount -= amount
	dst.amount += amount
	return nil
}

func (l *MemoryLedger) CloseIfEmpty(_ context.Context, key, destination, authority custody.Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[key]
	if !ok {
		return fmt.Errorf("close %s: %w", key, ErrAccountNotFound)
	}
	if acc.owner != authority {
		return fmt.Errorf("close %s by %s: %w", key, authority, custody.ErrNotAuthorized)
	}
	if acc.amount > 0 {
		return nil
	}
	delete(l.accounts, key)
	return nil
}
