// Package treasury holds the root custodial record and the directory of the
// vaults and automations it owns.
package treasury

import (
	"errors"
	"fmt"
	"time"

	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/index"
)

const (
	MaxVaults      = 5
	MaxAutomations = 5

	// Version is the record layout written by this package.
	Version = "1.0.0"
)

// Treasury is the root record. Vaults and automations are addressed by
// (treasury key, index); the treasury only tracks which indices are live.
type Treasury struct {
	Key         custody.Key     `json:"key"`
	Keychain    custody.Key     `json:"keychain"`
	Domain      string          `json:"domain"`
	StacheID    string          `json:"stache_id"`
	Version     string          `json:"version"`
	Revision    uint64          `json:"revision"`
	Vaults      index.Allocator `json:"vault_indices"`
	Automations index.Allocator `json:"auto_indices"`
	CreatedAt   time.Time       `json:"created_at"`
}

// New validates the human identifiers and returns an empty treasury.
func New(keychain custody.Key, domain, stacheID string, now time.Time) (*Treasury, error) {
	d, err := ValidName(domain)
	if err != nil {
		return nil, fmt.Errorf("domain: %w", err)
	}
	id, err := ValidName(stacheID)
	if err != nil {
		return nil, fmt.Errorf("stache id: %w", err)
	}
	if keychain == "" {
		return nil, fmt.Errorf("keychain is required: %w", custody.ErrInvalidTreasury)
	}
	return &Treasury{
		Key:         Key(d, id),
		Keychain:    keychain,
		Domain:      d,
		StacheID:    id,
		Version:     Version,
		Vaults:      index.New(MaxVaults),
		Automations: index.New(MaxAutomations),
		CreatedAt:   now.UTC(),
	}, nil
}

// AddVault reserves the next vault index.
func (t *Treasury) AddVault() (index.Index, error) {
	idx, err := t.Vaults.Allocate()
	if errors.Is(err, index.ErrLimitReached) {
		return 0, fmt.Errorf("treasury %s: %w", t.Key, custody.ErrMaxVaults)
	}
	return idx, err
}

// RemoveVault releases a vault index.
func (t *Treasury) RemoveVault(idx index.Index) error {
	if err := t.Vaults.Release(idx); err != nil {
		return fmt.Errorf("treasury %s vault %d: %w", t.Key, idx, custody.ErrInvalidVault)
	}
	return nil
}

// HasVault reports whether idx is a live vault index.
func (t *Treasury) HasVault(idx index.Index) bool {
	return t.Vaults.Contains(idx)
}

// AddAutomation reserves the next automation index.
func (t *Treasury) AddAutomation() (index.Index, error) {
	idx, err := t.Automations.Allocate()
	if errors.Is(err, index.ErrLimitReached) {
		return 0, fmt.Errorf("treasury %s: %w", t.Key, custody.ErrMaxAutos)
	}
	return idx, err
}

// RemoveAutomation releases an automation index.
func (t *Treasury) RemoveAutomation(idx index.Index) error {
	if err := t.Automations.Release(idx); err != nil {
		return fmt.Errorf("treasury %s automation %d: %w", t.Key, idx, custody.ErrInvalidAutomation)
	}
	return nil
}

// HasAutomation reports whether idx is a live automation index.
func (t *Treasury) HasAutomation(idx index.Index) bool {
	return t.Automations.Contains(idx)
}

// Empty reports whether the treasury owns no vaults and no automations.
func (t *Treasury) Empty() bool {
	return t.Vaults.Len() == 0 && t.Automations.Len() == 0
}

// Clone returns a deep copy.
func (t *Treasury) Clone() *Treasury {
	c := *t
	c.Vaults = t.Vaults.Clone()
	c.Automations = t.Automations.Clone()
	return &c
}
