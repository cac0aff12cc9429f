// Package store persists treasuries, vaults and automations as versioned JSON
// documents. Every public operation runs inside one unit of work: either all
// of its writes commit or none do. Each record carries a revision; writing a
// record whose revision is stale fails with ErrConflict.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/kaizencorps/stache/pkg/automation"
	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/index"
	"github.com/kaizencorps/stache/pkg/treasury"
	"github.com/kaizencorps/stache/pkg/vault"
)

// RecordVersion is the layout version written for every record.
const RecordVersion = "1.0.0"

// SupportedVersions is the range of record layouts this build can read.
const SupportedVersions = "^1.0.0"

var (
	ErrNotFound           = errors.New("store: record not found")
	ErrConflict           = errors.New("store: revision conflict")
	ErrUnsupportedVersion = errors.New("store: unsupported record version")
)

var supported = mustConstraint(SupportedVersions)

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

func checkVersion(key, v string) error {
	sv, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%s version %q: %w", key, v, ErrUnsupportedVersion)
	}
	if !supported.Check(sv) {
		return fmt.Errorf("%s version %s outside %s: %w", key, v, SupportedVersions, ErrUnsupportedVersion)
	}
	return nil
}

// Tx is the view of the store inside a unit of work. Records returned by Tx
// are private copies; changes are only persisted through Put.
//
// Put on a record with Revision 0 creates it and fails with ErrConflict if
// the key exists. Otherwise the stored revision must equal the record's. On
// success the record's Revision is advanced.
type Tx interface {
	Treasury(ctx context.Context, key custody.Key) (*treasury.Treasury, error)
	PutTreasury(ctx context.Context, t *treasury.Treasury) error
	DeleteTreasury(ctx context.Context, key custody.Key) error

	Vault(ctx context.Context, treasuryKey custody.Key, idx index.Index) (*vault.Vault, error)
	Vaults(ctx context.Context, treasuryKey custody.Key) ([]*vault.Vault, error)
	PutVault(ctx context.Context, v *vault.Vault) error
	DeleteVault(ctx context.Context, treasuryKey custody.Key, idx index.Index) error

	Automation(ctx context.Context, treasuryKey custody.Key, idx index.Index) (*automation.Automation, error)
	Automations(ctx context.Context, treasuryKey custody.Key) ([]*automation.Automation, error)
	PutAutomation(ctx context.Context, a *automation.Automation) error
	DeleteAutomation(ctx context.Context, treasuryKey custody.Key, idx index.Index) error
}

// Store runs units of work. An empty treasury key passed to Vaults or
// Automations lists records across all treasuries.
type Store interface {
	// Update runs fn in a read-write unit of work. If fn returns an error
	// nothing is committed.
	Update(ctx context.Context, fn func(Tx) error) error
	// View runs fn in a read-only unit of work.
	View(ctx context.Context, fn func(Tx) error) error
}

const (
	tableTreasuries  = "treasuries"
	tableVaults      = "vaults"
	tableAutomations = "automations"
)

func treasuryVersion(t *treasury.Treasury) string {
	if t.Version == "" {
		return RecordVersion
	}
	return t.Version
}
