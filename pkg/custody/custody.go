// Package custody holds the vocabulary shared by the treasury core: identity
// and account keys, the error taxonomy, and the collaborators the core calls
// out to (authority directory, transfer primitive, scheduler).
//
// The core never moves value itself. It computes transfer intents and hands
// them to a Transferer after every policy check has passed.
package custody

import "context"

// Key identifies an identity, an account or a record.
type Key string

// String implements fmt.Stringer.
func (k Key) String() string { return string(k) }

// Account is a snapshot of an asset-holding account as seen by the caller.
type Account struct {
	Key    Key    `json:"key"`
	Amount uint64 `json:"amount"`
}

// TransferIntent is a fully validated transfer the core wants performed.
type TransferIntent struct {
	From   Account `json:"from"`
	To     Account `json:"to"`
	Amount uint64  `json:"amount"`
}

// ExecuteFunc performs a transfer intent on behalf of the record that
// produced it. It is supplied by the caller so the core stays free of any
// particular ledger.
type ExecuteFunc func(ctx context.Context, intent TransferIntent) error

// Directory is the authority directory ("keychain") consulted before any
// treasury mutation.
type Directory interface {
	// HasKey reports whether identity is listed on the keychain.
	HasKey(ctx context.Context, keychain, identity Key) (bool, error)
	// HasVerifiedKey reports whether identity is listed and verified.
	HasVerifiedKey(ctx context.Context, keychain, identity Key) (bool, error)
}

// Transferer is the value-movement primitive.
type Transferer interface {
	// Transfer moves amount from one account to another, authorised by authority.
	Transfer(ctx context.Context, from, to, authority Key, amount uint64) error
	// CloseIfEmpty closes account when its balance is zero. Anything the
	// account holds besides its token balance goes to destination. A
	// non-empty account stays open.
	CloseIfEmpty(ctx context.Context, account, destination, authority Key) error
}

// Balances resolves the current state of an account.
type Balances interface {
	Account(ctx context.Context, key Key) (Account, error)
}

// Ledger is a Transferer that can also open accounts and report balances.
type Ledger interface {
	Transferer
	Balances
	// Open creates an empty account controlled by owner. Opening an existing
	// account is a no-op.
	Open(ctx context.Context, account, owner Key) error
}

// Scheduler periodically fires registered automations.
type Scheduler interface {
	Register(ctx context.Context, automation Key) (handle string, err error)
	Unregister(ctx context.Context, handle string) error
}
