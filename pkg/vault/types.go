// Package vault implements sub-custody records and their withdrawal policy:
// immediate execution for open vaults, two-party approval for two-signature
// vaults, and delegation (unimplemented) for external multisig vaults.
package vault

import (
	"fmt"
	"time"

	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/index"
	"github.com/kaizencorps/stache/pkg/payload"
)

const (
	// MaxActions bounds the number of pending actions per vault.
	MaxActions = 5
	// ApprovalThreshold is the exact number of approvals that executes a
	// two-signature action.
	ApprovalThreshold = 2
)

// TypeKind tags a vault's withdrawal policy.
type TypeKind string

const (
	TypeOpen              TypeKind = "OPEN"
	TypeTwoSignature      TypeKind = "TWO_SIGNATURE"
	TypeDelegatedMultisig TypeKind = "DELEGATED_MULTISIG"
)

// Type is the vault policy. Multisig and Threshold are only meaningful for
// TypeDelegatedMultisig.
type Type struct {
	Kind      TypeKind    `json:"kind"`
	Multisig  custody.Key `json:"multisig,omitempty"`
	Threshold uint8       `json:"threshold,omitempty"`
}

// Open returns a policy that executes withdrawals immediately.
func Open() Type { return Type{Kind: TypeOpen} }

// TwoSignature returns a policy that requires two distinct approvers.
func TwoSignature() Type { return Type{Kind: TypeTwoSignature} }

// DelegatedMultisig returns a policy delegating to an external multisig.
func DelegatedMultisig(multisig custody.Key, threshold uint8) Type {
	return Type{Kind: TypeDelegatedMultisig, Multisig: multisig, Threshold: threshold}
}

// Validate checks that the policy is well formed.
func (t Type) Validate() error {
	switch t.Kind {
	case TypeOpen, TypeTwoSignature:
		return nil
	case TypeDelegatedMultisig:
		if t.Multisig == "" || t.Threshold == 0 {
			return fmt.Errorf("delegated multisig needs a multisig and a threshold: %w", custody.ErrInvalidVault)
		}
		return nil
	default:
		return fmt.Errorf("unknown vault type %q: %w", t.Kind, custody.ErrInvalidVault)
	}
}

// Action is a pending withdrawal awaiting approval.
type Action struct {
	Index     index.Index    `json:"index"`
	Payload   payload.Action `json:"payload"`
	Approvers []custody.Key  `json:"approvers"`
	CreatedAt time.Time      `json:"created_at"`
}

// HasApproved reports whether key already approved the action.
func (a Action) HasApproved(key custody.Key) bool {
	for _, k := range a.Approvers {
		if k == key {
			return true
		}
	}
	return false
}

func (a Action) clone() Action {
	approvers := make([]custody.Key, len(a.Approvers))
	copy(approvers, a.Approvers)
	a.Approvers = approvers
	a.Payload = a.Payload.Clone()
	return a
}

// Mode is what the caller must do after a withdrawal request.
type Mode string

const (
	// ExecuteNow means the caller proceeds to the transfer primitive.
	ExecuteNow Mode = "EXECUTE_NOW"
	// Deferred means no funds move on this call.
	Deferred Mode = "DEFERRED"
)

// Decision is the result of a withdrawal request.
type Decision struct {
	Mode Mode
	// ActionIndex is set when a pending action was created.
	ActionIndex index.Index
	// Delegated is set for multisig vaults, where nothing was recorded.
	Delegated bool
}

// Outcome is the result of an approval.
type Outcome struct {
	ActionIndex index.Index
	Approvals   int
	Executed    bool
	Transfer    payload.TransferAction
	Approvers   []custody.Key
}
