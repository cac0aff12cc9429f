package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/index"
	"github.com/kaizencorps/stache/pkg/payload"
)

// Vault is a sub-custody record owned by a treasury.
type Vault struct {
	Treasury custody.Key     `json:"treasury"`
	Index    index.Index     `json:"index"`
	Name     string          `json:"name"`
	Type     Type            `json:"type"`
	Locked   bool            `json:"locked"`
	Actions  index.Allocator `json:"action_indices"`
	Pending  []Action        `json:"pending"`
	Revision uint64          `json:"revision"`
}

// New returns an unlocked vault with no pending actions.
func New(treasury custody.Key, idx index.Index, name string, typ Type) (*Vault, error) {
	if err := typ.Validate(); err != nil {
		return nil, err
	}
	return &Vault{
		Treasury: treasury,
		Index:    idx,
		Name:     name,
		Type:     typ,
		Actions:  index.New(MaxActions),
		Pending:  make([]Action, 0, MaxActions),
	}, nil
}

// Lock blocks every further withdrawal request.
func (v *Vault) Lock() {
	v.Locked = true
}

// Withdraw decides what a withdrawal request does. A two-signature vault
// records a pending action approved by the initiator; no funds move until a
// second approver signs.
func (v *Vault) Withdraw(initiator, from, to custody.Key, amount uint64, now time.Time) (Decision, error) {
	if v.Locked {
		return Decision{}, fmt.Errorf("vault %d: %w", v.Index, custody.ErrVaultLocked)
	}

	switch v.Type.Kind {
	case TypeOpen:
		return Decision{Mode: ExecuteNow}, nil

	case TypeTwoSignature:
		idx, err := v.Actions.Allocate()
		if err != nil {
			if errors.Is(err, index.ErrLimitReached) {
				return Decision{}, fmt.Errorf("vault %d pending actions: %w", v.Index, custody.ErrHitLimit)
			}
			return Decision{}, err
		}
		v.Pending = append(v.Pending, Action{
			Index:     idx,
			Payload:   payload.NewTransfer(from, to, amount),
			Approvers: []custody.Key{initiator},
			CreatedAt: now.UTC(),
		})
		return Decision{Mode: Deferred, ActionIndex: idx}, nil

	case TypeDelegatedMultisig:
		return Decision{Mode: Deferred, Delegated: true}, nil

	default:
		return Decision{}, fmt.Errorf("vault %d type %q: %w", v.Index, v.Type.Kind, custody.ErrInvalidVault)
	}
}

// Approve records approver on the pending action. When a two-signature action
// reaches the threshold, the supplied accounts are checked against the
// recorded transfer, exec performs it and the action is removed. The vault is
// left untouched when Approve returns an error.
func (v *Vault) Approve(ctx context.Context, actionIndex index.Index, approver custody.Key, from, to custody.Account, exec custody.ExecuteFunc) (Outcome, error) {
	pos := v.actionPosition(actionIndex)
	if pos < 0 {
		return Outcome{}, fmt.Errorf("vault %d action %d: %w", v.Index, actionIndex, custody.ErrInvalidAction)
	}
	action := v.Pending[pos]
	if action.HasApproved(approver) {
		return Outcome{}, fmt.Errorf("vault %d action %d: %w", v.Index, actionIndex, custody.ErrAlreadyApproved)
	}

	approvers := make([]custody.Key, 0, len(action.Approvers)+1)
	approvers = append(approvers, action.Approvers...)
	approvers = append(approvers, approver)

	outcome := Outcome{
		ActionIndex: actionIndex,
		Approvals:   len(approvers),
		Approvers:   approvers,
	}

	if v.Type.Kind != TypeTwoSignature || len(approvers) != ApprovalThreshold {
		v.Pending[pos].Approvers = approvers
		return outcome, nil
	}

	transfer, err := action.Payload.AsTransfer()
	if err != nil {
		return Outcome{}, err
	}
	if from.Key != transfer.From || to.Key != transfer.To {
		return Outcome{}, fmt.Errorf("vault %d action %d accounts do not match recorded transfer: %w", v.Index, actionIndex, custody.ErrInvalidAction)
	}
	if from.Amount < transfer.Amount {
		return Outcome{}, fmt.Errorf("vault %d action %d: balance %d < %d: %w", v.Index, actionIndex, from.Amount, transfer.Amount, custody.ErrInsufficientFunds)
	}
	if exec == nil {
		return Outcome{}, fmt.Errorf("vault %d action %d: no executor configured", v.Index, actionIndex)
	}
	if err := exec(ctx, custody.TransferIntent{From: from, To: to, Amount: transfer.Amount}); err != nil {
		return Outcome{}, fmt.Errorf("vault %d action %d execute: %w", v.Index, actionIndex, err)
	}

	v.removeAction(actionIndex)
	outcome.Executed = true
	outcome.Transfer = transfer
	return outcome, nil
}

// Deny drops the pending action. It reports whether anything was removed.
func (v *Vault) Deny(actionIndex index.Index) bool {
	return v.removeAction(actionIndex)
}

// ExpireActions drops pending actions created at or before now-ttl and
// returns them. A non-positive ttl disables expiry.
func (v *Vault) ExpireActions(now time.Time, ttl time.Duration) []Action {
	if ttl <= 0 {
		return nil
	}
	cutoff := now.Add(-ttl)
	var expired []Action
	for _, a := range v.PendingActions() {
		if !a.CreatedAt.After(cutoff) {
			expired = append(expired, a)
			v.removeAction(a.Index)
		}
	}
	return expired
}

// Action returns a copy of the pending action with the given index.
func (v *Vault) Action(actionIndex index.Index) (Action, bool) {
	pos := v.actionPosition(actionIndex)
	if pos < 0 {
		return Action{}, false
	}
	return v.Pending[pos].clone(), true
}

// PendingActions returns copies of all pending actions.
func (v *Vault) PendingActions() []Action {
	out := make([]Action, len(v.Pending))
	for i, a := range v.Pending {
		out[i] = a.clone()
	}
	return out
}

// Clone returns a deep copy.
func (v *Vault) Clone() *Vault {
	c := *v
	c.Actions = v.Actions.Clone()
	c.Pending = v.PendingActions()
	return &c
}

func (v *Vault) actionPosition(actionIndex index.Index) int {
	for i, a := range v.Pending {
		if a.Index == actionIndex {
			return i
		}
	}
	return -1
}

// removeAction swap-removes the action. The allocator release is best effort:
// the pending list is authoritative.
func (v *Vault) removeAction(actionIndex index.Index) bool {
	pos := v.actionPosition(actionIndex)
	if pos < 0 {
		return false
	}
	last := len(v.Pending) - 1
	v.Pending[pos] = v.Pending[last]
	v.Pending = v.Pending[:last]
	_ = v.Actions.Release(actionIndex)
	return true
}
