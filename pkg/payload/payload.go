// Package payload defines the kind-tagged parameters carried by vault actions
// and automations. Each kind is a variant of a small sum type; raw documents
// are decoded and validated once, at the boundary, by DecodeAction and
// DecodeTrigger.
package payload

import (
	"fmt"

	"github.com/kaizencorps/stache/pkg/custody"
)

// ActionKind tags the variant held by an Action.
type ActionKind string

const (
	ActionTransfer ActionKind = "TRANSFER"
)

// TransferAction moves Amount from From to To.
type TransferAction struct {
	From   custody.Key `json:"from"`
	To     custody.Key `json:"to"`
	Amount uint64      `json:"amount"`
}

// Action is a kind-tagged action. Exactly one variant field is set, matching Kind.
type Action struct {
	Kind     ActionKind      `json:"kind"`
	Transfer *TransferAction `json:"transfer,omitempty"`
}

// NewTransfer builds a Transfer action.
func NewTransfer(from, to custody.Key, amount uint64) Action {
	return Action{
		Kind:     ActionTransfer,
		Transfer: &TransferAction{From: from, To: to, Amount: amount},
	}
}

// IsZero reports whether no action has been configured.
func (a Action) IsZero() bool {
	return a.Kind == ""
}

// AsTransfer returns the Transfer variant.
func (a Action) AsTransfer() (TransferAction, error) {
	if a.Kind != ActionTransfer || a.Transfer == nil {
		return TransferAction{}, fmt.Errorf("action kind %q is not a transfer: %w", a.Kind, custody.ErrInvalidAction)
	}
	return *a.Transfer, nil
}

// Clone returns a deep copy.
func (a Action) Clone() Action {
	if a.Transfer != nil {
		t := *a.Transfer
		a.Transfer = &t
	}
	return a
}

// TriggerKind tags the variant held by a Trigger.
type TriggerKind string

const (
	TriggerBalance TriggerKind = "BALANCE"
)

// BalanceTrigger fires when Account's balance is at or above Threshold
// (Above) or strictly below it (!Above).
type BalanceTrigger struct {
	Account   custody.Key `json:"account"`
	Threshold uint64      `json:"threshold"`
	Above     bool        `json:"above"`
}

// Met evaluates the condition against a balance.
func (b BalanceTrigger) Met(balance uint64) bool {
	return (balance >= b.Threshold && b.Above) || (balance < b.Threshold && !b.Above)
}

// Trigger is a kind-tagged trigger condition.
type Trigger struct {
	Kind    TriggerKind     `json:"kind"`
	Balance *BalanceTrigger `json:"balance,omitempty"`
}

// NewBalanceTrigger builds a Balance trigger.
func NewBalanceTrigger(account custody.Key, threshold uint64, above bool) Trigger {
	return Trigger{
		Kind:    TriggerBalance,
		Balance: &BalanceTrigger{Account: account, Threshold: threshold, Above: above},
	}
}

// IsZero reports whether no trigger has been configured.
func (t Trigger) IsZero() bool {
	return t.Kind == ""
}

// AsBalance returns the Balance variant.
func (t Trigger) AsBalance() (BalanceTrigger, error) {
	if t.Kind != TriggerBalance || t.Balance == nil {
		return BalanceTrigger{}, fmt.Errorf("trigger kind %q is not a balance trigger: %w", t.Kind, custody.ErrInvalidTrigger)
	}
	return *t.Balance, nil
}

// Clone returns a deep copy.
func (t Trigger) Clone() Trigger {
	if t.Balance != nil {
		b := *t.Balance
		t.Balance = &b
	}
	return t
}
