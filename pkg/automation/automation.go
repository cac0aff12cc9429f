// Package automation stores a trigger and an action and evaluates them on
// demand. An automation is configured while inactive, activated once, and
// then fired repeatedly by an external scheduler. Firing never changes the
// automation itself.
package automation

import (
	"context"
	"fmt"

	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/index"
	"github.com/kaizencorps/stache/pkg/payload"
)

// Status is the result of a fire attempt.
type Status string

const (
	Executed Status = "EXECUTED"
	Skipped  Status = "SKIPPED"
)

// Skip reasons.
const (
	ReasonInactive          = "inactive"
	ReasonPaused            = "paused"
	ReasonConditionNotMet   = "condition not met"
	ReasonInsufficientFunds = "insufficient funds"
)

// FireResult describes what a fire attempt did.
type FireResult struct {
	Status   Status
	Reason   string
	Transfer payload.TransferAction
}

// Automation is a conditional transfer owned by a treasury.
type Automation struct {
	Treasury custody.Key     `json:"treasury"`
	Index    index.Index     `json:"index"`
	Name     string          `json:"name"`
	Active   bool            `json:"active"`
	Paused   bool            `json:"paused"`
	Action   payload.Action  `json:"action"`
	Trigger  payload.Trigger `json:"trigger"`
	Handle   string          `json:"handle,omitempty"`
	Revision uint64          `json:"revision"`
}

// New returns an inactive, paused automation with nothing configured.
func New(treasury custody.Key, idx index.Index, name string) *Automation {
	return &Automation{
		Treasury: treasury,
		Index:    idx,
		Name:     name,
		Paused:   true,
	}
}

// SetTrigger replaces the trigger. Rejected once the automation is active.
func (a *Automation) SetTrigger(t payload.Trigger) error {
	if a.Active {
		return fmt.Errorf("automation %d: %w", a.Index, custody.ErrAutomationLocked)
	}
	if t.IsZero() {
		return fmt.Errorf("automation %d: empty trigger: %w", a.Index, custody.ErrInvalidTrigger)
	}
	a.Trigger = t.Clone()
	return nil
}

// SetAction replaces the action. Rejected once the automation is active.
func (a *Automation) SetAction(act payload.Action) error {
	if a.Active {
		return fmt.Errorf("automation %d: %w", a.Index, custody.ErrAutomationLocked)
	}
	if act.IsZero() {
		return fmt.Errorf("automation %d: empty action: %w", a.Index, custody.ErrInvalidAction)
	}
	a.Action = act.Clone()
	return nil
}

// Activate locks the configuration and, when sched is not nil, registers the
// automation with the scheduler under key.
func (a *Automation) Activate(ctx context.Context, sched custody.Scheduler, key custody.Key) error {
	if a.Active {
		return fmt.Errorf("automation %d already active: %w", a.Index, custody.ErrAutomationLocked)
	}
	if a.Trigger.IsZero() {
		return fmt.Errorf("automation %d has no trigger: %w", a.Index, custody.ErrInvalidTrigger)
	}
	if a.Action.IsZero() {
		return fmt.Errorf("automation %d has no action: %w", a.Index, custody.ErrInvalidAction)
	}
	if sched != nil {
		handle, err := sched.Register(ctx, key)
		if err != nil {
			return fmt.Errorf("automation %d register: %w", a.Index, err)
		}
		a.Handle = handle
	}
	a.Active = true
	a.Paused = false
	return nil
}

// Pause stops an active automation from firing without unlocking it.
func (a *Automation) Pause() error {
	if !a.Active {
		return fmt.Errorf("automation %d is not active: %w", a.Index, custody.ErrInvalidAutomation)
	}
	a.Paused = true
	return nil
}

// Resume undoes Pause.
func (a *Automation) Resume() error {
	if !a.Active {
		return fmt.Errorf("automation %d is not active: %w", a.Index, custody.ErrInvalidAutomation)
	}
	a.Paused = false
	return nil
}

// Teardown removes any scheduler registration.
func (a *Automation) Teardown(ctx context.Context, sched custody.Scheduler) error {
	if a.Handle == "" || sched == nil {
		return nil
	}
	if err := sched.Unregister(ctx, a.Handle); err != nil {
		return fmt.Errorf("automation %d unregister: %w", a.Index, err)
	}
	a.Handle = ""
	return nil
}

// Fire evaluates the trigger against balanceSource and, when it holds and
// from covers the amount, executes the transfer. An unmet condition or a
// short balance is a skip, not an error.
func (a *Automation) Fire(ctx context.Context, balanceSource, from, to custody.Account, exec custody.ExecuteFunc) (FireResult, error) {
	transfer, err := a.Action.AsTransfer()
	if err != nil {
		return FireResult{}, fmt.Errorf("automation %d: %w", a.Index, err)
	}
	trigger, err := a.Trigger.AsBalance()
	if err != nil {
		return FireResult{}, fmt.Errorf("automation %d: %w", a.Index, err)
	}

	if !a.Active {
		return FireResult{Status: Skipped, Reason: ReasonInactive}, nil
	}
	if a.Paused {
		return FireResult{Status: Skipped, Reason: ReasonPaused}, nil
	}

	if balanceSource.Key != trigger.Account {
		return FireResult{}, fmt.Errorf("automation %d: balance source %s is not the trigger account: %w", a.Index, balanceSource.Key, custody.ErrInvalidTrigger)
	}
	if balanceSource.Key == from.Key || balanceSource.Key == to.Key {
		return FireResult{}, fmt.Errorf("automation %d: balance source %s is a transfer account: %w", a.Index, balanceSource.Key, custody.ErrDupeAccount)
	}
	if from.Key != transfer.From || to.Key != transfer.To {
		return FireResult{}, fmt.Errorf("automation %d: %w", a.Index, custody.ErrTokenAccountsMismatch)
	}

	if !trigger.Met(balanceSource.Amount) {
		return FireResult{Status: Skipped, Reason: ReasonConditionNotMet}, nil
	}
	if from.Amount < transfer.Amount {
		return FireResult{Status: Skipped, Reason: ReasonInsufficientFunds}, nil
	}

	if exec == nil {
		return FireResult{}, fmt.Errorf("automation %d: no executor configured", a.Index)
	}
	if err := exec(ctx, custody.TransferIntent{From: from, To: to, Amount: transfer.Amount}); err != nil {
		return FireResult{}, fmt.Errorf("automation %d execute: %w", a.Index, err)
	}
	return FireResult{Status: Executed, Transfer: transfer}, nil
}

// Clone returns a deep copy.
func (a *Automation) Clone() *Automation {
	c := *a
	c.Action = a.Action.Clone()
	c.Trigger = a.Trigger.Clone()
	return &c
}
