package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kaizencorps/stache/pkg/automation"
	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/index"
	"github.com/kaizencorps/stache/pkg/payload"
	"github.com/kaizencorps/stache/pkg/receipts"
	"github.com/kaizencorps/stache/pkg/store"
	"github.com/kaizencorps/stache/pkg/treasury"
)

func loadAutomation(ctx context.Context, tx store.Tx, tk custody.Key, idx index.Index) (*automation.Automation, error) {
	a, err := tx.Automation(ctx, tk, idx)
	if err != nil {
		return nil, notFound(err, custody.ErrInvalidAutomation, fmt.Sprintf("automation %s", treasury.AutomationKey(tk, idx)))
	}
	return a, nil
}

func (s *Service) automationFor(ctx context.Context, tx store.Tx, authority, tk custody.Key, idx index.Index) (*treasury.Treasury, *automation.Automation, error) {
	t, err := loadTreasury(ctx, tx, tk)
	if err != nil {
		return nil, nil, err
	}
	if err := s.authorize(ctx, t, authority); err != nil {
		return nil, nil, err
	}
	if !t.HasAutomation(idx) {
		return nil, nil, fmt.Errorf("treasury %s has no automation %d: %w", tk, idx, custody.ErrInvalidAutomation)
	}
	a, err := loadAutomation(ctx, tx, tk, idx)
	if err != nil {
		return nil, nil, err
	}
	return t, a, nil
}

// mutateAutomation loads an automation, applies fn and stores the result.
func (s *Service) mutateAutomation(ctx context.Context, op string, authority, tk custody.Key, idx index.Index, fn func(*automation.Automation) error) error {
	return s.update(ctx, op, tk, func(ctx context.Context, tx store.Tx) error {
		_, a, err := s.automationFor(ctx, tx, authority, tk, idx)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		return tx.PutAutomation(ctx, a)
	})
}

// CreateAutomation allocates an automation index and stores an inactive,
// unconfigured automation.
func (s *Service) CreateAutomation(ctx context.Context, authority, tk custody.Key, name string) (*automation.Automation, error) {
	var created *automation.Automation
	err := s.update(ctx, "create_automation", tk, func(ctx context.Context, tx store.Tx) error {
		t, err := loadTreasury(ctx, tx, tk)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, t, authority); err != nil {
			return err
		}
		name, err := treasury.ValidName(name)
		if err != nil {
			return err
		}
		idx, err := t.AddAutomation()
		if err != nil {
			return err
		}
		a := automation.New(tk, idx, name)
		if err := tx.PutTreasury(ctx, t); err != nil {
			return err
		}
		if err := tx.PutAutomation(ctx, a); err != nil {
			return err
		}
		created = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "automation created", "treasury", tk, "automation", created.Index, "name", created.Name)
	return created, nil
}

func (s *Service) SetTrigger(ctx context.Context, authority, tk custody.Key, idx index.Index, trigger payload.Trigger) error {
	return s.mutateAutomation(ctx, "set_trigger", authority, tk, idx, func(a *automation.Automation) error {
		return a.SetTrigger(trigger)
	})
}

func (s *Service) SetAction(ctx context.Context, authority, tk custody.Key, idx index.Index, action payload.Action) error {
	return s.mutateAutomation(ctx, "set_action", authority, tk, idx, func(a *automation.Automation) error {
		return a.SetAction(action)
	})
}

// SetTriggerJSON decodes and validates a raw trigger document before setting it.
func (s *Service) SetTriggerJSON(ctx context.Context, authority, tk custody.Key, idx index.Index, raw []byte) error {
	trigger, err := payload.DecodeTrigger(raw)
	if err != nil {
		return err
	}
	return s.SetTrigger(ctx, authority, tk, idx, trigger)
}

// SetActionJSON decodes and validates a raw action document before setting it.
func (s *Service) SetActionJSON(ctx context.Context, authority, tk custody.Key, idx index.Index, raw []byte) error {
	action, err := payload.DecodeAction(raw)
	if err != nil {
		return err
	}
	return s.SetAction(ctx, authority, tk, idx, action)
}

// ActivateAutomation locks the automation's configuration and registers it
// with the scheduler. A registration made by a unit of work that then fails
// is withdrawn.
func (s *Service) ActivateAutomation(ctx context.Context, authority, tk custody.Key, idx index.Index) error {
	var registered *automation.Automation
	err := s.mutateAutomation(ctx, "activate_automation", authority, tk, idx, func(a *automation.Automation) error {
		if err := a.Activate(ctx, s.scheduler, treasury.AutomationKey(tk, idx)); err != nil {
			return err
		}
		registered = a.Clone()
		return nil
	})
	if err != nil {
		if registered != nil {
			if terr := registered.Teardown(ctx, s.scheduler); terr != nil {
				s.logger.WarnContext(ctx, "withdraw registration", "treasury", tk, "automation", idx, "error", terr)
			}
		}
		return err
	}
	s.logger.InfoContext(ctx, "automation activated", "treasury", tk, "automation", idx, "handle", registered.Handle)
	return nil
}

func (s *Service) PauseAutomation(ctx context.Context, authority, tk custody.Key, idx index.Index) error {
	return s.mutateAutomation(ctx, "pause_automation", authority, tk, idx, func(a *automation.Automation) error {
		return a.Pause()
	})
}

func (s *Service) ResumeAutomation(ctx context.Context, authority, tk custody.Key, idx index.Index) error {
	return s.mutateAutomation(ctx, "resume_automation", authority, tk, idx, func(a *automation.Automation) error {
		return a.Resume()
	})
}

// FireAutomation evaluates an automation against current ledger balances and
// performs its transfer when the trigger holds. The treasury is the transfer
// authority, so the action's source must be an account the treasury owns.
func (s *Service) FireAutomation(ctx context.Context, tk custody.Key, idx index.Index) (automation.FireResult, error) {
	var (
		result  automation.FireResult
		receipt *receipts.Receipt
	)
	err := s.update(ctx, "fire_automation", tk, func(ctx context.Context, tx store.Tx) error {
		if _, err := loadTreasury(ctx, tx, tk); err != nil {
			return err
		}
		a, err := loadAutomation(ctx, tx, tk, idx)
		if err != nil {
			return err
		}
		transfer, err := a.Action.AsTransfer()
		if err != nil {
			return err
		}
		trigger, err := a.Trigger.AsBalance()
		if err != nil {
			return err
		}

		accounts := make([]custody.Account, 3)
		for i, key := range []custody.Key{trigger.Account, transfer.From, transfer.To} {
			if accounts[i], err = s.account(ctx, key); err != nil {
				return err
			}
		}

		var intent *custody.TransferIntent
		capture := func(_ context.Context, in custody.TransferIntent) error {
			intent = &in
			return nil
		}
		result, err = a.Fire(ctx, accounts[0], accounts[1], accounts[2], capture)
		if err != nil || intent == nil {
			return err
		}
		if err := s.ledger.Transfer(ctx, intent.From.Key, intent.To.Key, tk, intent.Amount); err != nil {
			return fmt.Errorf("automation %d transfer: %w", idx, err)
		}
		receipt = &receipts.Receipt{
			Treasury: tk, Source: receipts.SourceAutomation, Record: treasury.AutomationKey(tk, idx),
			From: intent.From.Key, To: intent.To.Key, Authority: tk, Amount: intent.Amount,
		}
		return nil
	})
	if err != nil {
		return automation.FireResult{}, err
	}
	if result.Status == automation.Executed {
		s.record(ctx, receipt)
		s.logger.InfoContext(ctx, "automation fired",
			"treasury", tk, "automation", idx, "from", result.Transfer.From, "to", result.Transfer.To, "amount", result.Transfer.Amount)
	} else {
		s.logger.DebugContext(ctx, "automation skipped", "treasury", tk, "automation", idx, "reason", result.Reason)
	}
	return result, nil
}

// FireByKey fires the automation named by its record key. It has the shape
// the scheduler runner expects.
func (s *Service) FireByKey(ctx context.Context, key custody.Key) error {
	tk, idx, err := treasury.ParseAutomationKey(key)
	if err != nil {
		return err
	}
	_, err = s.FireAutomation(ctx, tk, idx)
	return err
}

// DestroyAutomation removes the automation, releases its index and withdraws
// its scheduler registration.
func (s *Service) DestroyAutomation(ctx context.Context, authority, tk custody.Key, idx index.Index) error {
	var removed *automation.Automation
	err := s.update(ctx, "destroy_automation", tk, func(ctx context.Context, tx store.Tx) error {
		t, a, err := s.automationFor(ctx, tx, authority, tk, idx)
		if err != nil {
			return err
		}
		if err := t.RemoveAutomation(idx); err != nil {
			return err
		}
		if err := tx.PutTreasury(ctx, t); err != nil {
			return err
		}
		if err := tx.DeleteAutomation(ctx, tk, idx); err != nil {
			return err
		}
		removed = a
		return nil
	})
	if err != nil {
		return err
	}
	if err := removed.Teardown(ctx, s.scheduler); err != nil {
		s.logger.WarnContext(ctx, "automation teardown", "treasury", tk, "automation", idx, "error", err)
	}
	s.logger.InfoContext(ctx, "automation destroyed", "treasury", tk, "automation", idx)
	return nil
}

// Automation returns the current automation record.
func (s *Service) Automation(ctx context.Context, tk custody.Key, idx index.Index) (*automation.Automation, error) {
	var out *automation.Automation
	err := s.store.View(ctx, func(tx store.Tx) error {
		a, err := loadAutomation(ctx, tx, tk, idx)
		out = a
		return err
	})
	return out, err
}

// RestoreSchedule registers every active automation with the scheduler and
// records the new handles. It is run once at startup, since scheduler
// registrations do not outlive the process.
func (s *Service) RestoreSchedule(ctx context.Context) (int, error) {
	if s.scheduler == nil {
		return 0, nil
	}
	var restored int
	err := s.store.Update(ctx, func(tx store.Tx) error {
		autos, err := tx.Automations(ctx, "")
		if err != nil {
			return err
		}
		restored = 0
		for _, a := range autos {
			if !a.Active {
				continue
			}
			handle, err := s.scheduler.Register(ctx, treasury.AutomationKey(a.Treasury, a.Index))
			if err != nil {
				return fmt.Errorf("register automation %s/%d: %w", a.Treasury, a.Index, err)
			}
			if handle == a.Handle {
				restored++
				continue
			}
			a.Handle = handle
			if err := tx.PutAutomation(ctx, a); err != nil {
				if errors.Is(err, store.ErrConflict) {
					return fmt.Errorf("automation %s/%d changed during restore: %w", a.Treasury, a.Index, err)
				}
				return err
			}
			restored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "schedule restored", "automations", restored)
	return restored, nil
}
