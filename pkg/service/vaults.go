package service

import (
	"context"
	"fmt"

	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/index"
	"github.com/kaizencorps/stache/pkg/receipts"
	"github.com/kaizencorps/stache/pkg/store"
	"github.com/kaizencorps/stache/pkg/treasury"
	"github.com/kaizencorps/stache/pkg/vault"
)

func loadVault(ctx context.Context, tx store.Tx, tk custody.Key, idx index.Index) (*vault.Vault, error) {
	v, err := tx.Vault(ctx, tk, idx)
	if err != nil {
		return nil, notFound(err, custody.ErrInvalidVault, fmt.Sprintf("vault %s", treasury.VaultKey(tk, idx)))
	}
	return v, nil
}

// vaultFor loads the treasury, authorizes authority on it and loads the vault.
func (s *Service) vaultFor(ctx context.Context, tx store.Tx, authority, tk custody.Key, idx index.Index) (*treasury.Treasury, *vault.Vault, error) {
	t, err := loadTreasury(ctx, tx, tk)
	if err != nil {
		return nil, nil, err
	}
	if err := s.authorize(ctx, t, authority); err != nil {
		return nil, nil, err
	}
	if !t.HasVault(idx) {
		return nil, nil, fmt.Errorf("treasury %s has no vault %d: %w", tk, idx, custody.ErrInvalidVault)
	}
	v, err := loadVault(ctx, tx, tk, idx)
	if err != nil {
		return nil, nil, err
	}
	return t, v, nil
}

// CreateVault allocates a vault index, stores the vault and opens its token
// account.
func (s *Service) CreateVault(ctx context.Context, authority, tk custody.Key, name string, typ vault.Type) (*vault.Vault, error) {
	var created *vault.Vault
	err := s.update(ctx, "create_vault", tk, func(ctx context.Context, tx store.Tx) error {
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
		idx, err := t.AddVault()
		if err != nil {
			return err
		}
		v, err := vault.New(tk, idx, name, typ)
		if err != nil {
			return err
		}
		if err := tx.PutTreasury(ctx, t); err != nil {
			return err
		}
		if err := tx.PutVault(ctx, v); err != nil {
			return err
		}
		vk := treasury.VaultKey(tk, idx)
		if err := s.ledger.Open(ctx, treasury.AccountKey(vk), vk); err != nil {
			return fmt.Errorf("open vault account: %w", err)
		}
		created = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "vault created",
		"treasury", tk, "vault", created.Index, "name", created.Name, "type", created.Type.Kind)
	return created, nil
}

// LockVault blocks every further withdrawal from the vault.
func (s *Service) LockVault(ctx context.Context, authority, tk custody.Key, idx index.Index) error {
	err := s.update(ctx, "lock_vault", tk, func(ctx context.Context, tx store.Tx) error {
		_, v, err := s.vaultFor(ctx, tx, authority, tk, idx)
		if err != nil {
			return err
		}
		v.Lock()
		return tx.PutVault(ctx, v)
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "vault locked", "treasury", tk, "vault", idx)
	return nil
}

// DestroyVault drains the vault account into drainTo, closes it and releases
// the vault index. Pending actions are discarded with the vault.
func (s *Service) DestroyVault(ctx context.Context, authority, tk custody.Key, idx index.Index, drainTo custody.Key) error {
	var receipt *receipts.Receipt
	err := s.update(ctx, "destroy_vault", tk, func(ctx context.Context, tx store.Tx) error {
		t, _, err := s.vaultFor(ctx, tx, authority, tk, idx)
		if err != nil {
			return err
		}
		if err := t.RemoveVault(idx); err != nil {
			return err
		}
		if err := tx.PutTreasury(ctx, t); err != nil {
			return err
		}
		if err := tx.DeleteVault(ctx, tk, idx); err != nil {
			return err
		}

		vk := treasury.VaultKey(tk, idx)
		from, err := s.account(ctx, treasury.AccountKey(vk))
		if err != nil {
			return err
		}
		if from.Amount == 0 {
			if err := s.ledger.CloseIfEmpty(ctx, from.Key, drainTo, vk); err != nil {
				return ignoreClosed(fmt.Errorf("close %s: %w", from.Key, err))
			}
			return nil
		}
		if err := s.transferOut(ctx, from, drainTo, vk, drainTo, from.Amount); err != nil {
			return err
		}
		receipt = &receipts.Receipt{
			Treasury: tk, Source: receipts.SourceDrain, Record: vk,
			From: from.Key, To: drainTo, Authority: authority, Amount: from.Amount,
		}
		return nil
	})
	if err != nil {
		return err
	}
	if receipt != nil {
		s.record(ctx, receipt)
	}
	s.logger.InfoContext(ctx, "vault destroyed", "treasury", tk, "vault", idx, "drain_to", drainTo)
	return nil
}

// Withdraw asks the vault's policy what to do with a transfer of amount from
// the vault account to to. Open vaults transfer immediately; two-signature
// vaults record a pending action approved by authority; delegated multisig
// vaults do nothing.
func (s *Service) Withdraw(ctx context.Context, authority, tk custody.Key, idx index.Index, to custody.Key, amount uint64) (vault.Decision, error) {
	var (
		decision vault.Decision
		receipt  *receipts.Receipt
	)
	err := s.update(ctx, "withdraw", tk, func(ctx context.Context, tx store.Tx) error {
		_, v, err := s.vaultFor(ctx, tx, authority, tk, idx)
		if err != nil {
			return err
		}
		vk := treasury.VaultKey(tk, idx)
		from, err := s.account(ctx, treasury.AccountKey(vk))
		if err != nil {
			return err
		}
		if from.Amount < amount {
			return fmt.Errorf("vault %s holds %d, need %d: %w", vk, from.Amount, amount, custody.ErrInsufficientFunds)
		}

		decision, err = v.Withdraw(authority, from.Key, to, amount, s.now())
		if err != nil {
			return err
		}

		switch {
		case decision.Mode == vault.ExecuteNow:
			if err := s.transferOut(ctx, from, to, vk, authority, amount); err != nil {
				return err
			}
			receipt = &receipts.Receipt{
				Treasury: tk, Source: receipts.SourceWithdrawal, Record: vk,
				From: from.Key, To: to, Authority: authority, Amount: amount,
			}
			return nil
		case decision.Delegated:
			return nil
		default:
			return tx.PutVault(ctx, v)
		}
	})
	if err != nil {
		return vault.Decision{}, err
	}

	switch {
	case decision.Mode == vault.ExecuteNow:
		s.record(ctx, receipt)
		s.logger.InfoContext(ctx, "vault withdrawal executed", "treasury", tk, "vault", idx, "to", to, "amount", amount)
	case decision.Delegated:
		s.logger.WarnContext(ctx, "delegated multisig withdrawal ignored", "treasury", tk, "vault", idx, "to", to, "amount", amount)
	default:
		s.logger.InfoContext(ctx, "vault withdrawal pending approval",
			"treasury", tk, "vault", idx, "action", decision.ActionIndex, "amount", amount)
	}
	return decision, nil
}

// ApproveAction adds authority's approval to a pending action. The second
// distinct approval executes the recorded transfer; from and to must name the
// recorded accounts.
func (s *Service) ApproveAction(ctx context.Context, authority, tk custody.Key, idx, actionIdx index.Index, from, to custody.Key) (vault.Outcome, error) {
	var (
		outcome vault.Outcome
		receipt *receipts.Receipt
	)
	err := s.update(ctx, "approve_action", tk, func(ctx context.Context, tx store.Tx) error {
		_, v, err := s.vaultFor(ctx, tx, authority, tk, idx)
		if err != nil {
			return err
		}
		fromAcc, err := s.account(ctx, from)
		if err != nil {
			return err
		}
		toAcc, err := s.account(ctx, to)
		if err != nil {
			return err
		}

		var intent *custody.TransferIntent
		capture := func(_ context.Context, in custody.TransferIntent) error {
			intent = &in
			return nil
		}
		outcome, err = v.Approve(ctx, actionIdx, authority, fromAcc, toAcc, capture)
		if err != nil {
			return err
		}
		if err := tx.PutVault(ctx, v); err != nil {
			return err
		}
		if intent == nil {
			return nil
		}

		vk := treasury.VaultKey(tk, idx)
		if err := s.transferOut(ctx, intent.From, intent.To.Key, vk, authority, intent.Amount); err != nil {
			return err
		}
		receipt = &receipts.Receipt{
			Treasury: tk, Source: receipts.SourceApproval, Record: vk, ActionIndex: actionIdx,
			From: intent.From.Key, To: intent.To.Key, Authority: authority, Amount: intent.Amount,
			Approvers: outcome.Approvers,
		}
		return nil
	})
	if err != nil {
		return vault.Outcome{}, err
	}
	if outcome.Executed {
		s.record(ctx, receipt)
		s.logger.InfoContext(ctx, "vault action executed",
			"treasury", tk, "vault", idx, "action", actionIdx, "amount", outcome.Transfer.Amount)
	} else {
		s.logger.InfoContext(ctx, "vault action approved",
			"treasury", tk, "vault", idx, "action", actionIdx, "approvals", outcome.Approvals)
	}
	return outcome, nil
}

// DenyAction drops a pending action. It reports whether one was removed.
func (s *Service) DenyAction(ctx context.Context, authority, tk custody.Key, idx, actionIdx index.Index) (bool, error) {
	var removed bool
	err := s.update(ctx, "deny_action", tk, func(ctx context.Context, tx store.Tx) error {
		_, v, err := s.vaultFor(ctx, tx, authority, tk, idx)
		if err != nil {
			return err
		}
		if removed = v.Deny(actionIdx); !removed {
			return nil
		}
		return tx.PutVault(ctx, v)
	})
	if err != nil {
		return false, err
	}
	if removed {
		s.logger.InfoContext(ctx, "vault action denied", "treasury", tk, "vault", idx, "action", actionIdx)
	}
	return removed, nil
}

// ExpireActions drops pending actions older than the configured TTL and
// returns them. It needs no authority.
func (s *Service) ExpireActions(ctx context.Context, tk custody.Key, idx index.Index) ([]vault.Action, error) {
	var expired []vault.Action
	err := s.update(ctx, "expire_actions", tk, func(ctx context.Context, tx store.Tx) error {
		v, err := loadVault(ctx, tx, tk, idx)
		if err != nil {
			return err
		}
		if expired = v.ExpireActions(s.now(), s.actionTTL); len(expired) == 0 {
			return nil
		}
		return tx.PutVault(ctx, v)
	})
	if err != nil {
		return nil, err
	}
	for _, a := range expired {
		s.logger.InfoContext(ctx, "vault action expired", "treasury", tk, "vault", idx, "action", a.Index, "created_at", a.CreatedAt)
	}
	return expired, nil
}

// SweepExpired runs ExpireActions over every vault with pending actions and
// returns how many actions were dropped.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	if s.actionTTL <= 0 {
		return 0, nil
	}
	var vaults []*vault.Vault
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		vaults, err = tx.Vaults(ctx, "")
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list vaults: %w", err)
	}

	total := 0
	for _, v := range vaults {
		if len(v.Pending) == 0 {
			continue
		}
		expired, err := s.ExpireActions(ctx, v.Treasury, v.Index)
		if err != nil {
			s.logger.WarnContext(ctx, "expire actions", "treasury", v.Treasury, "vault", v.Index, "error", err)
			continue
		}
		total += len(expired)
	}
	return total, nil
}

// Vault returns the current vault record.
func (s *Service) Vault(ctx context.Context, tk custody.Key, idx index.Index) (*vault.Vault, error) {
	var out *vault.Vault
	err := s.store.View(ctx, func(tx store.Tx) error {
		v, err := loadVault(ctx, tx, tk, idx)
		out = v
		return err
	})
	return out, err
}
