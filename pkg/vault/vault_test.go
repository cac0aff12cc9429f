package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/index"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	intents []custody.TransferIntent
	err     error
}

func (r *recorder) exec(_ context.Context, intent custody.TransferIntent) error {
	if r.err != nil {
		return r.err
	}
	r.intents = append(r.intents, intent)
	return nil
}

func newVault(t *testing.T, typ Type) *Vault {
	t.Helper()
	v, err := New("beards/acme", 1, "ops", typ)
	require.NoError(t, err)
	return v
}

func TestNewRejectsMalformedType(t *testing.T) {
	_, err := New("beards/acme", 1, "ops", Type{Kind: "SQUADS"})
	assert.ErrorIs(t, err, custody.ErrInvalidVault)

	_, err = New("beards/acme", 1, "ops", DelegatedMultisig("", 2))
	assert.ErrorIs(t, err, custody.ErrInvalidVault)
}

func TestWithdrawLockedVault(t *testing.T) {
	for _, typ := range []Type{Open(), TwoSignature(), DelegatedMultisig("ms", 2)} {
		v := newVault(t, typ)
		v.Lock()

		_, err := v.Withdraw("alice", "vault-ata", "dest", 10, t0)
		assert.ErrorIs(t, err, custody.ErrVaultLocked, string(typ.Kind))
		assert.Empty(t, v.Pending)
	}
}

func TestWithdrawOpenExecutesNow(t *testing.T) {
	v := newVault(t, Open())

	d, err := v.Withdraw("alice", "vault-ata", "dest", 10, t0)
	require.NoError(t, err)
	assert.Equal(t, ExecuteNow, d.Mode)
	assert.Empty(t, v.Pending)
}

func TestWithdrawDelegatedIsNoop(t *testing.T) {
	v := newVault(t, DelegatedMultisig("squad-1", 3))

	d, err := v.Withdraw("alice", "vault-ata", "dest", 10, t0)
	require.NoError(t, err)
	assert.Equal(t, Deferred, d.Mode)
	assert.True(t, d.Delegated)
	assert.Empty(t, v.Pending)
}

func TestWithdrawTwoSignatureCreatesAction(t *testing.T) {
	v := newVault(t, TwoSignature())

	d, err := v.Withdraw("alice", "vault-ata", "dest", 10, t0)
	require.NoError(t, err)
	assert.Equal(t, Deferred, d.Mode)
	assert.Equal(t, index.Index(1), d.ActionIndex)

	a, ok := v.Action(d.ActionIndex)
	require.True(t, ok)
	assert.Equal(t, []custody.Key{"alice"}, a.Approvers)
	tr, err := a.Payload.AsTransfer()
	require.NoError(t, err)
	assert.Equal(t, custody.Key("vault-ata"), tr.From)
	assert.Equal(t, custody.Key("dest"), tr.To)
	assert.Equal(t, uint64(10), tr.Amount)
}

func TestWithdrawTwoSignatureActionLimit(t *testing.T) {
	v := newVault(t, TwoSignature())
	for i := 0; i < MaxActions; i++ {
		_, err := v.Withdraw("alice", "vault-ata", "dest", 1, t0)
		require.NoError(t, err)
	}

	_, err := v.Withdraw("alice", "vault-ata", "dest", 1, t0)
	assert.ErrorIs(t, err, custody.ErrHitLimit)
	assert.Len(t, v.Pending, MaxActions)
}

func TestActionCounterWrapsIndependently(t *testing.T) {
	v := newVault(t, TwoSignature())
	v.Actions.Next = 254

	d1, err := v.Withdraw("alice", "vault-ata", "dest", 1, t0)
	require.NoError(t, err)
	d2, err := v.Withdraw("alice", "vault-ata", "dest", 1, t0)
	require.NoError(t, err)

	assert.Equal(t, index.Index(254), d1.ActionIndex)
	assert.Equal(t, index.Index(1), d2.ActionIndex)
	assert.Equal(t, index.Index(1), v.Index, "vault index is untouched")
}

func TestApproveExecutesAtThreshold(t *testing.T) {
	v := newVault(t, TwoSignature())
	d, err := v.Withdraw("alice", "vault-ata", "dest", 10, t0)
	require.NoError(t, err)

	rec := &recorder{}
	out, err := v.Approve(context.Background(), d.ActionIndex, "bob",
		custody.Account{Key: "vault-ata", Amount: 100},
		custody.Account{Key: "dest"},
		rec.exec)
	require.NoError(t, err)

	assert.True(t, out.Executed)
	assert.Equal(t, 2, out.Approvals)
	assert.Equal(t, []custody.Key{"alice", "bob"}, out.Approvers)
	require.Len(t, rec.intents, 1)
	assert.Equal(t, uint64(10), rec.intents[0].Amount)
	assert.Empty(t, v.Pending)
	assert.Equal(t, 0, v.Actions.Len())
}

func TestApproveDuplicateApprover(t *testing.T) {
	v := newVault(t, TwoSignature())
	d, _ := v.Withdraw("alice", "vault-ata", "dest", 10, t0)

	rec := &recorder{}
	_, err := v.Approve(context.Background(), d.ActionIndex, "alice",
		custody.Account{Key: "vault-ata", Amount: 100}, custody.Account{Key: "dest"}, rec.exec)
	assert.ErrorIs(t, err, custody.ErrAlreadyApproved)

	a, _ := v.Action(d.ActionIndex)
	assert.Len(t, a.Approvers, 1)
	assert.Empty(t, rec.intents)
}

func TestApproveUnknownAction(t *testing.T) {
	v := newVault(t, TwoSignature())
	_, err := v.Approve(context.Background(), 9, "bob", custody.Account{}, custody.Account{}, nil)
	assert.ErrorIs(t, err, custody.ErrInvalidAction)
}

func TestApproveAccountMismatchLeavesActionUntouched(t *testing.T) {
	v := newVault(t, TwoSignature())
	d, _ := v.Withdraw("alice", "vault-ata", "dest", 10, t0)

	rec := &recorder{}
	_, err := v.Approve(context.Background(), d.ActionIndex, "bob",
		custody.Account{Key: "vault-ata", Amount: 100}, custody.Account{Key: "elsewhere"}, rec.exec)
	assert.ErrorIs(t, err, custody.ErrInvalidAction)

	a, ok := v.Action(d.ActionIndex)
	require.True(t, ok)
	assert.Len(t, a.Approvers, 1, "failed approval records nothing")
	assert.Empty(t, rec.intents)
}

func TestApproveInsufficientFunds(t *testing.T) {
	v := newVault(t, TwoSignature())
	d, _ := v.Withdraw("alice", "vault-ata", "dest", 10, t0)

	rec := &recorder{}
	_, err := v.Approve(context.Background(), d.ActionIndex, "bob",
		custody.Account{Key: "vault-ata", Amount: 9}, custody.Account{Key: "dest"}, rec.exec)
	assert.ErrorIs(t, err, custody.ErrInsufficientFunds)
	assert.Len(t, v.Pending, 1)
}

func TestApproveExecutorFailureKeepsAction(t *testing.T) {
	v := newVault(t, TwoSignature())
	d, _ := v.Withdraw("alice", "vault-ata", "dest", 10, t0)

	rec := &recorder{err: errors.New("ledger offline")}
	_, err := v.Approve(context.Background(), d.ActionIndex, "bob",
		custody.Account{Key: "vault-ata", Amount: 100}, custody.Account{Key: "dest"}, rec.exec)
	require.Error(t, err)

	a, ok := v.Action(d.ActionIndex)
	require.True(t, ok)
	assert.Len(t, a.Approvers, 1)
}

func TestDeny(t *testing.T) {
	v := newVault(t, TwoSignature())
	d, _ := v.Withdraw("alice", "vault-ata", "dest", 10, t0)

	assert.True(t, v.Deny(d.ActionIndex))
	assert.Empty(t, v.Pending)
	assert.False(t, v.Deny(d.ActionIndex), "absent index is a no-op")
}

func TestExpireActions(t *testing.T) {
	v := newVault(t, TwoSignature())
	old, _ := v.Withdraw("alice", "vault-ata", "dest", 1, t0)
	fresh, _ := v.Withdraw("alice", "vault-ata", "dest", 2, t0.Add(50*time.Minute))

	assert.Nil(t, v.ExpireActions(t0.Add(2*time.Hour), 0), "zero ttl disables expiry")

	expired := v.ExpireActions(t0.Add(time.Hour), time.Hour)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ActionIndex, expired[0].Index)

	_, ok := v.Action(fresh.ActionIndex)
	assert.True(t, ok)
	assert.Len(t, v.Pending, 1)
}

func TestCloneIsDeep(t *testing.T) {
	v := newVault(t, TwoSignature())
	d, _ := v.Withdraw("alice", "vault-ata", "dest", 10, t0)

	c := v.Clone()
	c.Pending[0].Approvers[0] = "mallory"
	c.Lock()

	a, _ := v.Action(d.ActionIndex)
	assert.Equal(t, custody.Key("alice"), a.Approvers[0])
	assert.False(t, v.Locked)
}
