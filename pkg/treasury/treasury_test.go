package treasury

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/index"
)

func newTreasury(t *testing.T) *Treasury {
	t.Helper()
	tr, err := New("keychain-1", "beards", "acme", time.Unix(0, 0))
	require.NoError(t, err)
	return tr
}

func TestNew(t *testing.T) {
	tr := newTreasury(t)
	assert.Equal(t, custody.Key("beards/acme"), tr.Key)
	assert.Equal(t, Version, tr.Version)
	assert.True(t, tr.Empty())

	_, err := New("keychain-1", "Beards", "acme", time.Now())
	assert.ErrorIs(t, err, custody.ErrInvalidName)

	_, err = New("", "beards", "acme", time.Now())
	assert.ErrorIs(t, err, custody.ErrInvalidTreasury)
}

func TestVaultCapacity(t *testing.T) {
	tr := newTreasury(t)
	for i := 1; i <= MaxVaults; i++ {
		idx, err := tr.AddVault()
		require.NoError(t, err)
		assert.Equal(t, index.Index(i), idx)
	}

	_, err := tr.AddVault()
	assert.ErrorIs(t, err, custody.ErrMaxVaults)
	assert.ErrorIs(t, err, custody.ErrHitLimit)
	assert.False(t, errors.Is(err, custody.ErrMaxAutos))

	require.NoError(t, tr.RemoveVault(3))
	idx, err := tr.AddVault()
	require.NoError(t, err)
	assert.Equal(t, index.Index(6), idx, "counter advances past the released slot")
}

func TestAutomationCapacity(t *testing.T) {
	tr := newTreasury(t)
	for i := 0; i < MaxAutomations; i++ {
		_, err := tr.AddAutomation()
		require.NoError(t, err)
	}
	_, err := tr.AddAutomation()
	assert.ErrorIs(t, err, custody.ErrMaxAutos)
	assert.ErrorIs(t, err, custody.ErrHitLimit)
}

func TestCountersAreIndependent(t *testing.T) {
	tr := newTreasury(t)
	v, err := tr.AddVault()
	require.NoError(t, err)
	a, err := tr.AddAutomation()
	require.NoError(t, err)
	assert.Equal(t, index.Index(1), v)
	assert.Equal(t, index.Index(1), a)
	assert.True(t, tr.HasVault(1))
	assert.True(t, tr.HasAutomation(1))
	assert.False(t, tr.Empty())
}

func TestRemoveAbsent(t *testing.T) {
	tr := newTreasury(t)
	assert.ErrorIs(t, tr.RemoveVault(1), custody.ErrInvalidVault)
	assert.ErrorIs(t, tr.RemoveAutomation(1), custody.ErrInvalidAutomation)
}

func TestClone(t *testing.T) {
	tr := newTreasury(t)
	_, err := tr.AddVault()
	require.NoError(t, err)

	c := tr.Clone()
	_, err = c.AddVault()
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Vaults.Len())
	assert.Equal(t, 2, c.Vaults.Len())
}

func TestKeys(t *testing.T) {
	tk := Key("beards", "acme")
	assert.Equal(t, custody.Key("beards/acme/vault/4"), VaultKey(tk, 4))
	assert.Equal(t, custody.Key("beards/acme/auto/2"), AutomationKey(tk, 2))
	assert.Equal(t, custody.Key("beards/acme/vault/4/ata"), AccountKey(VaultKey(tk, 4)))
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"letters", "savings", true},
		{"digits", "vault42", true},
		{"max length", strings.Repeat("a", MaxNameLen), true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", MaxNameLen+1), false},
		{"uppercase", "Savings", false},
		{"space", "my vault", false},
		{"dash", "my-vault", false},
		{"non ascii", "café", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidName(tt.input)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.input, got)
				return
			}
			assert.ErrorIs(t, err, custody.ErrInvalidName)
		})
	}
}

func TestParseAutomationKey(t *testing.T) {
	tk, idx, err := ParseAutomationKey(AutomationKey("beards/acme", 7))
	require.NoError(t, err)
	assert.Equal(t, custody.Key("beards/acme"), tk)
	assert.Equal(t, index.Index(7), idx)

	for _, bad := range []custody.Key{"", "beards/acme", "/auto/1", "beards/acme/auto/0", "beards/acme/auto/255", "beards/acme/auto/x"} {
		_, _, err := ParseAutomationKey(bad)
		assert.ErrorIs(t, err, custody.ErrInvalidAutomation, string(bad))
	}
}
