package treasury

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/index"
)

// Key derives a treasury key from its domain and human id.
func Key(domain, stacheID string) custody.Key {
	return custody.Key(domain + "/" + stacheID)
}

// VaultKey derives the record key of a vault.
func VaultKey(treasury custody.Key, idx index.Index) custody.Key {
	return custody.Key(fmt.Sprintf("%s/vault/%d", treasury, idx))
}

// AutomationKey derives the record key of an automation.
func AutomationKey(treasury custody.Key, idx index.Index) custody.Key {
	return custody.Key(fmt.Sprintf("%s/auto/%d", treasury, idx))
}

// AccountKey derives the token account owned by a record.
func AccountKey(record custody.Key) custody.Key {
	return record + "/ata"
}

// ParseAutomationKey splits an automation key into its treasury key and index.
func ParseAutomationKey(key custody.Key) (custody.Key, index.Index, error) {
	s := string(key)
	i := strings.LastIndex(s, "/auto/")
	if i <= 0 {
		return "", 0, fmt.Errorf("automation key %q: %w", key, custody.ErrInvalidAutomation)
	}
	n, err := strconv.ParseUint(s[i+len("/auto/"):], 10, 8)
	if err != nil || n < uint64(index.MinIndex) || n > uint64(index.MaxIndex) {
		return "", 0, fmt.Errorf("automation key %q: %w", key, custody.ErrInvalidAutomation)
	}
	return custody.Key(s[:i]), index.Index(n), nil
}
