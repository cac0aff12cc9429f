package treasury

import (
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/kaizencorps/stache/pkg/custody"
)

// MaxNameLen is the longest accepted name, in bytes.
const MaxNameLen = 32

// ValidName normalises s to NFC and checks that it is 1..32 bytes of
// lowercase ASCII letters and digits. It returns the normalised name.
func ValidName(s string) (string, error) {
	n := norm.NFC.String(s)
	if len(n) == 0 || len(n) > MaxNameLen {
		return "", fmt.Errorf("name %q: length must be 1..%d: %w", s, MaxNameLen, custody.ErrInvalidName)
	}
	for i := 0; i < len(n); i++ {
		c := n[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return "", fmt.Errorf("name %q: only lowercase letters and digits: %w", s, custody.ErrInvalidName)
		}
	}
	return n, nil
}
