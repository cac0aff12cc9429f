// Package artifacts is a content-addressed blob archive. Blobs are named by
// their SHA-256 digest ("sha256:<hex>"), so writing the same bytes twice is a
// no-op. Receipts are archived here after execution.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const digestPrefix = "sha256:"

var (
	ErrNotFound      = errors.New("artifacts: blob not found")
	ErrInvalidDigest = errors.New("artifacts: invalid digest")
)

// Store is a content-addressed archive.
type Store interface {
	// Put persists data and returns its digest.
	Put(ctx context.Context, data []byte) (string, error)
	// Get returns the blob for digest, or ErrNotFound.
	Get(ctx context.Context, digest string) ([]byte, error)
	Exists(ctx context.Context, digest string) (bool, error)
}

// Digest returns the archive name of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return digestPrefix + hex.EncodeToString(sum[:])
}

// objectName validates digest and returns the backend object name for it.
func objectName(prefix, digest string) (string, error) {
	raw, ok := strings.CutPrefix(digest, digestPrefix)
	if !ok || len(raw) != sha256.Size*2 {
		return "", fmt.Errorf("%q: %w", digest, ErrInvalidDigest)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("%q: %w", digest, ErrInvalidDigest)
	}
	return prefix + raw + ".blob", nil
}
