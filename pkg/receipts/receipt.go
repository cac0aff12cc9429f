// Package receipts records every executed transfer. A receipt is immutable
// once written and carries a content hash over its canonical JSON form
// (RFC 8785), so two receipts describing the same transfer hash equally
// regardless of ID.
package receipts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/kaizencorps/stache/pkg/custody"
	"github.com/kaizencorps/stache/pkg/index"
)

// Source says which operation moved the funds.
type Source string

const (
	SourceStash      Source = "STASH"
	SourceUnstash    Source = "UNSTASH"
	SourceWithdrawal Source = "VAULT_WITHDRAWAL"
	SourceApproval   Source = "VAULT_APPROVAL"
	SourceDrain      Source = "VAULT_DRAIN"
	SourceAutomation Source = "AUTOMATION"
)

var ErrNotFound = errors.New("receipts: not found")

// Receipt is the record of one executed transfer.
type Receipt struct {
	ID          string        `json:"id"`
	Treasury    custody.Key   `json:"treasury"`
	Source      Source        `json:"source"`
	Record      custody.Key   `json:"record,omitempty"`
	ActionIndex index.Index   `json:"action_index,omitempty"`
	From        custody.Key   `json:"from"`
	To          custody.Key   `json:"to"`
	Authority   custody.Key   `json:"authority"`
	Amount      uint64        `json:"amount"`
	Approvers   []custody.Key `json:"approvers,omitempty"`
	ExecutedAt  time.Time     `json:"executed_at"`
	ContentHash string        `json:"content_hash"`
	// ArchiveDigest names the archived copy, when archiving is enabled.
	ArchiveDigest string `json:"archive_digest,omitempty"`
}

// content is the hashed projection of a receipt.
type content struct {
	Treasury    custody.Key   `json:"treasury"`
	Source      Source        `json:"source"`
	Record      custody.Key   `json:"record,omitempty"`
	ActionIndex index.Index   `json:"action_index,omitempty"`
	From        custody.Key   `json:"from"`
	To          custody.Key   `json:"to"`
	Authority   custody.Key   `json:"authority"`
	Amount      uint64        `json:"amount"`
	Approvers   []custody.Key `json:"approvers,omitempty"`
	ExecutedAt  time.Time     `json:"executed_at"`
}

// Seal assigns an ID if missing, normalises the timestamp and computes the
// content hash.
func (r *Receipt) Seal() error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.ExecutedAt = r.ExecutedAt.UTC()
	h, err := r.hash()
	if err != nil {
		return err
	}
	r.ContentHash = h
	return nil
}

// Verify recomputes the content hash and compares it.
func (r *Receipt) Verify() (bool, error) {
	h, err := r.hash()
	if err != nil {
		return false, err
	}
	return h == r.ContentHash, nil
}

func (r *Receipt) hash() (string, error) {
	raw, err := json.Marshal(content{
		Treasury:    r.Treasury,
		Source:      r.Source,
		Record:      r.Record,
		ActionIndex: r.ActionIndex,
		From:        r.From,
		To:          r.To,
		Authority:   r.Authority,
		Amount:      r.Amount,
		Approvers:   r.Approvers,
		ExecutedAt:  r.ExecutedAt.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("receipt %s: marshal: %w", r.ID, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("receipt %s: canonicalize: %w", r.ID, err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Store persists sealed receipts.
type Store interface {
	Append(ctx context.Context, r *Receipt) error
	Get(ctx context.Context, id string) (*Receipt, error)
	// List returns the newest receipts of a treasury first.
	List(ctx context.Context, treasury custody.Key, limit int) ([]*Receipt, error)
}
