package receipts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kaizencorps/stache/pkg/artifacts"
	"github.com/kaizencorps/stache/pkg/custody"
)

// Archiver writes a copy of every appended receipt to a blob archive before
// handing it to the underlying store. The archive digest is recorded on the
// receipt.
type Archiver struct {
	next    Store
	archive artifacts.Store
	logger  *slog.Logger
}

var _ Store = (*Archiver)(nil)

func NewArchiver(next Store, archive artifacts.Store) *Archiver {
	return &Archiver{
		next:    next,
		archive: archive,
		logger:  slog.Default().With("component", "receipt-archive"),
	}
}

func (a *Archiver) Append(ctx context.Context, r *Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("receipt %s: %w", r.ID, err)
	}
	digest, err := a.archive.Put(ctx, data)
	if err != nil {
		return fmt.Errorf("archive receipt %s: %w", r.ID, err)
	}
	r.ArchiveDigest = digest
	a.logger.DebugContext(ctx, "receipt archived", "receipt_id", r.ID, "digest", digest)
	return a.next.Append(ctx, r)
}

func (a *Archiver) Get(ctx context.Context, id string) (*Receipt, error) {
	return a.next.Get(ctx, id)
}

func (a *Archiver) List(ctx context.Context, treasury custody.Key, limit int) ([]*Receipt, error) {
	return a.next.List(ctx, treasury, limit)
}
