package receipts

import (
	"context"
	"fmt"
	"sync"

	"github.com/kaizencorps/stache/pkg/custody"
)

// MemoryStore keeps receipts in append order.
type MemoryStore struct {
	mu       sync.RWMutex
	receipts []*Receipt
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, r *Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.receipts {
		if existing.ID == r.ID {
			return fmt.Errorf("receipt %s already recorded", r.ID)
		}
	}
	s.receipts = append(s.receipts, clone(r))
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.receipts {
		if r.ID == id {
			return clone(r), nil
		}
	}
	return nil, fmt.Errorf("receipt %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) List(_ context.Context, treasury custody.Key, limit int) ([]*Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Receipt
	for i := len(s.receipts) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		if r := s.receipts[i]; r.Treasury == treasury {
			out = append(out, clone(r))
		}
	}
	return out, nil
}

func clone(r *Receipt) *Receipt {
	c := *r
	c.Approvers = append([]custody.Key(nil), r.Approvers...)
	return &c
}
