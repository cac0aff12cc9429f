package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps documents in maps. Units of work are serialised; writes
// are staged and applied only when fn succeeds.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]map[string]document
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: map[string]map[string]document{
			tableTreasuries:  {},
			tableVaults:      {},
			tableAutomations: {},
		},
	}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, staged: make(map[string]map[string]*document)}
	if err := fn(recordTx{docs: tx}); err != nil {
		return err
	}
	for table, docs := range tx.staged {
		for key, doc := range docs {
			if doc == nil {
				delete(s.tables[table], key)
				continue
			}
			s.tables[table][key] = *doc
		}
	}
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(recordTx{docs: &memoryTx{store: s, readOnly: true}})
}

type memoryTx struct {
	store    *MemoryStore
	readOnly bool
	// staged holds pending writes; a nil document marks a delete.
	staged map[string]map[string]*document
}

func (t *memoryTx) lookup(table, key string) (document, bool) {
	if docs, ok := t.staged[table]; ok {
		if doc, ok := docs[key]; ok {
			if doc == nil {
				return document{}, false
			}
			return *doc, true
		}
	}
	doc, ok := t.store.tables[table][key]
	return doc, ok
}

func (t *memoryTx) stage(table, key string, doc *document) {
	docs, ok := t.staged[table]
	if !ok {
		docs = make(map[string]*document)
		t.staged[table] = docs
	}
	docs[key] = doc
}

func (t *memoryTx) get(_ context.Context, table, key string) (document, error) {
	doc, ok := t.lookup(table, key)
	if !ok {
		return document{}, ErrNotFound
	}
	doc.Body = append([]byte(nil), doc.Body...)
	return doc, nil
}

func (t *memoryTx) list(_ context.Context, table, treasuryKey string) ([]document, error) {
	keys := make(map[string]struct{})
	for key := range t.store.tables[table] {
		keys[key] = struct{}{}
	}
	for key := range t.staged[table] {
		keys[key] = struct{}{}
	}

	var out []document
	for key := range keys {
		doc, ok := t.lookup(table, key)
		if !ok || (treasuryKey != "" && doc.Treasury != treasuryKey) {
			continue
		}
		doc.Body = append([]byte(nil), doc.Body...)
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (t *memoryTx) put(_ context.Context, table string, doc document, expected uint64) error {
	if t.readOnly {
		return fmt.Errorf("put %s: read-only unit of work", doc.Key)
	}
	current, exists := t.lookup(table, doc.Key)
	switch {
	case expected == 0 && exists:
		return fmt.Errorf("create %s: already exists: %w", doc.Key, ErrConflict)
	case expected != 0 && !exists:
		return fmt.Errorf("update %s: %w", doc.Key, ErrNotFound)
	case expected != 0 && current.Revision != expected:
		return fmt.Errorf("update %s: revision %d, have %d: %w", doc.Key, current.Revision, expected, ErrConflict)
	}
	doc.Body = append([]byte(nil), doc.Body...)
	t.stage(table, doc.Key, &doc)
	return nil
}

func (t *memoryTx) del(_ context.Context, table, key string) error {
	if t.readOnly {
		return fmt.Errorf("delete %s: read-only unit of work", key)
	}
	if _, ok := t.lookup(table, key); !ok {
		return fmt.Errorf("delete %s: %w", key, ErrNotFound)
	}
	t.stage(table, key, nil)
	return nil
}
