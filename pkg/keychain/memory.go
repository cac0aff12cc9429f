// Package keychain provides an in-memory authority directory.
package keychain

import (
	"context"
	"sync"

	"github.com/kaizencorps/stache/pkg/custody"
)

// Memory is a custody.Directory backed by maps. Safe for concurrent use.
type Memory struct {
	mu        sync.RWMutex
	keychains map[custody.Key]map[custody.Key]bool
}

var _ custody.Directory = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{keychains: make(map[custody.Key]map[custody.Key]bool)}
}

// AddKey lists identity on keychain. Verified keys may create and destroy
// treasuries.
func (m *Memory) AddKey(keychain, identity custody.Key, verified bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.keychains[keychain]
	if !ok {
		keys = make(map[custody.Key]bool)
		m.keychains[keychain] = keys
	}
	keys[identity] = verified
}

// RemoveKey delists identity. Removing an absent key is a no-op.
func (m *Memory) RemoveKey(keychain, identity custody.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keychains[keychain], identity)
}

func (m *Memory) HasKey(_ context.Context, keychain, identity custody.Key) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keychains[keychain][identity]
	return ok, nil
}

func (m *Memory) HasVerifiedKey(_ context.Context, keychain, identity custody.Key) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keychains[keychain][identity], nil
}
