package keystore

import (
	"context"
	"sync"
)

// Memory is an in-memory Store. Contents are lost when the process exits.
type Memory struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{keys: make(map[string]string)}
}

// Put stores privateKeyText for identityID, replacing any earlier value.
func (m *Memory) Put(ctx context.Context, identityID, privateKeyText string) error {
	if err := validateIdentity(identityID); err != nil {
		return err
	}
	if privateKeyText == "" {
		return ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]string)
	}
	m.keys[identityID] = privateKeyText
	return nil
}

// Get returns the stored key text and whether one exists.
func (m *Memory) Get(ctx context.Context, identityID string) (string, bool, error) {
	if err := validateIdentity(identityID); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	text, ok := m.keys[identityID]
	return text, ok, nil
}

// Delete removes the key of identityID. Deleting a missing key is not an error.
func (m *Memory) Delete(ctx context.Context, identityID string) error {
	if err := validateIdentity(identityID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, identityID)
	return nil
}
