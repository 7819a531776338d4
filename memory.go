package confide

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryProfileStore is an in-process ProfileStore. It is safe for
// concurrent use.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemoryProfileStore creates an empty MemoryProfileStore.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]Profile)}
}

// CreateProfile adds an empty record for identityID, the way the backend
// creates a profile row when an account signs up. Existing records are
// left unchanged.
func (s *MemoryProfileStore) CreateProfile(identityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[identityID]; !ok {
		s.profiles[identityID] = Profile{ID: identityID}
	}
}

// GetProfile implements ProfileStore.
func (s *MemoryProfileStore) GetProfile(ctx context.Context, identityID string) (*Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[identityID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &p, nil
}

// PublishKeys implements ProfileStore.
func (s *MemoryProfileStore) PublishKeys(ctx context.Context, identityID, publicKey, privateKeyBackup string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[identityID]
	if !ok {
		return ErrProfileNotFound
	}
	p.PublicKey = publicKey
	p.PrivateKeyBackup = privateKeyBackup
	s.profiles[identityID] = p
	return nil
}

// ReplayRecord is one decryption record.
type ReplayRecord struct {
	Key        string
	ClaimantID string
	ClaimedAt  time.Time
}

// MemoryReplayStore is an in-process ReplayStore with an atomic unique
// insert.
type MemoryReplayStore struct {
	mu      sync.Mutex
	records map[string]ReplayRecord
}

// NewMemoryReplayStore creates an empty MemoryReplayStore.
func NewMemoryReplayStore() *MemoryReplayStore {
	return &MemoryReplayStore{records: make(map[string]ReplayRecord)}
}

// IsClaimed implements ReplayStore.
func (s *MemoryReplayStore) IsClaimed(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key]
	return ok, nil
}

// Claim implements ReplayStore.
func (s *MemoryReplayStore) Claim(ctx context.Context, key, claimantID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return fmt.Errorf("claim: %w", ErrAlreadyDecrypted)
	}
	s.records[key] = ReplayRecord{Key: key, ClaimantID: claimantID, ClaimedAt: time.Now().UTC()}
	return nil
}

// Record returns the record for key, if any.
func (s *MemoryReplayStore) Record(key string) (ReplayRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	return r, ok
}

// Len returns the number of records.
func (s *MemoryReplayStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
