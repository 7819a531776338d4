// Package keystore persists identity private keys on the local device.
//
// Values are the base64 PKCS#8 text produced by the crypto package and are
// treated as opaque strings. Nothing in this package talks to the network.
package keystore

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	// ErrEmptyIdentity is returned when an identity id is blank.
	ErrEmptyIdentity = errors.New("identity id is required")

	// ErrEmptyKey is returned when Put is called with blank key text.
	ErrEmptyKey = errors.New("private key text is required")
)

// Store is a durable, identity-scoped private key store.
//
// Get returns ok == false with a nil error when nothing is stored for the
// identity. Put overwrites any previous value; concurrent Puts for one
// identity are serialized and the last one wins.
type Store interface {
	Put(ctx context.Context, identityID, privateKeyText string) error
	Get(ctx context.Context, identityID string) (privateKeyText string, ok bool, err error)
	Delete(ctx context.Context, identityID string) error
}

func validateIdentity(identityID string) error {
	if strings.TrimSpace(identityID) == "" {
		return ErrEmptyIdentity
	}
	return nil
}

// identityLocks hands out one mutex per identity so writers for different
// identities never wait on each other.
type identityLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *identityLocks) lock(identityID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[identityID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[identityID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
