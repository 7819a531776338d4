package confide

import (
	"context"
	"errors"

	"github.com/zingerfi/confide-go/internal/api"
)

// Profile is an identity's record in the external profile store.
// PublicKey and PrivateKeyBackup are empty until the identity is provisioned.
type Profile struct {
	ID               string
	PublicKey        string
	PrivateKeyBackup string
}

// ProfileStore is the external identity/profile store. It is the source of
// truth for whether an identity exists and has published a key.
type ProfileStore interface {
	// GetProfile returns the identity's record, or an error matching
	// ErrProfileNotFound when the record does not exist yet.
	GetProfile(ctx context.Context, identityID string) (*Profile, error)
	// PublishKeys writes the public key and private key backup of an
	// identity. It is called once, during provisioning.
	PublishKeys(ctx context.Context, identityID, publicKey, privateKeyBackup string) error
}

// ReplayStore is the external persistence behind the replay guard: one
// record per distinct message key, unique on the key.
type ReplayStore interface {
	// IsClaimed reports whether a record exists for key.
	IsClaimed(ctx context.Context, key string) (bool, error)
	// Claim inserts a record for key. It must fail with an error matching
	// ErrAlreadyDecrypted if a record already exists, atomically with
	// respect to concurrent callers.
	Claim(ctx context.Context, key, claimantID string) error
}

// apiProfileStore adapts the HTTP backend to ProfileStore.
type apiProfileStore struct {
	client *api.Client
}

func (s *apiProfileStore) GetProfile(ctx context.Context, identityID string) (*Profile, error) {
	p, err := s.client.GetProfile(ctx, identityID)
	if err != nil {
		return nil, wrapError(err)
	}
	return &Profile{
		ID:               p.ID,
		PublicKey:        p.PublicKey,
		PrivateKeyBackup: p.PrivateKeyBackup,
	}, nil
}

func (s *apiProfileStore) PublishKeys(ctx context.Context, identityID, publicKey, privateKeyBackup string) error {
	return wrapError(s.client.UpdateProfileKeys(ctx, identityID, api.UpdateKeysRequest{
		PublicKey:        publicKey,
		PrivateKeyBackup: privateKeyBackup,
	}))
}

// apiReplayStore adapts the HTTP backend's decryption-record table to
// ReplayStore. Uniqueness is enforced server-side.
type apiReplayStore struct {
	client *api.Client
}

func (s *apiReplayStore) IsClaimed(ctx context.Context, key string) (bool, error) {
	_, err := s.client.GetDecryption(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, api.ErrDecryptionNotFound):
		return false, nil
	default:
		return false, wrapError(err)
	}
}

func (s *apiReplayStore) Claim(ctx context.Context, key, claimantID string) error {
	_, err := s.client.CreateDecryption(ctx, api.CreateDecryptionRequest{
		MessageKey:  key,
		DecryptedBy: claimantID,
	})
	if errors.Is(err, api.ErrAlreadyRecorded) {
		return ErrAlreadyDecrypted
	}
	return wrapError(err)
}
