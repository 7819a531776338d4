package confide

import (
	"context"
	"errors"
	"fmt"

	"github.com/zingerfi/confide-go/internal/crypto"
)

// ReplayKeying selects how an envelope maps to its decryption-record key.
type ReplayKeying int

const (
	// ReplayKeyLiteral keys records on the envelope text itself.
	ReplayKeyLiteral ReplayKeying = iota
	// ReplayKeyHashed keys records on a domain-separated hash of the
	// decoded envelope bytes.
	ReplayKeyHashed
)

// String returns the configuration name of the keying mode.
func (k ReplayKeying) String() string {
	switch k {
	case ReplayKeyLiteral:
		return "literal"
	case ReplayKeyHashed:
		return "hashed"
	default:
		return fmt.Sprintf("ReplayKeying(%d)", int(k))
	}
}

// ParseReplayKeying parses "literal" or "hashed". The empty string selects
// ReplayKeyLiteral.
func ParseReplayKeying(s string) (ReplayKeying, error) {
	switch s {
	case "", "literal":
		return ReplayKeyLiteral, nil
	case "hashed":
		return ReplayKeyHashed, nil
	default:
		return 0, fmt.Errorf("unknown replay keying %q", s)
	}
}

// ReplayGuard enforces single-use decryption over a ReplayStore. Check runs
// before any key is touched; Record runs only after a successful open.
type ReplayGuard struct {
	store  ReplayStore
	keying ReplayKeying
}

// NewReplayGuard creates a ReplayGuard over store.
func NewReplayGuard(store ReplayStore, keying ReplayKeying) *ReplayGuard {
	return &ReplayGuard{store: store, keying: keying}
}

// Key returns the decryption-record key for envelope. Envelope text that is
// not canonical base64 fails with ErrAuthenticationFailed, so one
// ciphertext cannot be presented under two spellings.
func (g *ReplayGuard) Key(envelope string) (string, error) {
	if g.keying == ReplayKeyHashed {
		return crypto.DeriveReplayKey(envelope)
	}
	if _, err := crypto.DecodeEnvelope(envelope); err != nil {
		return "", err
	}
	return envelope, nil
}

// Check returns nil if envelope has not been decrypted yet and
// ErrAlreadyDecrypted if it has.
func (g *ReplayGuard) Check(ctx context.Context, envelope string) error {
	key, err := g.Key(envelope)
	if err != nil {
		return err
	}
	claimed, err := g.store.IsClaimed(ctx, key)
	if err != nil {
		return fmt.Errorf("replay check: %w", err)
	}
	if claimed {
		return ErrAlreadyDecrypted
	}
	return nil
}

// Record marks envelope as decrypted by claimantID. Losing a race to
// another claimant returns ErrAlreadyDecrypted.
func (g *ReplayGuard) Record(ctx context.Context, envelope, claimantID string) error {
	key, err := g.Key(envelope)
	if err != nil {
		return err
	}
	if err := g.store.Claim(ctx, key, claimantID); err != nil {
		if errors.Is(err, ErrAlreadyDecrypted) {
			return ErrAlreadyDecrypted
		}
		return fmt.Errorf("replay record: %w", err)
	}
	return nil
}
