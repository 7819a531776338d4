package crypto

import (
	"crypto/ecdh"
	"fmt"
)

// DeriveSharedKey runs ECDH between own and counterpart and returns the
// 256-bit AES key. As in WebCrypto deriveKey({name: "ECDH"}, ..., {name:
// "AES-GCM", length: 256}), the key is the raw X coordinate of the shared
// point with no further KDF, so envelopes interoperate with browser clients.
//
// The result must only be passed to Seal or Open.
func DeriveSharedKey(own *ecdh.PrivateKey, counterpart *ecdh.PublicKey) ([]byte, error) {
	if own == nil || counterpart == nil {
		return nil, fmt.Errorf("%w: missing key", ErrIncompatibleKey)
	}
	if own.Curve() != counterpart.Curve() {
		return nil, fmt.Errorf("%w: private and public key curves differ", ErrIncompatibleKey)
	}

	secret, err := own.ECDH(counterpart)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleKey, err)
	}
	if len(secret) != SharedKeySize {
		return nil, fmt.Errorf("%w: shared secret is %d bytes", ErrIncompatibleKey, len(secret))
	}
	return secret, nil
}
