package crypto

import "errors"

var (
	// ErrMalformedKey is returned when key text does not decode to a valid
	// P-256 key in the expected format.
	ErrMalformedKey = errors.New("malformed key")

	// ErrIncompatibleKey is returned when a private and a public key are not
	// on the same curve.
	ErrIncompatibleKey = errors.New("incompatible key")

	// ErrAuthenticationFailed is returned when an envelope cannot be opened.
	// It does not say whether the key or the ciphertext was at fault.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrInvalidKeySize is returned when the AES key size is invalid.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidNonceSize is returned when the nonce size is invalid.
	ErrInvalidNonceSize = errors.New("invalid nonce size")
)
