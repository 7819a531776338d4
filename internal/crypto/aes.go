package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// randReader is the random source used for key generation and nonces.
// It defaults to nil (which uses crypto/rand) but can be overridden for testing.
var randReader io.Reader

func random() io.Reader {
	if randReader != nil {
		return randReader
	}
	return rand.Reader
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AESKeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), AESKeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptAES encrypts data using AES-256-GCM.
// Returns: nonce (12 bytes) || ciphertext || tag (16 bytes)
func EncryptAES(key, plaintext, nonce []byte) ([]byte, error) {
	if len(nonce) != AESNonceSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidNonceSize, len(nonce), AESNonceSize)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, AESNonceSize, AESNonceSize+len(plaintext)+AESTagSize)
	copy(out, nonce)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// DecryptAES decrypts data using AES-256-GCM.
// The ciphertext format is: nonce (12 bytes) || ciphertext || tag (16 bytes)
func DecryptAES(key, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < MinEnvelopeSize {
		return nil, ErrAuthenticationFailed
	}

	plaintext, err := gcm.Open(nil, ciphertext[:AESNonceSize], ciphertext[AESNonceSize:], nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}

// Seal encrypts the UTF-8 bytes of message under key with a fresh random
// nonce and returns the base64 envelope nonce||ciphertext||tag.
func Seal(message string, key []byte) (string, error) {
	nonce := make([]byte, AESNonceSize)
	if _, err := io.ReadFull(random(), nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed, err := EncryptAES(key, []byte(message), nonce)
	if err != nil {
		return "", err
	}
	return ToBase64(sealed), nil
}

// Open reverses Seal. Every failure after the key size check is reported as
// ErrAuthenticationFailed.
func Open(envelope string, key []byte) (string, error) {
	if len(key) != AESKeySize {
		return "", fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), AESKeySize)
	}

	raw, err := DecodeEnvelope(envelope)
	if err != nil {
		return "", ErrAuthenticationFailed
	}

	plaintext, err := DecryptAES(key, raw)
	if err != nil {
		return "", ErrAuthenticationFailed
	}
	return string(plaintext), nil
}
