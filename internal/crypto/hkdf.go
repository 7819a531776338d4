package crypto

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey derives a key using HKDF-SHA-512.
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	if len(salt) == 0 {
		salt = make([]byte, sha512.Size)
	}

	reader := hkdf.New(sha512.New, secret, salt, info)
	key := make([]byte, length)

	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return key, nil
}

// DeriveReplayKey maps an envelope to a fixed-length hex key for replay
// records. The envelope must be canonical standard base64; it is hashed over
// its decoded bytes so the key does not depend on the text encoding.
func DeriveReplayKey(envelope string) (string, error) {
	raw, err := DecodeEnvelope(envelope)
	if err != nil {
		return "", err
	}
	key, err := DeriveKey(raw, nil, []byte(ReplayKeyContext), ReplayKeySize)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
