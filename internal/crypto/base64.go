package crypto

import (
	"encoding/base64"
	"fmt"
)

// strictStd rejects non-zero padding bits, so every byte string has exactly
// one accepted encoding (apart from line breaks, see DecodeEnvelope).
var strictStd = base64.StdEncoding.Strict()

// ToBase64 encodes bytes to standard base64 with padding.
// This matches the browser's btoa output used for keys and envelopes.
func ToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// FromBase64 decodes standard base64 (with padding) to bytes.
func FromBase64(s string) ([]byte, error) {
	return strictStd.DecodeString(s)
}

// DecodeEnvelope decodes envelope text and checks that it is the canonical
// encoding of its bytes. The decoder skips '\r' and '\n', so the re-encode
// comparison is what rejects alternate spellings of the same ciphertext.
func DecodeEnvelope(s string) ([]byte, error) {
	raw, err := strictStd.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", ErrAuthenticationFailed, err)
	}
	if ToBase64(raw) != s {
		return nil, fmt.Errorf("%w: non-canonical envelope encoding", ErrAuthenticationFailed)
	}
	return raw, nil
}
