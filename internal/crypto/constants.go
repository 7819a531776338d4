package crypto

const (
	// CurveName is the named curve used for identity keys. Browser clients
	// generate keys with WebCrypto {name: "ECDH", namedCurve: "P-256"}.
	CurveName = "P-256"

	// SharedKeySize is the size of the ECDH-derived AES key in bytes.
	SharedKeySize = 32

	// AESKeySize is the size of an AES-256 key in bytes.
	AESKeySize = 32
	// AESNonceSize is the size of an AES-GCM nonce in bytes.
	AESNonceSize = 12
	// AESTagSize is the size of an AES-GCM authentication tag in bytes.
	AESTagSize = 16

	// MinEnvelopeSize is the smallest decoded envelope: a nonce followed by
	// the tag of an empty message.
	MinEnvelopeSize = AESNonceSize + AESTagSize

	// ReplayKeyContext is the HKDF info string for hashed replay keys.
	ReplayKeyContext = "confide:replay:v1"

	// ReplayKeySize is the length in bytes of a hashed replay key.
	ReplayKeySize = 32
)
