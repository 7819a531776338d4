// Package crypto provides the cryptographic primitives of the confide
// protocol: identity key generation, key export and import, ECDH key
// agreement and authenticated message sealing.
//
// # Algorithm Suite
//
//   - ECDH over NIST P-256: identity keys and key agreement. The shared key
//     is the raw 32-byte X coordinate of the shared point, as WebCrypto
//     produces it for an AES-GCM-256 deriveKey target.
//
//   - AES-256-GCM: authenticated encryption of the UTF-8 message bytes with
//     a fresh random 96-bit nonce per message.
//
//   - HKDF-SHA-512 (RFC 5869): only used to derive fixed-length replay keys
//     when hashed replay keying is enabled.
//
// # Wire Formats
//
// Public keys are SubjectPublicKeyInfo DER and private keys are PKCS#8 DER,
// both standard base64 with padding. An envelope is
//
//	base64( nonce[12] || ciphertext || tag[16] )
//
// and carries no sender or recipient identifiers.
//
// # Security Notes
//
// AES-GCM nonces MUST be unique for each encryption with the same key. The
// shared key for a pair of identities never changes, so [Seal] always draws
// a new nonce from crypto/rand.
//
// [Open] reports every failure as [ErrAuthenticationFailed] so a caller
// cannot tell a wrong key from a tampered envelope.
package crypto
