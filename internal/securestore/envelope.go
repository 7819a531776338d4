// Package securestore seals small secrets under a passphrase with
// Argon2id and XChaCha20-Poly1305. It is used for private keys at rest in
// the local key store and for the optional wrapped server backup.
package securestore

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	kdfName         = "argon2id"

	// Prefix marks sealed text so it can be told apart from a bare
	// base64 PKCS#8 key.
	Prefix = "confenc1:"
)

// Argon2id cost parameters.
const (
	DefaultKDFTime     = uint32(2)
	DefaultKDFMemoryKB = uint32(64 * 1024)
	DefaultKDFThreads  = uint8(1)
)

// Errors returned by the seal and open functions.
var (
	ErrAuthFailed = errors.New("securestore authentication failed")
	ErrInvalid    = errors.New("securestore envelope is invalid")
	ErrNotSealed  = errors.New("securestore text is not sealed")
	ErrEmptyPass  = errors.New("securestore passphrase is empty")
)

// Envelope is the serialized form of a sealed value. The key is derived
// from the passphrase with Argon2id using the recorded parameters.
type Envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// IsSealed reports whether text was produced by SealString.
func IsSealed(text string) bool {
	return strings.HasPrefix(text, Prefix)
}

// SealString seals plaintext and returns Prefix followed by the base64 JSON
// envelope, suitable for a text column.
func SealString(passphrase, plaintext string) (string, error) {
	env, err := EncryptEnvelope(passphrase, []byte(plaintext))
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return Prefix + base64.StdEncoding.EncodeToString(raw), nil
}

// OpenString reverses SealString.
func OpenString(passphrase, text string) (string, error) {
	if !IsSealed(text) {
		return "", ErrNotSealed
	}
	raw, err := base64.StdEncoding.DecodeString(text[len(Prefix):])
	if err != nil {
		return "", ErrInvalid
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", ErrInvalid
	}
	plaintext, err := DecryptEnvelope(passphrase, &env)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncryptEnvelope seals plaintext under a key derived from passphrase with a
// fresh salt and nonce.
func EncryptEnvelope(passphrase string, plaintext []byte) (*Envelope, error) {
	if passphrase == "" {
		return nil, ErrEmptyPass
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, salt, DefaultKDFTime, DefaultKDFMemoryKB, DefaultKDFThreads)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &Envelope{
		Version:     envelopeVersion,
		KDF:         kdfName,
		KDFTime:     DefaultKDFTime,
		KDFMemoryKB: DefaultKDFMemoryKB,
		KDFThreads:  DefaultKDFThreads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  ciphertext,
	}, nil
}

// DecryptEnvelope opens env. A wrong passphrase or altered envelope fails
// with ErrAuthFailed.
func DecryptEnvelope(passphrase string, env *Envelope) ([]byte, error) {
	if passphrase == "" {
		return nil, ErrEmptyPass
	}
	if env == nil || env.Version != envelopeVersion || env.KDF != kdfName {
		return nil, ErrInvalid
	}
	if len(env.Salt) != saltSize || len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrInvalid
	}
	// Bound attacker-supplied cost parameters.
	if env.KDFTime == 0 || env.KDFTime > 16 || env.KDFMemoryKB == 0 || env.KDFMemoryKB > 1024*1024 || env.KDFThreads == 0 {
		return nil, ErrInvalid
	}
	key := deriveKey(passphrase, env.Salt, env.KDFTime, env.KDFMemoryKB, env.KDFThreads)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func deriveKey(passphrase string, salt []byte, time, memoryKB uint32, threads uint8) []byte {
	return argon2.IDKey([]byte(passphrase), salt, time, memoryKB, threads, chacha20poly1305.KeySize)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
