package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"testing"
)

func TestEncryptAES_DecryptAES_RoundTrip(t *testing.T) {
	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"empty", []byte{}},
		{"simple", []byte("hello world")},
		{"json", []byte(`{"foo": "bar", "num": 123}`)},
		{"binary", []byte{0x00, 0xff, 0x7f, 0x80}},
		{"large", make([]byte, 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := make([]byte, AESKeySize)
			if _, err := rand.Read(key); err != nil {
				t.Fatal(err)
			}

			nonce := make([]byte, AESNonceSize)
			if _, err := rand.Read(nonce); err != nil {
				t.Fatal(err)
			}

			ciphertext, err := EncryptAES(key, tt.plaintext, nonce)
			if err != nil {
				t.Fatalf("EncryptAES() error = %v", err)
			}

			// Ciphertext should be nonce + ciphertext + tag
			expectedLen := AESNonceSize + len(tt.plaintext) + AESTagSize
			if len(ciphertext) != expectedLen {
				t.Errorf("ciphertext length = %d, want %d", len(ciphertext), expectedLen)
			}

			if !bytes.Equal(ciphertext[:AESNonceSize], nonce) {
				t.Error("ciphertext doesn't start with nonce")
			}

			decrypted, err := DecryptAES(key, ciphertext)
			if err != nil {
				t.Fatalf("DecryptAES() error = %v", err)
			}

			if !bytes.Equal(decrypted, tt.plaintext) {
				t.Errorf("decrypted = %v, want %v", decrypted, tt.plaintext)
			}
		})
	}
}

func TestEncryptAES_InvalidKeySize(t *testing.T) {
	tests := []struct {
		name    string
		keySize int
	}{
		{"empty", 0},
		{"too short", 16},
		{"too long", 64},
	}

	nonce := make([]byte, AESNonceSize)
	plaintext := []byte("test")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := make([]byte, tt.keySize)
			_, err := EncryptAES(key, plaintext, nonce)
			if !errors.Is(err, ErrInvalidKeySize) {
				t.Errorf("expected ErrInvalidKeySize, got %v", err)
			}
		})
	}
}

func TestEncryptAES_InvalidNonceSize(t *testing.T) {
	tests := []struct {
		name      string
		nonceSize int
	}{
		{"empty", 0},
		{"too short", 8},
		{"too long", 16},
	}

	key := make([]byte, AESKeySize)
	plaintext := []byte("test")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nonce := make([]byte, tt.nonceSize)
			_, err := EncryptAES(key, plaintext, nonce)
			if !errors.Is(err, ErrInvalidNonceSize) {
				t.Errorf("expected ErrInvalidNonceSize, got %v", err)
			}
		})
	}
}

func TestDecryptAES_CiphertextTooShort(t *testing.T) {
	key := make([]byte, AESKeySize)

	tests := []struct {
		name   string
		length int
	}{
		{"empty", 0},
		{"only nonce", AESNonceSize},
		{"nonce plus partial tag", AESNonceSize + AESTagSize - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext := make([]byte, tt.length)
			_, err := DecryptAES(key, ciphertext)
			if !errors.Is(err, ErrAuthenticationFailed) {
				t.Errorf("expected ErrAuthenticationFailed, got %v", err)
			}
		})
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{"empty", ""},
		{"hello", "hello"},
		{"multi-byte", "héllo wörld, こんにちは, 🔐"},
		{"newlines", "line one\nline two\r\n"},
	}

	key := make([]byte, AESKeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope, err := Seal(tt.message, key)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}

			got, err := Open(envelope, key)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if got != tt.message {
				t.Errorf("Open() = %q, want %q", got, tt.message)
			}
		})
	}
}

func TestSeal_FreshNonce(t *testing.T) {
	key := make([]byte, AESKeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}

	first, err := Seal("same message", key)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Seal("same message", key)
	if err != nil {
		t.Fatal(err)
	}

	if first == second {
		t.Error("two seals of the same message produced identical envelopes")
	}
}

func TestSeal_RandReaderFailure(t *testing.T) {
	restore := SetRandReaderForTesting(bytes.NewReader(make([]byte, AESNonceSize-1)))
	defer restore()

	if _, err := Seal("hello", make([]byte, AESKeySize)); err == nil {
		t.Error("expected error from exhausted random source")
	}
}

func TestOpen_TamperedEnvelope(t *testing.T) {
	key := make([]byte, AESKeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}

	envelope, err := Seal("sensitive data", key)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := FromBase64(envelope)
	if err != nil {
		t.Fatal(err)
	}

	// Every single-byte flip, including nonce and tag bytes, must fail.
	for i := range raw {
		tampered := bytes.Clone(raw)
		tampered[i] ^= 0x01

		_, err := Open(ToBase64(tampered), key)
		if !errors.Is(err, ErrAuthenticationFailed) {
			t.Fatalf("byte %d: expected ErrAuthenticationFailed, got %v", i, err)
		}
	}
}

func TestOpen_WrongKey(t *testing.T) {
	key1 := make([]byte, AESKeySize)
	key2 := make([]byte, AESKeySize)
	if _, err := rand.Read(key1); err != nil {
		t.Fatal(err)
	}
	if _, err := rand.Read(key2); err != nil {
		t.Fatal(err)
	}

	envelope, err := Seal("sensitive data", key1)
	if err != nil {
		t.Fatal(err)
	}

	_, err = Open(envelope, key2)
	if err != ErrAuthenticationFailed {
		t.Errorf("expected bare ErrAuthenticationFailed, got %v", err)
	}
}

func TestOpen_MalformedEnvelope(t *testing.T) {
	key := make([]byte, AESKeySize)

	tests := []struct {
		name     string
		envelope string
	}{
		{"empty", ""},
		{"not base64", "not-base64!!"},
		{"too short", ToBase64(make([]byte, MinEnvelopeSize-1))},
		{"url alphabet", "-_-_-_-_-_-_-_-_-_-_-_-_-_-_-_-_-_-_-_-_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.envelope, key)
			if err != ErrAuthenticationFailed {
				t.Errorf("expected bare ErrAuthenticationFailed, got %v", err)
			}
		})
	}
}

func TestOpen_NonCanonicalEncodingRejected(t *testing.T) {
	key := make([]byte, AESKeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}

	envelope, err := Seal("once", key)
	if err != nil {
		t.Fatal(err)
	}

	// Same bytes, different text: the decoder would skip the newline.
	variant := envelope[:4] + "\n" + envelope[4:]

	if _, err := Open(variant, key); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("expected ErrAuthenticationFailed for non-canonical text, got %v", err)
	}
}

func TestOpen_InvalidKeySize(t *testing.T) {
	_, err := Open("AAAA", make([]byte, 16))
	if !errors.Is(err, ErrInvalidKeySize) {
		t.Errorf("expected ErrInvalidKeySize, got %v", err)
	}
}

func BenchmarkSeal(b *testing.B) {
	key := make([]byte, AESKeySize)
	rand.Read(key)
	message := string(make([]byte, 1000))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Seal(message, key)
	}
}

func BenchmarkOpen(b *testing.B) {
	key := make([]byte, AESKeySize)
	rand.Read(key)
	envelope, _ := Seal(string(make([]byte, 1000)), key)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = Open(envelope, key)
	}
}

// Example_sealOpen demonstrates sealing and opening a message with a shared key.
func Example_sealOpen() {
	key := make([]byte, AESKeySize)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}

	envelope, err := Seal("Hello, World!", key)
	if err != nil {
		panic(err)
	}

	message, err := Open(envelope, key)
	if err != nil {
		panic(err)
	}

	fmt.Println(message)
	// Output: Hello, World!
}
