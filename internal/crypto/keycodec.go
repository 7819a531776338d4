package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
)

// Keypair is a P-256 ECDH identity keypair. It is usable for key agreement
// only; no signing operation is exposed.
type Keypair struct {
	// PublicKey is the public half.
	PublicKey *ecdh.PublicKey
	// PrivateKey is the private half.
	PrivateKey *ecdh.PrivateKey
}

// GenerateKeypair creates a new P-256 ECDH keypair.
func GenerateKeypair() (*Keypair, error) {
	priv, err := ecdh.P256().GenerateKey(random())
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Keypair{
		PublicKey:  priv.PublicKey(),
		PrivateKey: priv,
	}, nil
}

// Export returns both halves as text: SubjectPublicKeyInfo and PKCS#8 DER,
// each standard-base64 encoded.
func (k *Keypair) Export() (publicText, privateText string, err error) {
	publicText, err = ExportPublicKey(k.PublicKey)
	if err != nil {
		return "", "", err
	}
	privateText, err = ExportPrivateKey(k.PrivateKey)
	if err != nil {
		return "", "", err
	}
	return publicText, privateText, nil
}

// ExportPublicKey encodes a public key as base64 SubjectPublicKeyInfo DER.
// The output is deterministic for a given key.
func ExportPublicKey(key *ecdh.PublicKey) (string, error) {
	if key == nil {
		return "", fmt.Errorf("%w: nil public key", ErrMalformedKey)
	}
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: marshal public key: %v", ErrMalformedKey, err)
	}
	return ToBase64(der), nil
}

// ExportPrivateKey encodes a private key as base64 PKCS#8 DER.
func ExportPrivateKey(key *ecdh.PrivateKey) (string, error) {
	if key == nil {
		return "", fmt.Errorf("%w: nil private key", ErrMalformedKey)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: marshal private key: %v", ErrMalformedKey, err)
	}
	return ToBase64(der), nil
}

// ImportPublicKey parses text produced by ExportPublicKey or by WebCrypto's
// exportKey("spki"). Anything that is not a P-256 EC public key fails with
// ErrMalformedKey.
func ImportPublicKey(text string) (*ecdh.PublicKey, error) {
	der, err := FromBase64(text)
	if err != nil {
		return nil, fmt.Errorf("%w: decode public key: %v", ErrMalformedKey, err)
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", ErrMalformedKey, err)
	}

	var pub *ecdh.PublicKey
	switch k := parsed.(type) {
	case *ecdsa.PublicKey:
		pub, err = k.ECDH()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
	case *ecdh.PublicKey:
		pub = k
	default:
		return nil, fmt.Errorf("%w: unsupported public key type %T", ErrMalformedKey, parsed)
	}

	if pub.Curve() != ecdh.P256() {
		return nil, fmt.Errorf("%w: public key is not on %s", ErrMalformedKey, CurveName)
	}
	return pub, nil
}

// ImportPrivateKey parses text produced by ExportPrivateKey or by WebCrypto's
// exportKey("pkcs8"). Anything that is not a P-256 EC private key fails with
// ErrMalformedKey.
func ImportPrivateKey(text string) (*ecdh.PrivateKey, error) {
	der, err := FromBase64(text)
	if err != nil {
		return nil, fmt.Errorf("%w: decode private key: %v", ErrMalformedKey, err)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrMalformedKey, err)
	}

	var priv *ecdh.PrivateKey
	switch k := parsed.(type) {
	case *ecdsa.PrivateKey:
		priv, err = k.ECDH()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedKey, err)
		}
	case *ecdh.PrivateKey:
		priv = k
	default:
		return nil, fmt.Errorf("%w: unsupported private key type %T", ErrMalformedKey, parsed)
	}

	if priv.Curve() != ecdh.P256() {
		return nil, fmt.Errorf("%w: private key is not on %s", ErrMalformedKey, CurveName)
	}
	return priv, nil
}

// KeypairFromPrivateText reconstructs a keypair from exported private key
// text. The public half is derived from the private scalar.
func KeypairFromPrivateText(text string) (*Keypair, error) {
	priv, err := ImportPrivateKey(text)
	if err != nil {
		return nil, err
	}
	return &Keypair{
		PublicKey:  priv.PublicKey(),
		PrivateKey: priv,
	}, nil
}
