// Package keywrap wraps and unwraps message content keys under RSA-OAEP
// (SHA-256). Every function is pure: no I/O and no retained key material.
package keywrap

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// Algorithm identifies the wrap scheme recorded in key envelopes.
const Algorithm = "RSA-OAEP-256"

// WrapForPublicKey encrypts raw under the RSA key described by key and returns
// the ciphertext as standard base64. The key is normalized before import.
func WrapForPublicKey(raw []byte, key PublicJWK) (string, error) {
	pub, err := ImportPublicKey(key)
	if err != nil {
		return "", err
	}
	return wrapRSA(raw, pub)
}

// UnwrapWithPrivateKey recovers the raw content key from wrapped. A mismatch
// between ciphertext and key is reported as ErrUnwrap and is not retryable.
func UnwrapWithPrivateKey(wrapped string, priv *rsa.PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", ErrUnwrap)
	}
	ct, err := decodeWrapped(wrapped)
	if err != nil {
		return nil, err
	}
	raw, err := rsa.DecryptOAEP(sha256.New(), nil, priv, ct, nil)
	if err != nil {
		return nil, ErrUnwrap
	}
	return raw, nil
}

// Rewrap unwraps wrapped with priv and wraps the recovered content key for to.
// The plaintext key is zeroed before Rewrap returns.
func Rewrap(wrapped string, priv *rsa.PrivateKey, to PublicJWK) (string, error) {
	pub, err := ImportPublicKey(to)
	if err != nil {
		return "", err
	}
	raw, err := UnwrapWithPrivateKey(wrapped, priv)
	if err != nil {
		return "", err
	}
	defer zero(raw)
	return wrapRSA(raw, pub)
}

func wrapRSA(raw []byte, pub *rsa.PublicKey) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("keywrap: empty content key")
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, raw, nil)
	if err != nil {
		return "", fmt.Errorf("keywrap: encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

func decodeWrapped(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidWrappedKey)
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	s = strings.NewReplacer("+", "-", "/", "_").Replace(strings.TrimRight(s, "="))
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWrappedKey, err)
	}
	return b, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
