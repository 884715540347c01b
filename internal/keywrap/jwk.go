package keywrap

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// MinModulusBits is the smallest RSA modulus accepted for a wrapping key.
const MinModulusBits = 2048

// PublicJWK is the subset of an RSA public JSON Web Key that clients register
// as their current device key.
type PublicJWK struct {
	Kty    string   `json:"kty"`
	N      string   `json:"n"`
	E      string   `json:"e"`
	Alg    string   `json:"alg,omitempty"`
	Ext    *bool    `json:"ext,omitempty"`
	KeyOps []string `json:"key_ops,omitempty"`
}

// ParsePublicJWK decodes a JWK document. It does not normalize or validate the
// key material; ImportPublicKey does that.
func ParsePublicJWK(data []byte) (PublicJWK, error) {
	var k PublicJWK
	if len(data) == 0 {
		return k, fmt.Errorf("%w: empty document", ErrInvalidPublicKey)
	}
	if err := json.Unmarshal(data, &k); err != nil {
		return k, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return k, nil
}

// NormalizePublicKey rewrites the modulus and exponent into unpadded URL-safe
// base64. Browsers and older app builds send either alphabet, with or without
// padding, and key import only accepts the canonical form.
func NormalizePublicKey(k PublicJWK) (PublicJWK, error) {
	n, err := canonicalB64(k.N)
	if err != nil {
		return PublicJWK{}, fmt.Errorf("%w: modulus: %v", ErrInvalidPublicKey, err)
	}
	e, err := canonicalB64(k.E)
	if err != nil {
		return PublicJWK{}, fmt.Errorf("%w: exponent: %v", ErrInvalidPublicKey, err)
	}
	out := k
	out.N = n
	out.E = e
	if len(k.KeyOps) > 0 {
		out.KeyOps = append([]string(nil), k.KeyOps...)
	}
	return out, nil
}

// ImportPublicKey normalizes k and converts it into an *rsa.PublicKey.
func ImportPublicKey(k PublicJWK) (*rsa.PublicKey, error) {
	if !strings.EqualFold(strings.TrimSpace(k.Kty), "RSA") {
		return nil, fmt.Errorf("%w: unsupported kty %q", ErrInvalidPublicKey, k.Kty)
	}
	norm, err := NormalizePublicKey(k)
	if err != nil {
		return nil, err
	}
	nb, err := base64.RawURLEncoding.DecodeString(norm.N)
	if err != nil {
		return nil, fmt.Errorf("%w: modulus: %v", ErrInvalidPublicKey, err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(norm.E)
	if err != nil {
		return nil, fmt.Errorf("%w: exponent: %v", ErrInvalidPublicKey, err)
	}
	if len(eb) == 0 || len(eb) > 4 {
		return nil, fmt.Errorf("%w: exponent length %d", ErrInvalidPublicKey, len(eb))
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e < 3 || e%2 == 0 {
		return nil, fmt.Errorf("%w: exponent %d", ErrInvalidPublicKey, e)
	}
	n := new(big.Int).SetBytes(nb)
	if n.BitLen() < MinModulusBits {
		return nil, fmt.Errorf("%w: modulus is %d bits, need at least %d", ErrInvalidPublicKey, n.BitLen(), MinModulusBits)
	}
	return &rsa.PublicKey{N: n, E: e}, nil
}

// PublicJWKFromKey renders pub in canonical JWK form.
func PublicJWKFromKey(pub *rsa.PublicKey) PublicJWK {
	e := big.NewInt(int64(pub.E)).Bytes()
	return PublicJWK{
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(e),
		Alg: Algorithm,
	}
}

// Marshal encodes k as JSON.
func (k PublicJWK) Marshal() ([]byte, error) {
	return json.Marshal(k)
}

func canonicalB64(s string) (string, error) {
	s = strings.NewReplacer("+", "-", "/", "_", "\r", "", "\n", "").Replace(strings.TrimSpace(s))
	s = strings.TrimRight(s, "=")
	if s == "" {
		return "", fmt.Errorf("empty value")
	}
	if _, err := base64.RawURLEncoding.DecodeString(s); err != nil {
		return "", err
	}
	return s, nil
}
