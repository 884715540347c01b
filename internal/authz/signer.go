package authz

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer mints HS256 tokens accepted by HMACValidator. It exists for local
// development and the escrowctl tool; production tokens come from the auth
// service.
type Signer struct {
	secret   []byte
	Issuer   string
	Audience string
}

func NewSigner(secret, issuer, audience string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("authz: empty signing secret")
	}
	return &Signer{secret: []byte(secret), Issuer: issuer, Audience: audience}, nil
}

// Sign issues a token for sub valid for ttl.
func (s *Signer) Sign(sub string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.Issuer,
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if s.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
