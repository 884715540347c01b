package authz

import (
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
)

// HMACValidator accepts HS256 tokens signed with a shared secret.
type HMACValidator struct {
	secret   []byte
	issuer   string
	audience string
}

func NewHMACValidator(secret, issuer, audience string) *HMACValidator {
	return &HMACValidator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}
}

func (h *HMACValidator) Verify(tokStr string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if h.issuer != "" {
		opts = append(opts, jwt.WithIssuer(h.issuer))
	}
	if h.audience != "" {
		opts = append(opts, jwt.WithAudience(h.audience))
	}

	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokStr, &claims, func(*jwt.Token) (interface{}, error) {
		return h.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

func (h *HMACValidator) Handler() func(http.Handler) http.Handler { return Middleware("hmac", h) }
