package authz

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

// JWKSValidator accepts tokens signed by any key in a remote JWKS.
type JWKSValidator struct {
	jwks     *keyfunc.JWKS
	issuer   string
	audience string
}

func NewJWKSValidator(jwksURL, issuer, audience string) (*JWKSValidator, error) {
	options := keyfunc.Options{
		RefreshInterval:   time.Minute * 15,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
	jwks, err := keyfunc.Get(jwksURL, options)
	if err != nil {
		return nil, err
	}
	return &JWKSValidator{jwks: jwks, issuer: issuer, audience: audience}, nil
}

// NewJWKSValidatorFromJSON builds a validator from a static JWKS document.
func NewJWKSValidatorFromJSON(doc []byte, issuer, audience string) (*JWKSValidator, error) {
	jwks, err := keyfunc.NewJSON(json.RawMessage(doc))
	if err != nil {
		return nil, err
	}
	return &JWKSValidator{jwks: jwks, issuer: issuer, audience: audience}, nil
}

func (j *JWKSValidator) Verify(tokStr string) (string, error) {
	token, err := jwt.Parse(tokStr, j.jwks.Keyfunc)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	if j.issuer != "" && !claims.VerifyIssuer(j.issuer, true) {
		return "", fmt.Errorf("%w: issuer mismatch", ErrInvalidToken)
	}
	if j.audience != "" && !claims.VerifyAudience(j.audience, true) {
		return "", fmt.Errorf("%w: audience mismatch", ErrInvalidToken)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return sub, nil
}

func (j *JWKSValidator) Handler() func(http.Handler) http.Handler { return Middleware("jwks", j) }

// Close stops the background refresh goroutine.
func (j *JWKSValidator) Close() { j.jwks.EndBackground() }
