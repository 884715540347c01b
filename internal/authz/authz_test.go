package authz

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwtv4 "github.com/golang-jwt/jwt/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "dev-secret"
	testIssuer   = "auth"
	testAudience = "escrow"
)

func echoSubject() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, _ := SubjectFrom(r.Context())
		_, _ = w.Write([]byte(sub))
	})
}

func call(t *testing.T, h http.Handler, authHeader string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/keys/rotate", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHMACValidatorAcceptsSignedToken(t *testing.T) {
	signer, err := NewSigner(testSecret, testIssuer, testAudience)
	require.NoError(t, err)
	tok, err := signer.Sign("b7c5c0de-0000-4000-8000-000000000001", time.Minute)
	require.NoError(t, err)

	h := NewHMACValidator(testSecret, testIssuer, testAudience).Handler()(echoSubject())
	rec := call(t, h, "Bearer "+tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "b7c5c0de-0000-4000-8000-000000000001", rec.Body.String())
}

func TestHMACValidatorRejects(t *testing.T) {
	good, err := NewSigner(testSecret, testIssuer, testAudience)
	require.NoError(t, err)
	otherSecret, err := NewSigner("other", testIssuer, testAudience)
	require.NoError(t, err)
	otherIssuer, err := NewSigner(testSecret, "someone-else", testAudience)
	require.NoError(t, err)
	otherAudience, err := NewSigner(testSecret, testIssuer, "gateway")
	require.NoError(t, err)

	mint := func(s *Signer, sub string, ttl time.Duration) string {
		tok, err := s.Sign(sub, ttl)
		require.NoError(t, err)
		return tok
	}
	noneTok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "x", "iss": testIssuer, "aud": testAudience, "exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]struct {
		header  string
		wantErr string
	}{
		"no header":      {"", ErrMissingToken.Error()},
		"basic auth":     {"Basic Zm9vOmJhcg==", ErrMissingToken.Error()},
		"empty bearer":   {"Bearer   ", ErrMissingToken.Error()},
		"wrong secret":   {"Bearer " + mint(otherSecret, "x", time.Minute), ErrInvalidToken.Error()},
		"wrong issuer":   {"Bearer " + mint(otherIssuer, "x", time.Minute), ErrInvalidToken.Error()},
		"wrong audience": {"Bearer " + mint(otherAudience, "x", time.Minute), ErrInvalidToken.Error()},
		"expired":        {"Bearer " + mint(good, "x", -time.Minute), ErrInvalidToken.Error()},
		"no subject":     {"Bearer " + mint(good, "", time.Minute), ErrInvalidToken.Error()},
		"alg none":       {"Bearer " + noneTok, ErrInvalidToken.Error()},
	}

	h := NewHMACValidator(testSecret, testIssuer, testAudience).Handler()(echoSubject())
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := call(t, h, tc.header)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.wantErr, body["error"])
		})
	}
}

func TestNewSignerRequiresSecret(t *testing.T) {
	_, err := NewSigner("", testIssuer, "")
	require.Error(t, err)
}

func TestSubjectFromEmptyContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := SubjectFrom(req.Context())
	assert.False(t, ok)
}

func jwksDoc(t *testing.T, kid string, pub *rsa.PublicKey) []byte {
	t.Helper()
	doc := map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func TestJWKSValidator(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	stranger, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v, err := NewJWKSValidatorFromJSON(jwksDoc(t, "k1", &priv.PublicKey), testIssuer, testAudience)
	require.NoError(t, err)
	defer v.Close()

	sign := func(key *rsa.PrivateKey, claims jwtv4.MapClaims) string {
		tok := jwtv4.NewWithClaims(jwtv4.SigningMethodRS256, claims)
		tok.Header["kid"] = "k1"
		s, err := tok.SignedString(key)
		require.NoError(t, err)
		return s
	}
	exp := time.Now().Add(time.Minute).Unix()

	sub, err := v.Verify(sign(priv, jwtv4.MapClaims{"sub": "p1", "iss": testIssuer, "aud": testAudience, "exp": exp}))
	require.NoError(t, err)
	assert.Equal(t, "p1", sub)

	_, err = v.Verify(sign(stranger, jwtv4.MapClaims{"sub": "p1", "iss": testIssuer, "aud": testAudience, "exp": exp}))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(sign(priv, jwtv4.MapClaims{"sub": "p1", "iss": "nope", "aud": testAudience, "exp": exp}))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(sign(priv, jwtv4.MapClaims{"sub": "p1", "iss": testIssuer, "aud": "gateway", "exp": exp}))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(sign(priv, jwtv4.MapClaims{"iss": testIssuer, "aud": testAudience, "exp": exp}))
	assert.ErrorIs(t, err, ErrInvalidToken)

	rec := call(t, v.Handler()(echoSubject()), "Bearer "+sign(priv, jwtv4.MapClaims{"sub": "p2", "iss": testIssuer, "aud": testAudience, "exp": exp}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "p2", rec.Body.String())
}
