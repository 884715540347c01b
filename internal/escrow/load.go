package escrow

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
)

// Source is the raw escrow configuration as read from the environment.
type Source struct {
	// KeysJSON is a JSON object mapping key id to a PEM (or base64 DER)
	// encoded private key.
	KeysJSON string
	// LegacyKey is the PEM of the pre-key-id escrow key, if any.
	LegacyKey string
	ActiveID  string
}

// Load parses src into a Keyset.
func Load(src Source) (*Keyset, error) {
	var opts []Option
	if raw := strings.TrimSpace(src.KeysJSON); raw != "" {
		var entries map[string]string
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("%w: keys json: %v", ErrInvalidKeyset, err)
		}
		for id, enc := range entries {
			priv, err := ParsePrivateKey(enc)
			if err != nil {
				return nil, fmt.Errorf("%w: key %q: %v", ErrInvalidKeyset, id, err)
			}
			opts = append(opts, WithKey(id, priv))
		}
	}
	if raw := strings.TrimSpace(src.LegacyKey); raw != "" {
		priv, err := ParsePrivateKey(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: legacy key: %v", ErrInvalidKeyset, err)
		}
		opts = append(opts, WithLegacyKey(priv))
	}
	if id := strings.TrimSpace(src.ActiveID); id != "" {
		opts = append(opts, WithActive(id))
	}
	return NewKeyset(opts...)
}

// ParsePrivateKey accepts PKCS#8 or PKCS#1 RSA keys, either PEM armored or as
// bare base64 DER.
func ParsePrivateKey(enc string) (*rsa.PrivateKey, error) {
	enc = strings.TrimSpace(enc)
	var der []byte
	if block, _ := pem.Decode([]byte(enc)); block != nil {
		der = block.Bytes
	} else {
		b, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("not PEM and not base64 DER")
		}
		der = b
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("PKCS#8 key is %T, want RSA", key)
		}
		return priv, nil
	}
	priv, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("unsupported private key encoding")
	}
	return priv, nil
}

// EncodePrivateKey renders priv as a PKCS#8 PEM block.
func EncodePrivateKey(priv *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}
