// Package escrow resolves escrow key ids to the platform-held private keys that
// can always recover a message content key.
package escrow

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"sort"

	"keyescrow/internal/keywrap"
)

var ErrInvalidKeyset = errors.New("escrow: invalid keyset")

// Keyset is an append-only id -> private key table plus an optional legacy key
// for envelopes written before key ids existed. It is immutable once built and
// safe for concurrent use.
type Keyset struct {
	keys     map[string]*rsa.PrivateKey
	legacy   *rsa.PrivateKey
	activeID string
}

// Option configures a Keyset under construction.
type Option func(*Keyset) error

// WithKey registers priv under id.
func WithKey(id string, priv *rsa.PrivateKey) Option {
	return func(k *Keyset) error {
		if id == "" {
			return fmt.Errorf("%w: empty key id", ErrInvalidKeyset)
		}
		if priv == nil {
			return fmt.Errorf("%w: nil key for id %q", ErrInvalidKeyset, id)
		}
		if _, dup := k.keys[id]; dup {
			return fmt.Errorf("%w: duplicate key id %q", ErrInvalidKeyset, id)
		}
		k.keys[id] = priv
		return nil
	}
}

// WithLegacyKey sets the key used for envelopes that carry no key id.
func WithLegacyKey(priv *rsa.PrivateKey) Option {
	return func(k *Keyset) error {
		if priv == nil {
			return fmt.Errorf("%w: nil legacy key", ErrInvalidKeyset)
		}
		k.legacy = priv
		return nil
	}
}

// WithActive selects the default key id for new envelopes.
func WithActive(id string) Option {
	return func(k *Keyset) error {
		k.activeID = id
		return nil
	}
}

// NewKeyset builds an immutable keyset. When no active id is given and exactly
// one keyed entry exists, that entry becomes active.
func NewKeyset(opts ...Option) (*Keyset, error) {
	k := &Keyset{keys: make(map[string]*rsa.PrivateKey)}
	for _, opt := range opts {
		if err := opt(k); err != nil {
			return nil, err
		}
	}
	if len(k.keys) == 0 && k.legacy == nil {
		return nil, fmt.Errorf("%w: no escrow keys configured", ErrInvalidKeyset)
	}
	if k.activeID == "" && len(k.keys) == 1 {
		for id := range k.keys {
			k.activeID = id
		}
	}
	if k.activeID != "" {
		if _, ok := k.keys[k.activeID]; !ok {
			return nil, fmt.Errorf("%w: active key id %q is not configured", ErrInvalidKeyset, k.activeID)
		}
	}
	return k, nil
}

// Resolve returns the private key for id. The legacy key only answers for an
// empty id; an unknown non-empty id is never redirected to it.
func (k *Keyset) Resolve(id string) (*rsa.PrivateKey, bool) {
	if id == "" {
		return k.legacy, k.legacy != nil
	}
	priv, ok := k.keys[id]
	return priv, ok
}

// ActiveID is the key id new envelopes should be tagged with.
func (k *Keyset) ActiveID() string { return k.activeID }

// Active returns the public half of the active escrow key.
func (k *Keyset) Active() (string, keywrap.PublicJWK, bool) {
	priv, ok := k.keys[k.activeID]
	if !ok {
		return "", keywrap.PublicJWK{}, false
	}
	return k.activeID, keywrap.PublicJWKFromKey(&priv.PublicKey), true
}

// IDs lists the configured key ids in sorted order.
func (k *Keyset) IDs() []string {
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasLegacy reports whether an id-less legacy key is configured.
func (k *Keyset) HasLegacy() bool { return k.legacy != nil }

// Len counts configured keys, including the legacy key.
func (k *Keyset) Len() int {
	n := len(k.keys)
	if k.legacy != nil {
		n++
	}
	return n
}
