package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"keyescrow/internal/domain"
	"keyescrow/internal/escrow"
	"keyescrow/internal/keywrap"
	"keyescrow/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	rsaOnce sync.Once
	rsaPool []*rsa.PrivateKey
)

// testKey returns one of a few pre-generated RSA keys shared across tests.
func testKey(t *testing.T, i int) *rsa.PrivateKey {
	t.Helper()
	rsaOnce.Do(func() {
		for n := 0; n < 6; n++ {
			k, err := rsa.GenerateKey(rand.Reader, 2048)
			if err != nil {
				panic(err)
			}
			rsaPool = append(rsaPool, k)
		}
	})
	return rsaPool[i]
}

type fixture struct {
	t     *testing.T
	st    *store.Store
	keys  *escrow.Keyset
	svc   *Service
	now   time.Time
	match domain.Match
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	keys, err := escrow.NewKeyset(
		escrow.WithKey("E1", testKey(t, 0)),
		escrow.WithLegacyKey(testKey(t, 5)),
	)
	if err != nil {
		t.Fatalf("keyset: %v", err)
	}

	svc := New(st, keys, opts)
	now := time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	match := domain.Match{ID: uuid.New(), CoupleID: uuid.New()}
	if err := st.Matches().Create(context.Background(), &match); err != nil {
		t.Fatalf("create match: %v", err)
	}
	return &fixture{t: t, st: st, keys: keys, svc: svc, now: now, match: match}
}

// profile stores a member of the fixture couple holding key (nil for none).
func (f *fixture) profile(key *rsa.PrivateKey) uuid.UUID {
	f.t.Helper()
	couple := f.match.CoupleID
	return f.profileIn(&couple, key)
}

func (f *fixture) profileIn(couple *uuid.UUID, key *rsa.PrivateKey) uuid.UUID {
	f.t.Helper()
	p := domain.Profile{ID: uuid.New(), CoupleID: couple}
	if key != nil {
		data, err := keywrap.PublicJWKFromKey(&key.PublicKey).Marshal()
		if err != nil {
			f.t.Fatalf("marshal jwk: %v", err)
		}
		p.CurrentPublicKey = data
	}
	if err := f.st.Profiles().Upsert(context.Background(), p); err != nil {
		f.t.Fatalf("upsert profile: %v", err)
	}
	return p.ID
}

func (f *fixture) setKey(profileID uuid.UUID, key *rsa.PrivateKey) {
	f.t.Helper()
	data, err := keywrap.PublicJWKFromKey(&key.PublicKey).Marshal()
	if err != nil {
		f.t.Fatalf("marshal jwk: %v", err)
	}
	if err := f.st.Profiles().SetPublicKey(context.Background(), profileID, data); err != nil {
		f.t.Fatalf("set public key: %v", err)
	}
}

// send mimics the send path: a fresh content key wrapped for the sender, the
// recipient (when they have a key) and the active escrow key.
func (f *fixture) send(sender uuid.UUID, senderKey, recipientKey *rsa.PrivateKey, createdAt time.Time) (domain.Message, []byte) {
	f.t.Helper()
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		f.t.Fatalf("content key: %v", err)
	}
	escrowID, escrowPub, ok := f.keys.Active()
	if !ok {
		f.t.Fatalf("no active escrow key")
	}
	env := domain.KeyEnvelope{
		SenderWrappedKey: f.wrap(raw, senderKey),
		EscrowWrappedKey: mustWrap(f.t, raw, escrowPub),
		EscrowKeyID:      escrowID,
		KeyWrapAlgorithm: keywrap.Algorithm,
		ContentAlgorithm: "AES-GCM-256",
	}
	if recipientKey != nil {
		w := f.wrap(raw, recipientKey)
		env.RecipientWrappedKey = &w
	} else {
		env.PendingRecipient = true
	}
	msg := domain.Message{
		MatchID:   f.match.ID,
		SenderID:  sender,
		Version:   domain.MessageVersionEscrow,
		Envelope:  env,
		CreatedAt: createdAt.UTC(),
	}
	if err := f.st.Messages().Create(context.Background(), &msg); err != nil {
		f.t.Fatalf("create message: %v", err)
	}
	return msg, raw
}

func (f *fixture) wrap(raw []byte, key *rsa.PrivateKey) string {
	f.t.Helper()
	return mustWrap(f.t, raw, keywrap.PublicJWKFromKey(&key.PublicKey))
}

func mustWrap(t *testing.T, raw []byte, key keywrap.PublicJWK) string {
	t.Helper()
	w, err := keywrap.WrapForPublicKey(raw, key)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	return w
}

func (f *fixture) reload(id uuid.UUID) domain.Message {
	f.t.Helper()
	msg, err := f.st.Messages().Get(context.Background(), id)
	if err != nil {
		f.t.Fatalf("reload message: %v", err)
	}
	return *msg
}

func assertUnwraps(t *testing.T, wrapped string, key *rsa.PrivateKey, want []byte) {
	t.Helper()
	got, err := keywrap.UnwrapWithPrivateKey(wrapped, key)
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("unwrapped content key mismatch")
	}
}
