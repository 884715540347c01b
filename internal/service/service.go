package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"keyescrow/internal/domain"
	"keyescrow/internal/escrow"
	"keyescrow/internal/keywrap"
	"keyescrow/internal/observability/metrics"
	"keyescrow/internal/observability/middleware"
	"keyescrow/internal/store"

	"github.com/google/uuid"
)

const (
	DefaultRecentDays = 7
	DefaultBatchLimit = 500
)

const (
	opRotation         = "rotation"
	opPendingRecipient = "pending_recipient"
	opStaleKey         = "stale_key"
)

type profileLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Profile, error)
}

type matchLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Match, error)
	IDsByCouple(ctx context.Context, coupleID uuid.UUID) ([]uuid.UUID, error)
}

type messageStore interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	RecentEncrypted(ctx context.Context, matchIDs []uuid.UUID, since time.Time, limit int) ([]domain.Message, error)
	CountEncryptedBefore(ctx context.Context, matchIDs []uuid.UUID, cutoff time.Time) (int64, error)
	PendingForRecipient(ctx context.Context, matchIDs []uuid.UUID, recipientID uuid.UUID) ([]domain.Message, error)
	UpdateWrappedKey(ctx context.Context, id uuid.UUID, role domain.Role, wrapped string) error
}

type Options struct {
	// RecentDays bounds the eager rotation window.
	RecentDays int
	// BatchLimit caps messages rewrapped per rotation run.
	BatchLimit int
}

// Service runs the escrow rewrap operations. It holds no per-request state;
// the keyset is shared read-only by every request.
type Service struct {
	profiles profileLookup
	matches  matchLookup
	messages messageStore
	keys     *escrow.Keyset
	now      func() time.Time

	recentDays int
	batchLimit int
}

func New(st *store.Store, keys *escrow.Keyset, opts Options) *Service {
	if opts.RecentDays <= 0 {
		opts.RecentDays = DefaultRecentDays
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = DefaultBatchLimit
	}
	return &Service{
		profiles:   st.Profiles(),
		matches:    st.Matches(),
		messages:   st.Messages(),
		keys:       keys,
		now:        time.Now,
		recentDays: opts.RecentDays,
		batchLimit: opts.BatchLimit,
	}
}

// caller is a resolved profile. Its device key is parsed only by requireKey,
// after any authorization check.
type caller struct {
	profile *domain.Profile
}

func (s *Service) loadCaller(ctx context.Context, profileID uuid.UUID) (caller, error) {
	if profileID == uuid.Nil {
		return caller{}, fmt.Errorf("%w: missing profile id", ErrInvalidRequest)
	}
	profile, err := s.profiles.Get(ctx, profileID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return caller{}, ErrProfileNotFound
		}
		return caller{}, err
	}
	return caller{profile: profile}, nil
}

// requireKey parses and validates the caller's current device key.
func (c caller) requireKey() (keywrap.PublicJWK, error) {
	if c.profile.CurrentPublicKey.IsNull() {
		return keywrap.PublicJWK{}, ErrNoPublicKey
	}
	key, err := keywrap.ParsePublicJWK(c.profile.CurrentPublicKey)
	if err != nil {
		return keywrap.PublicJWK{}, err
	}
	if _, err := keywrap.ImportPublicKey(key); err != nil {
		return keywrap.PublicJWK{}, err
	}
	return key, nil
}

func (s *Service) coupleMatches(ctx context.Context, c caller) ([]uuid.UUID, error) {
	if c.profile.CoupleID == nil {
		return nil, nil
	}
	return s.matches.IDsByCouple(ctx, *c.profile.CoupleID)
}

// rewrap recovers msg's content key through its escrow wrap and wraps it for
// key. Escrow resolution failures are distinguished from unwrap failures.
func (s *Service) rewrap(msg domain.Message, key keywrap.PublicJWK) (string, error) {
	keyID := msg.Envelope.EscrowKeyID
	priv, ok := s.keys.Resolve(keyID)
	if !ok {
		metrics.EscrowKeyMissingTotal.WithLabelValues(keyID).Inc()
		return "", fmt.Errorf("%w: id %q", ErrEscrowKeyNotFound, keyID)
	}
	return keywrap.Rewrap(msg.Envelope.EscrowWrappedKey, priv, key)
}

// repairOne rewraps msg for role and persists the new wrap.
func (s *Service) repairOne(ctx context.Context, msg domain.Message, role domain.Role, key keywrap.PublicJWK) error {
	wrapped, err := s.rewrap(msg, key)
	if err != nil {
		return err
	}
	return s.messages.UpdateWrappedKey(ctx, msg.ID, role, wrapped)
}

// logRepairFailure records one per-message failure inside a batch.
func logRepairFailure(ctx context.Context, op string, msg domain.Message, err error) {
	attrs := []any{
		"operation", op,
		"message_id", msg.ID,
		"escrow_key_id", msg.Envelope.EscrowKeyID,
		"error", err,
		"request_id", middleware.RequestIDFromContext(ctx),
		"trace_id", middleware.TraceIDFromContext(ctx),
	}
	if errors.Is(err, ErrEscrowKeyNotFound) {
		slog.Error("escrow key missing for message", attrs...)
		return
	}
	slog.Warn("message rewrap failed", attrs...)
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
