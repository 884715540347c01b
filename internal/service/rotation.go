package service

import (
	"context"
	"log/slog"
	"time"

	"keyescrow/internal/dto"
	"keyescrow/internal/observability/metrics"
	"keyescrow/internal/observability/middleware"

	"github.com/google/uuid"
)

// RotateRecent rewraps the caller's side of every recent encrypted message in
// their couple's matches under their current public key. Messages older than
// the window are only reported through HasOlderMessages and are left to
// RepairStaleKey. Per-message failures are counted, never fatal.
func (s *Service) RotateRecent(ctx context.Context, profileID uuid.UUID) (res dto.RotationResponse, err error) {
	defer func() { metrics.OperationsTotal.WithLabelValues(opRotation, result(err)).Inc() }()

	res = dto.RotationResponse{Success: true, RecentDays: s.recentDays}

	c, err := s.loadCaller(ctx, profileID)
	if err != nil {
		return dto.RotationResponse{}, err
	}
	if c.profile.CoupleID == nil {
		return res, nil
	}
	key, err := c.requireKey()
	if err != nil {
		return dto.RotationResponse{}, err
	}

	matchIDs, err := s.coupleMatches(ctx, c)
	if err != nil {
		return dto.RotationResponse{}, err
	}
	if len(matchIDs) == 0 {
		return res, nil
	}

	cutoff := s.now().UTC().Add(-time.Duration(s.recentDays) * 24 * time.Hour)
	msgs, err := s.messages.RecentEncrypted(ctx, matchIDs, cutoff, s.batchLimit)
	if err != nil {
		return dto.RotationResponse{}, err
	}
	older, err := s.messages.CountEncryptedBefore(ctx, matchIDs, cutoff)
	if err != nil {
		return dto.RotationResponse{}, err
	}
	res.HasOlderMessages = older > 0
	if res.HasOlderMessages {
		metrics.RotationOlderMessagesTotal.Inc()
	}

	for _, msg := range msgs {
		role := msg.RoleOf(profileID)
		if rerr := s.repairOne(ctx, msg, role, key); rerr != nil {
			res.Errors++
			metrics.RewrapsTotal.WithLabelValues(opRotation, "failure").Inc()
			logRepairFailure(ctx, opRotation, msg, rerr)
			continue
		}
		res.Updated++
		metrics.RewrapsTotal.WithLabelValues(opRotation, "success").Inc()
	}

	slog.Info("rotation completed",
		"profile_id", profileID,
		"matches", len(matchIDs),
		"selected", len(msgs),
		"updated", res.Updated,
		"errors", res.Errors,
		"older_messages", older,
		"request_id", middleware.RequestIDFromContext(ctx),
		"trace_id", middleware.TraceIDFromContext(ctx),
	)
	return res, nil
}
