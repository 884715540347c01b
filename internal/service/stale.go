package service

import (
	"context"
	"errors"
	"log/slog"

	"keyescrow/internal/dto"
	"keyescrow/internal/observability/metrics"
	"keyescrow/internal/observability/middleware"
	"keyescrow/internal/store"

	"github.com/google/uuid"
)

// RepairStaleKey rewraps a single message for the caller after a failed
// client-side decrypt. Authorization is checked before any key material is
// touched, and every failure is returned to the caller.
func (s *Service) RepairStaleKey(ctx context.Context, profileID, messageID uuid.UUID) (res dto.StaleRepairResponse, err error) {
	defer func() { metrics.OperationsTotal.WithLabelValues(opStaleKey, result(err)).Inc() }()

	if messageID == uuid.Nil {
		return dto.StaleRepairResponse{}, ErrInvalidRequest
	}
	c, err := s.loadCaller(ctx, profileID)
	if err != nil {
		return dto.StaleRepairResponse{}, err
	}
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.StaleRepairResponse{}, ErrMessageNotFound
		}
		return dto.StaleRepairResponse{}, err
	}

	reqID := middleware.RequestIDFromContext(ctx)
	traceID := middleware.TraceIDFromContext(ctx)

	if c.profile.CoupleID == nil {
		slog.Warn("stale key repair denied", "profile_id", profileID, "message_id", messageID, "reason", "no couple", "request_id", reqID, "trace_id", traceID)
		return dto.StaleRepairResponse{}, ErrAccessDenied
	}
	match, err := s.matches.Get(ctx, msg.MatchID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			slog.Warn("stale key repair denied", "profile_id", profileID, "message_id", messageID, "reason", "unknown match", "request_id", reqID, "trace_id", traceID)
			return dto.StaleRepairResponse{}, ErrAccessDenied
		}
		return dto.StaleRepairResponse{}, err
	}
	if match.CoupleID != *c.profile.CoupleID {
		slog.Warn("stale key repair denied", "profile_id", profileID, "message_id", messageID, "reason", "foreign couple", "request_id", reqID, "trace_id", traceID)
		return dto.StaleRepairResponse{}, ErrAccessDenied
	}

	if !msg.Encrypted() {
		return dto.StaleRepairResponse{}, ErrNotEncrypted
	}
	key, err := c.requireKey()
	if err != nil {
		return dto.StaleRepairResponse{}, err
	}

	role := msg.RoleOf(profileID)
	if err := s.repairOne(ctx, *msg, role, key); err != nil {
		metrics.RewrapsTotal.WithLabelValues(opStaleKey, "failure").Inc()
		logRepairFailure(ctx, opStaleKey, *msg, err)
		if errors.Is(err, store.ErrRecordNotFound) {
			return dto.StaleRepairResponse{}, ErrMessageNotFound
		}
		return dto.StaleRepairResponse{}, err
	}
	metrics.RewrapsTotal.WithLabelValues(opStaleKey, "success").Inc()

	slog.Info("stale key repaired", "profile_id", profileID, "message_id", messageID, "role", role, "request_id", reqID, "trace_id", traceID)
	return dto.StaleRepairResponse{Success: true, MessageID: messageID.String()}, nil
}
