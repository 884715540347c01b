package service

import (
	"context"
	"log/slog"

	"keyescrow/internal/domain"
	"keyescrow/internal/dto"
	"keyescrow/internal/observability/metrics"
	"keyescrow/internal/observability/middleware"

	"github.com/google/uuid"
)

// RepairPendingRecipient wraps the content key of every message addressed to
// the caller that was sent while they had no usable key. There is no recency
// bound; the backlog is expected to be small.
func (s *Service) RepairPendingRecipient(ctx context.Context, profileID uuid.UUID) (res dto.PendingRepairResponse, err error) {
	defer func() { metrics.OperationsTotal.WithLabelValues(opPendingRecipient, result(err)).Inc() }()

	res = dto.PendingRepairResponse{Success: true}

	c, err := s.loadCaller(ctx, profileID)
	if err != nil {
		return dto.PendingRepairResponse{}, err
	}
	if c.profile.CoupleID == nil {
		return res, nil
	}
	key, err := c.requireKey()
	if err != nil {
		return dto.PendingRepairResponse{}, err
	}

	matchIDs, err := s.coupleMatches(ctx, c)
	if err != nil {
		return dto.PendingRepairResponse{}, err
	}
	msgs, err := s.messages.PendingForRecipient(ctx, matchIDs, profileID)
	if err != nil {
		return dto.PendingRepairResponse{}, err
	}

	for _, msg := range msgs {
		if msg.SenderID == profileID || !msg.Envelope.NeedsRecipientWrap() {
			continue
		}
		if rerr := s.repairOne(ctx, msg, domain.RoleRecipient, key); rerr != nil {
			res.Errors++
			metrics.RewrapsTotal.WithLabelValues(opPendingRecipient, "failure").Inc()
			logRepairFailure(ctx, opPendingRecipient, msg, rerr)
			continue
		}
		res.Updated++
		metrics.RewrapsTotal.WithLabelValues(opPendingRecipient, "success").Inc()
	}

	slog.Info("pending recipient repair completed",
		"profile_id", profileID,
		"selected", len(msgs),
		"updated", res.Updated,
		"errors", res.Errors,
		"request_id", middleware.RequestIDFromContext(ctx),
		"trace_id", middleware.TraceIDFromContext(ctx),
	)
	return res, nil
}
