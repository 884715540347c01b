package store

import (
	"context"
	"fmt"
	"time"

	"keyescrow/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageStore struct{ db *gorm.DB }

func (s *Store) Messages() *MessageStore { return &MessageStore{db: s.DB} }

func (m *MessageStore) Create(ctx context.Context, msg *domain.Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	return m.db.WithContext(ctx).Create(msg).Error
}

func (m *MessageStore) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	var msg domain.Message
	if err := m.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &msg, nil
}

// RecentEncrypted returns version 2 messages in matchIDs created at or after
// since, newest first, capped at limit.
func (m *MessageStore) RecentEncrypted(ctx context.Context, matchIDs []uuid.UUID, since time.Time, limit int) ([]domain.Message, error) {
	if len(matchIDs) == 0 {
		return nil, nil
	}
	var msgs []domain.Message
	tx := m.db.WithContext(ctx).
		Where("match_id IN ? AND version = ? AND created_at >= ?", matchIDs, domain.MessageVersionEscrow, since).
		Order("created_at desc, id asc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// CountEncryptedBefore counts version 2 messages in matchIDs created strictly
// before cutoff.
func (m *MessageStore) CountEncryptedBefore(ctx context.Context, matchIDs []uuid.UUID, cutoff time.Time) (int64, error) {
	if len(matchIDs) == 0 {
		return 0, nil
	}
	var total int64
	err := m.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("match_id IN ? AND version = ? AND created_at < ?", matchIDs, domain.MessageVersionEscrow, cutoff).
		Count(&total).Error
	return total, err
}

// PendingForRecipient returns version 2 messages in matchIDs not sent by
// recipientID whose recipient wrap is flagged pending or missing.
func (m *MessageStore) PendingForRecipient(ctx context.Context, matchIDs []uuid.UUID, recipientID uuid.UUID) ([]domain.Message, error) {
	if len(matchIDs) == 0 {
		return nil, nil
	}
	var msgs []domain.Message
	err := m.db.WithContext(ctx).
		Where("match_id IN ? AND version = ? AND sender_id <> ?", matchIDs, domain.MessageVersionEscrow, recipientID).
		Where("(pending_recipient = ? OR recipient_wrapped_key IS NULL OR recipient_wrapped_key = '')", true).
		Order("created_at asc, id asc").
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// UpdateWrappedKey replaces the wrap stored for role on one encrypted message.
// Writing the recipient wrap also clears pending_recipient.
func (m *MessageStore) UpdateWrappedKey(ctx context.Context, id uuid.UUID, role domain.Role, wrapped string) error {
	var updates map[string]any
	switch role {
	case domain.RoleSender:
		updates = map[string]any{"sender_wrapped_key": wrapped}
	case domain.RoleRecipient:
		updates = map[string]any{"recipient_wrapped_key": wrapped, "pending_recipient": false}
	default:
		return fmt.Errorf("store: unknown role %q", role)
	}
	res := m.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND version = ?", id, domain.MessageVersionEscrow).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
