package store

import (
	"context"

	"keyescrow/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MatchStore struct{ db *gorm.DB }

func (s *Store) Matches() *MatchStore { return &MatchStore{db: s.DB} }

func (m *MatchStore) Create(ctx context.Context, match *domain.Match) error {
	return m.db.WithContext(ctx).Create(match).Error
}

func (m *MatchStore) Get(ctx context.Context, id uuid.UUID) (*domain.Match, error) {
	var match domain.Match
	if err := m.db.WithContext(ctx).First(&match, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &match, nil
}

// IDsByCouple lists every match owned by coupleID.
func (m *MatchStore) IDsByCouple(ctx context.Context, coupleID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := m.db.WithContext(ctx).
		Model(&domain.Match{}).
		Where("couple_id = ?", coupleID).
		Order("created_at asc").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
