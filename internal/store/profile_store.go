package store

import (
	"context"

	"keyescrow/internal/domain"
	"keyescrow/internal/jsonb"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProfileStore struct{ db *gorm.DB }

func (s *Store) Profiles() *ProfileStore { return &ProfileStore{db: s.DB} }

func (p *ProfileStore) Get(ctx context.Context, id uuid.UUID) (*domain.Profile, error) {
	var profile domain.Profile
	if err := p.db.WithContext(ctx).First(&profile, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &profile, nil
}

func (p *ProfileStore) Upsert(ctx context.Context, profile domain.Profile) error {
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"couple_id":          profile.CoupleID,
				"current_public_key": profile.CurrentPublicKey,
			}),
		}).
		Create(&profile).Error
}

// SetPublicKey replaces the profile's current device key. No history is kept.
func (p *ProfileStore) SetPublicKey(ctx context.Context, id uuid.UUID, key jsonb.JSON) error {
	res := p.db.WithContext(ctx).
		Model(&domain.Profile{}).
		Where("id = ?", id).
		Update("current_public_key", key)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}
