package repository

import (
	"context"

	"gorm.io/gorm"

	"solver-backend/internal/models"
)

// MatchRepository persistence operations for in-flight matches
type MatchRepository interface {
	Create(ctx context.Context, match *models.Match) error
	GetByID(ctx context.Context, id string) (*models.Match, error)
	ListActive(ctx context.Context) ([]models.Match, error)
	Delete(ctx context.Context, id string) error
}

type matchRepository struct {
	db *gorm.DB
}

// NewMatchRepository creates a match repository backed by gorm
func NewMatchRepository(db *gorm.DB) MatchRepository {
	return &matchRepository{db: db}
}

func (r *matchRepository) Create(ctx context.Context, match *models.Match) error {
	return r.db.WithContext(ctx).Create(match).Error
}

func (r *matchRepository) GetByID(ctx context.Context, id string) (*models.Match, error) {
	var match models.Match
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&match).Error
	if err != nil {
		return nil, err
	}
	return &match, nil
}

func (r *matchRepository) ListActive(ctx context.Context) ([]models.Match, error) {
	var matches []models.Match
	err := r.db.WithContext(ctx).Order("matched_at ASC").Find(&matches).Error
	return matches, err
}

func (r *matchRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Match{}).Error
}
