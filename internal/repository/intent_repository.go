package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"solver-backend/internal/models"
)

// IntentRepository persistence operations for trade intents
type IntentRepository interface {
	Create(ctx context.Context, intent *models.Intent) error
	GetByNullifier(ctx context.Context, nullifier string) (*models.Intent, error)
	ListByUser(ctx context.Context, user string, limit int) ([]models.Intent, error)
	ListPending(ctx context.Context) ([]models.Intent, error)
	ListPendingByPair(ctx context.Context, tokenIn, tokenOut string) ([]models.Intent, error)
	// TransitionStatus moves an intent from one status to another with a
	// conditional update. It returns false when the row was no longer in
	// the expected status, which means another actor won the race.
	TransitionStatus(ctx context.Context, nullifier string, from, to models.IntentStatus, extra map[string]interface{}) (bool, error)
	CountByStatus(ctx context.Context) (map[models.IntentStatus]int64, error)
	// ExpirePending marks every pending intent whose deadline is
	// strictly before cutoff as expired, returning the number of rows
	// moved. An intent whose deadline equals the cutoff is still live.
	ExpirePending(ctx context.Context, cutoff time.Time) (int64, error)
}

type intentRepository struct {
	db *gorm.DB
}

// NewIntentRepository creates an intent repository backed by gorm
func NewIntentRepository(db *gorm.DB) IntentRepository {
	return &intentRepository{db: db}
}

func (r *intentRepository) Create(ctx context.Context, intent *models.Intent) error {
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *intentRepository) GetByNullifier(ctx context.Context, nullifier string) (*models.Intent, error) {
	var intent models.Intent
	err := r.db.WithContext(ctx).Where("nullifier = ?", nullifier).First(&intent).Error
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *intentRepository) ListByUser(ctx context.Context, user string, limit int) ([]models.Intent, error) {
	var intents []models.Intent
	query := r.db.WithContext(ctx).
		Where("\"user\" = ?", user).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&intents).Error
	return intents, err
}

func (r *intentRepository) ListPending(ctx context.Context) ([]models.Intent, error) {
	var intents []models.Intent
	err := r.db.WithContext(ctx).
		Where("status = ?", models.IntentStatusPending).
		Order("created_at ASC, nullifier ASC").
		Find(&intents).Error
	return intents, err
}

func (r *intentRepository) ListPendingByPair(ctx context.Context, tokenIn, tokenOut string) ([]models.Intent, error) {
	var intents []models.Intent
	err := r.db.WithContext(ctx).
		Where("status = ? AND token_in = ? AND token_out = ?",
			models.IntentStatusPending, tokenIn, tokenOut).
		Order("created_at ASC, nullifier ASC").
		Find(&intents).Error
	return intents, err
}

func (r *intentRepository) TransitionStatus(ctx context.Context, nullifier string, from, to models.IntentStatus, extra map[string]interface{}) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, gorm.ErrInvalidData
	}

	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&models.Intent{}).
		Where("nullifier = ? AND status = ?", nullifier, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *intentRepository) CountByStatus(ctx context.Context) (map[models.IntentStatus]int64, error) {
	type row struct {
		Status models.IntentStatus
		Count  int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.Intent{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.IntentStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (r *intentRepository) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.Intent{}).
		Where("status = ? AND deadline < ?", models.IntentStatusPending, cutoff.Unix()).
		Updates(map[string]interface{}{
			"status":      models.IntentStatusExpired,
			"resolved_at": &now,
		})
	return result.RowsAffected, result.Error
}
