package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"solver-backend/internal/models"
)

// SettlementTaskRepository persistence operations for the settlement queue
type SettlementTaskRepository interface {
	Create(ctx context.Context, task *models.SettlementTask) error
	GetByMatchID(ctx context.Context, matchID string) (*models.SettlementTask, error)
	// ListDue returns pending tasks whose next retry time has passed,
	// oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.SettlementTask, error)
	// ListSubmitted returns tasks awaiting on-chain confirmation.
	ListSubmitted(ctx context.Context) ([]models.SettlementTask, error)
	Save(ctx context.Context, task *models.SettlementTask) error
	Delete(ctx context.Context, id string) error
}

type settlementTaskRepository struct {
	db *gorm.DB
}

// NewSettlementTaskRepository creates a settlement task repository backed by gorm
func NewSettlementTaskRepository(db *gorm.DB) SettlementTaskRepository {
	return &settlementTaskRepository{db: db}
}

func (r *settlementTaskRepository) Create(ctx context.Context, task *models.SettlementTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *settlementTaskRepository) GetByMatchID(ctx context.Context, matchID string) (*models.SettlementTask, error) {
	var task models.SettlementTask
	err := r.db.WithContext(ctx).Where("match_id = ?", matchID).First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *settlementTaskRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.SettlementTask, error) {
	var tasks []models.SettlementTask
	query := r.db.WithContext(ctx).
		Where("status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)",
			models.SettlementTaskStatusPending, now).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&tasks).Error
	return tasks, err
}

func (r *settlementTaskRepository) ListSubmitted(ctx context.Context) ([]models.SettlementTask, error) {
	var tasks []models.SettlementTask
	err := r.db.WithContext(ctx).
		Where("status = ?", models.SettlementTaskStatusSubmitted).
		Order("submitted_at ASC").
		Find(&tasks).Error
	return tasks, err
}

func (r *settlementTaskRepository) Save(ctx context.Context, task *models.SettlementTask) error {
	return r.db.WithContext(ctx).Save(task).Error
}

func (r *settlementTaskRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.SettlementTask{}).Error
}
