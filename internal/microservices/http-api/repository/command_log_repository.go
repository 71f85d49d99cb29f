package repository

import (
	"context"

	"gorm.io/gorm"

	"panelbridge/internal/microservices/http-api/models"
)

const MaxRecentLimit = 500

type CommandLogRepository interface {
	Create(ctx context.Context, entry *models.CommandLog) error
	CreateBatch(ctx context.Context, entries []models.CommandLog) error
	Recent(ctx context.Context, limit int) ([]models.CommandLog, error)
}

type commandLogRepository struct {
	db *gorm.DB
}

func NewCommandLogRepository(db *gorm.DB) CommandLogRepository {
	return &commandLogRepository{db: db}
}

func (r *commandLogRepository) Create(ctx context.Context, entry *models.CommandLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *commandLogRepository) CreateBatch(ctx context.Context, entries []models.CommandLog) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(entries, 100).Error
}

// Recent returns the newest entries first
func (r *commandLogRepository) Recent(ctx context.Context, limit int) ([]models.CommandLog, error) {
	if limit <= 0 || limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}
	var entries []models.CommandLog
	err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
