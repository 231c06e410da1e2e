package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/dashvault/internal/webhook/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, log *domain.WebhookLog) error {
	return db.WithContext(ctx).Create(log).Error
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id string, processedAt time.Time, processErr *string) error {
	return db.WithContext(ctx).
		Model(&domain.WebhookLog{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_at": processedAt,
			"error":        processErr,
		}).Error
}

func (r *repo) CountErrorsSince(ctx context.Context, db *gorm.DB, since time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.WebhookLog{}).
		Where("error IS NOT NULL AND received_at >= ?", since).
		Count(&count).Error
	return count, err
}
