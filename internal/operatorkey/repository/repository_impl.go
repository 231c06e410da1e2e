package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dashvault/internal/operatorkey/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *domain.OperatorKey) error {
	return db.WithContext(ctx).Create(key).Error
}

func (r *repo) FindByPrefix(ctx context.Context, db *gorm.DB, prefix string) (*domain.OperatorKey, error) {
	return findOne(db.WithContext(ctx).Where("key_prefix = ?", prefix))
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.OperatorKey, error) {
	return findOne(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.OperatorKey, error) {
	var keys []domain.OperatorKey
	err := db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&keys).Error
	return keys, err
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.OperatorKey{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	return res.RowsAffected > 0, res.Error
}

func (r *repo) TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.OperatorKey{}).
		Where("id = ?", id).
		Update("last_used_at", at).Error
}

func findOne(query *gorm.DB) (*domain.OperatorKey, error) {
	var key domain.OperatorKey
	if err := query.Take(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}
