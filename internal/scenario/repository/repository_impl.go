package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	scenariodomain "github.com/smallbiznis/dashvault/internal/scenario/domain"
	"gorm.io/gorm"
)

const insertBatchSize = 200

type repo struct{}

func Provide() scenariodomain.Repository {
	return &repo{}
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, scenarios []scenariodomain.Scenario) error {
	if len(scenarios) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(scenarios, insertBatchSize).Error
}

func (r *repo) DeleteBySubmission(ctx context.Context, db *gorm.DB, submissionID snowflake.ID) error {
	return db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Delete(&scenariodomain.Scenario{}).Error
}

func (r *repo) ListBySubmission(ctx context.Context, db *gorm.DB, submissionID snowflake.ID) ([]scenariodomain.Scenario, error) {
	var items []scenariodomain.Scenario
	err := db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("start_time_seconds ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ApprovalCounts(ctx context.Context, db *gorm.DB, since time.Time) (int64, int64, error) {
	var row struct {
		Approved int64
		Total    int64
	}
	err := db.WithContext(ctx).
		Model(&scenariodomain.Scenario{}).
		Select("COALESCE(SUM(CASE WHEN is_approved THEN 1 ELSE 0 END), 0) AS approved, COUNT(*) AS total").
		Where("created_at >= ?", since).
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Approved, row.Total, nil
}
