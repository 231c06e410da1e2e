package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() submissiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, submission *submissiondomain.Submission) error {
	return db.WithContext(ctx).Create(submission).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*submissiondomain.Submission, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByUploadID(ctx context.Context, db *gorm.DB, uploadID string) (*submissiondomain.Submission, error) {
	return r.findOne(ctx, db, "mux_upload_id = ?", uploadID)
}

func (r *repo) FindByAssetID(ctx context.Context, db *gorm.DB, assetID string) (*submissiondomain.Submission, error) {
	return r.findOne(ctx, db, "mux_asset_id = ?", assetID)
}

func (r *repo) FindByJobID(ctx context.Context, db *gorm.DB, jobID string) (*submissiondomain.Submission, error) {
	return r.findOne(ctx, db, "anonymization_job_id = ?", jobID)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*submissiondomain.Submission, error) {
	var item submissiondomain.Submission
	err := db.WithContext(ctx).Where(query, arg).Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// Update applies a conditional update and reports whether this caller won it.
func (r *repo) Update(ctx context.Context, db *gorm.DB, update submissiondomain.ConditionalUpdate) (bool, error) {
	if update.ID == 0 || len(update.Set) == 0 {
		return false, nil
	}
	stmt := db.WithContext(ctx).
		Model(&submissiondomain.Submission{}).
		Where("id = ?", update.ID)
	if len(update.From) > 0 {
		stmt = stmt.Where("status IN ?", update.From)
	}
	for _, guard := range update.Guards {
		stmt = stmt.Where(guard.Expr, guard.Args...)
	}

	res := stmt.Updates(update.Set)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListStale(ctx context.Context, db *gorm.DB, query submissiondomain.StaleQuery) ([]submissiondomain.Submission, error) {
	if len(query.Criteria) == 0 {
		return nil, nil
	}

	var match *gorm.DB
	for _, criterion := range query.Criteria {
		clause := staleClause(db, criterion)
		if match == nil {
			match = clause
			continue
		}
		match = match.Or(clause)
	}

	stmt := db.WithContext(ctx).Model(&submissiondomain.Submission{}).Where(match)
	if query.AfterID != 0 {
		stmt = stmt.Where("id > ?", query.AfterID)
	}
	if query.Limit > 0 {
		stmt = stmt.Limit(query.Limit)
	}

	var items []submissiondomain.Submission
	if err := stmt.Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountStaleByStatus(ctx context.Context, db *gorm.DB, status submissiondomain.Status, before time.Time, requireNoAsset bool) (int64, error) {
	var count int64
	criterion := submissiondomain.StaleCriterion{Status: status, Before: before, RequireNoAsset: requireNoAsset}
	err := db.WithContext(ctx).
		Model(&submissiondomain.Submission{}).
		Where(staleClause(db, criterion)).
		Count(&count).Error
	return count, err
}

// staleClause builds a grouped condition for Where/Or.
func staleClause(db *gorm.DB, criterion submissiondomain.StaleCriterion) *gorm.DB {
	clause := db.Session(&gorm.Session{NewDB: true}).
		Where("status = ? AND updated_at < ?", criterion.Status, criterion.Before)
	if criterion.RequireNoAsset {
		clause = clause.Where("mux_asset_id IS NULL")
	}
	return clause
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB) (map[submissiondomain.Status]int64, error) {
	var rows []struct {
		Status submissiondomain.Status
		Count  int64
	}
	err := db.WithContext(ctx).
		Model(&submissiondomain.Submission{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[submissiondomain.Status]int64, len(submissiondomain.AllStatuses))
	for _, status := range submissiondomain.AllStatuses {
		out[status] = 0
	}
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *repo) CountCompletedByDriver(ctx context.Context, db *gorm.DB, driverID string, exclude snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&submissiondomain.Submission{}).
		Where("driver_id = ? AND status = ? AND id <> ?", driverID, submissiondomain.StatusCompleted, exclude).
		Count(&count).Error
	return count, err
}

// CompletionLatencies returns created-to-completed durations in seconds for
// submissions completed since the given instant.
func (r *repo) CompletionLatencies(ctx context.Context, db *gorm.DB, since time.Time) ([]float64, error) {
	var rows []struct {
		CreatedAt   time.Time
		CompletedAt time.Time
	}
	err := db.WithContext(ctx).
		Model(&submissiondomain.Submission{}).
		Select("created_at, completed_at").
		Where("status = ? AND completed_at IS NOT NULL AND completed_at >= ?", submissiondomain.StatusCompleted, since).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		if row.CompletedAt.Before(row.CreatedAt) {
			continue
		}
		out = append(out, row.CompletedAt.Sub(row.CreatedAt).Seconds())
	}
	return out, nil
}
