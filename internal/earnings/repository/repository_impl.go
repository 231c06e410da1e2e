package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	earningsdomain "github.com/smallbiznis/dashvault/internal/earnings/domain"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() earningsdomain.Repository {
	return &repo{}
}

func (r *repo) FindBySubmission(ctx context.Context, db *gorm.DB, submissionID snowflake.ID) (*earningsdomain.Earning, error) {
	return r.findOne(ctx, db, "submission_id = ?", submissionID)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*earningsdomain.Earning, error) {
	return r.findOne(ctx, db, "id = ?", id)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, arg any) (*earningsdomain.Earning, error) {
	var item earningsdomain.Earning
	err := db.WithContext(ctx).Where(query, arg).Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// Upsert writes the earning keyed on submission_id. A recalculation keeps
// the original id, payment status and creation time.
func (r *repo) Upsert(ctx context.Context, db *gorm.DB, earning *earningsdomain.Earning) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "submission_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"driver_id",
			"amount_cents",
			"currency",
			"tier",
			"breakdown",
			"earned_at",
			"updated_at",
		}),
	}).Create(earning).Error
}

func (r *repo) UpdatePaymentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to earningsdomain.PaymentStatus, paidAt *time.Time, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&earningsdomain.Earning{}).
		Where("id = ? AND payment_status = ?", id, from).
		Updates(map[string]any{
			"payment_status": to,
			"paid_at":        paidAt,
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListByDriver(ctx context.Context, db *gorm.DB, driverID string, limit int) ([]earningsdomain.Earning, error) {
	var items []earningsdomain.Earning
	stmt := db.WithContext(ctx).
		Where("driver_id = ?", driverID).
		Order("earned_at DESC, id DESC")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// RecomputeDriver rebuilds the aggregate row from the earnings set.
// Cancelled earnings are excluded from every total.
func (r *repo) RecomputeDriver(ctx context.Context, db *gorm.DB, driverID string, monthStart, now time.Time) (*earningsdomain.DriverEarnings, error) {
	var totals struct {
		Total   int64
		Monthly int64
		Paid    int64
	}
	err := db.WithContext(ctx).
		Model(&earningsdomain.Earning{}).
		Select(
			"COALESCE(SUM(amount_cents), 0) AS total, "+
				"COALESCE(SUM(CASE WHEN earned_at >= ? THEN amount_cents ELSE 0 END), 0) AS monthly, "+
				"COALESCE(SUM(CASE WHEN payment_status = ? THEN amount_cents ELSE 0 END), 0) AS paid",
			monthStart, earningsdomain.PaymentStatusPaid,
		).
		Where("driver_id = ? AND payment_status <> ?", driverID, earningsdomain.PaymentStatusCancelled).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}

	var completed int64
	err = db.WithContext(ctx).
		Model(&submissiondomain.Submission{}).
		Where("driver_id = ? AND status = ?", driverID, submissiondomain.StatusCompleted).
		Count(&completed).Error
	if err != nil {
		return nil, err
	}

	row := &earningsdomain.DriverEarnings{
		DriverID:             driverID,
		TotalEarningsCents:   totals.Total,
		MonthlyEarningsCents: totals.Monthly,
		PaidEarningsCents:    totals.Paid,
		CompletedSubmissions: completed,
		UpdatedAt:            now,
	}
	err = db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "driver_id"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *repo) FindDriver(ctx context.Context, db *gorm.DB, driverID string) (*earningsdomain.DriverEarnings, error) {
	var item earningsdomain.DriverEarnings
	err := db.WithContext(ctx).Where("driver_id = ?", driverID).Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}
