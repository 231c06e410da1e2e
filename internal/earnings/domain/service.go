package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Options struct {
	ForceRecalculate bool
	QualityScore     *float64
	// Automatic marks calls made by the pipeline rather than an operator.
	Automatic bool
}

type Service interface {
	CalculateForSubmission(ctx context.Context, submissionID string, opts Options) (*Earning, error)
	CalculateAutomatic(ctx context.Context, submissionID snowflake.ID) error
	UpdatePaymentStatus(ctx context.Context, earningID string, status PaymentStatus) (*Earning, error)
	DriverSummary(ctx context.Context, driverID string) (*DriverSummary, error)
}

type Repository interface {
	FindBySubmission(ctx context.Context, db *gorm.DB, submissionID snowflake.ID) (*Earning, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Earning, error)
	Upsert(ctx context.Context, db *gorm.DB, earning *Earning) error
	UpdatePaymentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to PaymentStatus, paidAt *time.Time, now time.Time) (bool, error)
	ListByDriver(ctx context.Context, db *gorm.DB, driverID string, limit int) ([]Earning, error)
	RecomputeDriver(ctx context.Context, db *gorm.DB, driverID string, monthStart, now time.Time) (*DriverEarnings, error)
	FindDriver(ctx context.Context, db *gorm.DB, driverID string) (*DriverEarnings, error)
}

var (
	ErrAlreadyCalculated        = errors.New("earnings_already_calculated")
	ErrEarningSettled           = errors.New("earning_already_paid")
	ErrSubmissionNotCompleted   = errors.New("submission_not_completed")
	ErrNotFound                 = errors.New("earning_not_found")
	ErrInvalidID                = errors.New("invalid_earning_id")
	ErrInvalidPaymentStatus     = errors.New("invalid_payment_status")
	ErrIllegalPaymentTransition = errors.New("illegal_payment_status_transition")
	ErrInvalidQualityScore      = errors.New("invalid_quality_score")
	ErrInvalidDriver            = errors.New("invalid_driver_id")
)
