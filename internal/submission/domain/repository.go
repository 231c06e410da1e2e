package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Guard is an extra SQL predicate a conditional update must satisfy, for
// example "mux_asset_id IS NULL".
type Guard struct {
	Expr string
	Args []any
}

// ConditionalUpdate changes one submission only while it is in one of From
// and every guard holds.
type ConditionalUpdate struct {
	ID     snowflake.ID
	From   []Status
	Guards []Guard
	Set    map[string]any
}

// StaleCriterion matches submissions in Status whose updated_at is older
// than Before.
type StaleCriterion struct {
	Status         Status
	Before         time.Time
	RequireNoAsset bool
}

// StaleQuery pages, by id, through submissions matching any criterion.
type StaleQuery struct {
	Criteria []StaleCriterion
	AfterID  snowflake.ID
	Limit    int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, submission *Submission) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Submission, error)
	FindByUploadID(ctx context.Context, db *gorm.DB, uploadID string) (*Submission, error)
	FindByAssetID(ctx context.Context, db *gorm.DB, assetID string) (*Submission, error)
	FindByJobID(ctx context.Context, db *gorm.DB, jobID string) (*Submission, error)
	Update(ctx context.Context, db *gorm.DB, update ConditionalUpdate) (bool, error)
	ListStale(ctx context.Context, db *gorm.DB, query StaleQuery) ([]Submission, error)
	CountByStatus(ctx context.Context, db *gorm.DB) (map[Status]int64, error)
	CountStaleByStatus(ctx context.Context, db *gorm.DB, status Status, before time.Time, requireNoAsset bool) (int64, error)
	CountCompletedByDriver(ctx context.Context, db *gorm.DB, driverID string, exclude snowflake.ID) (int64, error)
	CompletionLatencies(ctx context.Context, db *gorm.DB, since time.Time) ([]float64, error)
}
