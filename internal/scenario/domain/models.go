package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	"gorm.io/gorm"
)

// Scenario is a labeled time range inside a submission's video.
type Scenario struct {
	ID              snowflake.ID `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	SubmissionID    snowflake.ID `json:"submission_id,string" gorm:"not null;index"`
	ScenarioType    Category     `json:"scenario_type" gorm:"type:text;not null"`
	StartTime       float64      `json:"start_time_seconds" gorm:"column:start_time_seconds;not null"`
	EndTime         float64      `json:"end_time_seconds" gorm:"column:end_time_seconds;not null"`
	ConfidenceScore float64      `json:"confidence_score" gorm:"not null"`
	Tags            TagSet       `json:"tags" gorm:"not null"`
	IsApproved      bool         `json:"is_approved" gorm:"not null;default:false"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
}

func (Scenario) TableName() string { return "scenarios" }

// Span is the scenario length in seconds.
func (s Scenario) Span() float64 {
	return s.EndTime - s.StartTime
}

// Detection is the extractor output contract. A real perception model can
// replace the frequency extractor as long as it returns these.
type Detection struct {
	Category   Category
	Start      float64
	End        float64
	Confidence float64
	Tags       TagSet
}

type Request struct {
	SubmissionID       snowflake.ID
	DurationSeconds    float64
	MaxDurationSeconds float64 // zero disables the bound
}

type Extractor interface {
	Extract(ctx context.Context, req Request) ([]Detection, error)
}

type Repository interface {
	InsertBatch(ctx context.Context, db *gorm.DB, scenarios []Scenario) error
	DeleteBySubmission(ctx context.Context, db *gorm.DB, submissionID snowflake.ID) error
	ListBySubmission(ctx context.Context, db *gorm.DB, submissionID snowflake.ID) ([]Scenario, error)
	ApprovalCounts(ctx context.Context, db *gorm.DB, since time.Time) (approved int64, total int64, err error)
}

type Service interface {
	Generate(ctx context.Context, submission *submissiondomain.Submission, force bool) (int, error)
	Reset(ctx context.Context, submissionID snowflake.ID) error
	List(ctx context.Context, submissionID snowflake.ID) ([]Scenario, error)
}

var (
	ErrNoDuration       = errors.New("duration_unknown")
	ErrDurationTooLong  = errors.New("duration_exceeds_limit")
	ErrInvalidDetection = errors.New("invalid_detection")
)
