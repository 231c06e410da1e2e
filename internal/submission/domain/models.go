package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the pipeline state of a submission.
type Status string

const (
	StatusPending     Status = "pending"
	StatusUploading   Status = "uploading"
	StatusProcessing  Status = "processing"
	StatusReady       Status = "ready"
	StatusAnonymizing Status = "anonymizing"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusDeleted     Status = "deleted"
)

// AllStatuses lists every status in pipeline order.
var AllStatuses = []Status{
	StatusPending,
	StatusUploading,
	StatusProcessing,
	StatusReady,
	StatusAnonymizing,
	StatusCompleted,
	StatusFailed,
	StatusDeleted,
}

// ActiveStatuses are the non-terminal statuses.
var ActiveStatuses = []Status{
	StatusPending,
	StatusUploading,
	StatusProcessing,
	StatusReady,
	StatusAnonymizing,
}

func (s Status) Valid() bool {
	for _, candidate := range AllStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDeleted:
		return true
	default:
		return false
	}
}

// Submission is one uploaded video and its pipeline progress.
type Submission struct {
	ID                   snowflake.ID `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	DriverID             string       `json:"driver_id" gorm:"type:text;not null;index"`
	Filename             string       `json:"filename" gorm:"type:text;not null"`
	ContentType          string       `json:"content_type" gorm:"type:text;not null"`
	SizeBytes            int64        `json:"size_bytes" gorm:"not null"`
	Status               Status       `json:"status" gorm:"type:text;not null;index"`
	MuxUploadID          *string      `json:"mux_upload_id,omitempty" gorm:"type:text;uniqueIndex"`
	MuxAssetID           *string      `json:"mux_asset_id,omitempty" gorm:"type:text;uniqueIndex"`
	MuxPlaybackID        *string      `json:"mux_playback_id,omitempty" gorm:"type:text"`
	AnonymizationJobID   *string      `json:"anonymization_job_id,omitempty" gorm:"type:text;uniqueIndex"`
	DurationSeconds      *float64     `json:"duration_seconds,omitempty"`
	IsAnonymized         bool         `json:"is_anonymized" gorm:"not null;default:false"`
	AnonymizedURL        *string      `json:"anonymized_url,omitempty" gorm:"type:text"`
	QualityScore         *float64     `json:"quality_score,omitempty"`
	ProcessingNotes      string       `json:"processing_notes,omitempty" gorm:"type:text;not null;default:''"`
	ErrorDetail          *string      `json:"error_detail,omitempty" gorm:"type:text"`
	UploadStartedAt      *time.Time   `json:"upload_started_at,omitempty"`
	ScenariosGeneratedAt *time.Time   `json:"scenarios_generated_at,omitempty"`
	CompletedAt          *time.Time   `json:"completed_at,omitempty"`
	CreatedAt            time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time    `json:"updated_at" gorm:"not null;index"`
}

func (Submission) TableName() string { return "submissions" }

// UploadDeadlineFrom is when the current upload session started. Rows
// written before the column existed fall back to created_at.
func (s Submission) UploadDeadlineFrom() time.Time {
	if s.UploadStartedAt != nil {
		return *s.UploadStartedAt
	}
	return s.CreatedAt
}

// UploadRequest is the input of upload initiation.
type UploadRequest struct {
	DriverID    string `json:"driver_id"`
	Filename    string `json:"filename"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentType string `json:"content_type"`
}

// UploadResponse carries the provider upload target back to the caller.
type UploadResponse struct {
	SubmissionID string `json:"submission_id"`
	UploadID     string `json:"upload_id"`
	UploadURL    string `json:"upload_url"`
	Status       Status `json:"status"`
}

// StatusResponse is the status query view of a submission.
type StatusResponse struct {
	SubmissionID       string     `json:"submission_id"`
	DriverID           string     `json:"driver_id"`
	Status             Status     `json:"status"`
	MuxUploadID        *string    `json:"mux_upload_id,omitempty"`
	MuxAssetID         *string    `json:"mux_asset_id,omitempty"`
	MuxPlaybackID      *string    `json:"mux_playback_id,omitempty"`
	AnonymizationJobID *string    `json:"anonymization_job_id,omitempty"`
	DurationSeconds    *float64   `json:"duration_seconds,omitempty"`
	IsAnonymized       bool       `json:"is_anonymized"`
	PlaybackURL        string     `json:"playback_url,omitempty"`
	ProcessingNotes    string     `json:"processing_notes,omitempty"`
	ErrorDetail        *string    `json:"error_detail,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
}
