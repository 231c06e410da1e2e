package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
)

const (
	SourceMux        = "mux"
	SourceAnonymizer = "anonymizer"
	SourceUpload     = "upload"
	SourceRecovery   = "recovery"
	SourceScheduler  = "scheduler"
)

// Event is the canonical input of the state machine. Provider adapters and
// internal callers fill only the correlation keys they know.
type Event struct {
	Kind   Kind
	Source string

	SubmissionID snowflake.ID
	UploadID     string
	AssetID      string
	PlaybackID   string
	JobID        string

	DurationSeconds *float64
	OutputURL       string
	ErrorDetail     string
	Note            string

	// StaleBefore bounds upload.stale to sessions created before it.
	StaleBefore time.Time
}

// Outcome classifies what Apply did with an event.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNoop     Outcome = "noop"
	OutcomeNotFound Outcome = "not_found"
	OutcomeLogged   Outcome = "logged"
)

// Result reports the effect of one event.
type Result struct {
	Outcome      Outcome
	SubmissionID snowflake.ID
	From         submissiondomain.Status
	To           submissiondomain.Status
}

func (r Result) Applied() bool {
	return r.Outcome == OutcomeApplied
}
