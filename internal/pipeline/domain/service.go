package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
)

// Service drives submissions through the transition table.
type Service interface {
	Apply(ctx context.Context, event Event) (Result, error)
	// Kickoff requests anonymization for a ready submission that has no job.
	Kickoff(ctx context.Context, submissionID snowflake.ID) (Result, error)
}

// ScenarioGenerator produces scenario rows for a ready submission.
type ScenarioGenerator interface {
	Generate(ctx context.Context, submission *submissiondomain.Submission, force bool) (int, error)
	Reset(ctx context.Context, submissionID snowflake.ID) error
}

// AnonymizationRequest describes one anonymization job.
type AnonymizationRequest struct {
	SubmissionID snowflake.ID
	SourceURL    string
	CallbackURL  string
}

// Anonymizer starts anonymization jobs at provider B.
type Anonymizer interface {
	StartJob(ctx context.Context, req AnonymizationRequest) (string, error)
}

// EarningsTrigger runs the automatic earnings calculation once a
// submission completes.
type EarningsTrigger interface {
	CalculateAutomatic(ctx context.Context, submissionID snowflake.ID) error
}

var (
	ErrUnknownKind       = errors.New("unknown_event_kind")
	ErrIllegalTransition = errors.New("illegal_transition")
	ErrMissingKey        = errors.New("missing_correlation_key")
)
