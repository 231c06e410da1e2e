package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/dashvault/internal/config"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	"github.com/smallbiznis/dashvault/pkg/db/pagination"
)

// Action is an operator-triggered repair of one submission.
type Action string

const (
	ActionReconcileEncoding      Action = "reconcile_encoding"
	ActionReconcileAnonymization Action = "reconcile_anonymization"
	ActionForceComplete          Action = "force_complete"
	ActionRestart                Action = "restart"
)

func (a Action) Valid() bool {
	switch a {
	case ActionReconcileEncoding, ActionReconcileAnonymization, ActionForceComplete, ActionRestart:
		return true
	default:
		return false
	}
}

// Reconciles reports whether the action only re-reads provider state.
func (a Action) Reconciles() bool {
	return a == ActionReconcileEncoding || a == ActionReconcileAnonymization
}

// Outcome of one Apply call.
const (
	OutcomeApplied   = "applied"
	OutcomeUnchanged = "unchanged"
)

type Filter struct {
	pagination.Pagination
	Status string `form:"status"`
}

// StuckItem is a submission that has sat in one status past its threshold.
type StuckItem struct {
	SubmissionID       string                  `json:"submission_id"`
	DriverID           string                  `json:"driver_id"`
	Status             submissiondomain.Status `json:"status"`
	MuxUploadID        *string                 `json:"mux_upload_id,omitempty"`
	MuxAssetID         *string                 `json:"mux_asset_id,omitempty"`
	AnonymizationJobID *string                 `json:"anonymization_job_id,omitempty"`
	ErrorDetail        *string                 `json:"error_detail,omitempty"`
	UpdatedAt          time.Time               `json:"updated_at"`
	ElapsedSeconds     int64                   `json:"elapsed_seconds"`
	ThresholdSeconds   int64                   `json:"threshold_seconds"`
	SuggestedActions   []Action                `json:"suggested_actions"`
}

type ListStuckResponse struct {
	pagination.PageInfo
	Items []StuckItem `json:"items"`
}

type ApplyRequest struct {
	SubmissionID string `json:"-"`
	Action       Action `json:"action"`
	Reason       string `json:"reason"`
}

type ApplyResult struct {
	SubmissionID string                  `json:"submission_id"`
	Action       Action                  `json:"action"`
	Outcome      string                  `json:"outcome"`
	From         submissiondomain.Status `json:"from"`
	To           submissiondomain.Status `json:"to"`
	Detail       string                  `json:"detail,omitempty"`
}

// SweepSummary reports one scheduled reconciliation pass.
type SweepSummary struct {
	Scanned   int
	Applied   int
	Unchanged int
	Failed    int
}

type Service interface {
	ListStuck(ctx context.Context, filter Filter) (ListStuckResponse, error)
	Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error)
	// Sweep runs reconcile-only actions over every stuck submission.
	Sweep(ctx context.Context) (SweepSummary, error)
}

var (
	ErrInvalidAction       = errors.New("invalid_recovery_action")
	ErrInvalidStatus       = errors.New("invalid_status_filter")
	ErrActionNotApplicable = errors.New("recovery_action_not_applicable")
	ErrProviderUnavailable = errors.New("provider_unavailable")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
)

// Threshold is how long a submission may sit in Status before it counts as
// stuck.
type Threshold struct {
	Status submissiondomain.Status
	After  time.Duration
	// RequireNoAsset limits uploading to sessions that never linked an asset.
	RequireNoAsset bool
}

// Thresholds lists the stuck rule for every non-terminal status.
func Thresholds(rules config.StalenessRules) []Threshold {
	return []Threshold{
		{Status: submissiondomain.StatusPending, After: rules.Pending},
		{Status: submissiondomain.StatusUploading, After: rules.Uploading, RequireNoAsset: true},
		{Status: submissiondomain.StatusProcessing, After: rules.Processing},
		{Status: submissiondomain.StatusReady, After: rules.Ready},
		{Status: submissiondomain.StatusAnonymizing, After: rules.Anonymizing},
	}
}

// Criterion turns the threshold into a store query relative to now.
func (t Threshold) Criterion(now time.Time) submissiondomain.StaleCriterion {
	return submissiondomain.StaleCriterion{
		Status:         t.Status,
		Before:         now.Add(-t.After),
		RequireNoAsset: t.RequireNoAsset,
	}
}

// SuggestedActions lists the repairs that make sense for a stuck status,
// most conservative first.
func SuggestedActions(status submissiondomain.Status) []Action {
	switch status {
	case submissiondomain.StatusPending:
		return []Action{ActionRestart}
	case submissiondomain.StatusUploading, submissiondomain.StatusProcessing:
		return []Action{ActionReconcileEncoding, ActionRestart}
	case submissiondomain.StatusReady, submissiondomain.StatusAnonymizing:
		return []Action{ActionReconcileAnonymization, ActionForceComplete, ActionRestart}
	default:
		return nil
	}
}

// SweepAction is the reconcile-only action the scheduled sweep runs for a
// status, if any.
func SweepAction(status submissiondomain.Status) (Action, bool) {
	switch status {
	case submissiondomain.StatusUploading, submissiondomain.StatusProcessing:
		return ActionReconcileEncoding, true
	case submissiondomain.StatusReady, submissiondomain.StatusAnonymizing:
		return ActionReconcileAnonymization, true
	default:
		return "", false
	}
}
