package domain

import (
	"context"
	"errors"
	"time"
)

// DefaultWindow bounds latency, approval and webhook error signals when the
// caller does not choose one.
const DefaultWindow = 24 * time.Hour

// MaxWindow caps how far back a signal query may look.
const MaxWindow = 30 * 24 * time.Hour

// Signals is a point-in-time health summary of the pipeline.
type Signals struct {
	GeneratedAt   time.Time `json:"generated_at"`
	WindowSeconds int64     `json:"window_seconds"`

	StatusCounts map[string]int64 `json:"status_counts"`
	StuckCounts  map[string]int64 `json:"stuck_counts"`
	StuckTotal   int64            `json:"stuck_total"`

	// AverageLatencySeconds is the mean created to completed time of
	// submissions completed inside the window. Nil when none completed.
	AverageLatencySeconds *float64 `json:"average_latency_seconds"`
	CompletedInWindow     int64    `json:"completed_in_window"`

	// ApprovalRate is approved over generated scenarios in the window. Nil
	// when no scenario was generated.
	ApprovalRate      *float64 `json:"approval_rate"`
	ScenariosInWindow int64    `json:"scenarios_in_window"`

	WebhookErrors int64 `json:"webhook_errors"`
}

type Service interface {
	Signals(ctx context.Context, window time.Duration) (*Signals, error)
}

var ErrInvalidWindow = errors.New("invalid_window")
