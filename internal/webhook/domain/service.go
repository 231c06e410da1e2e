package domain

import (
	"context"
	"errors"
	"net/http"
)

// Outcome reports how a delivery was handled after verification.
type Outcome struct {
	LogID     string `json:"log_id"`
	EventType string `json:"event_type"`
	Duplicate bool   `json:"duplicate"`
	Ignored   bool   `json:"ignored"`
}

// Service ingests provider deliveries. Only ErrInvalidSignature and
// ErrInvalidPayload are returned to the caller; processing errors are
// recorded on the log and acknowledged.
type Service interface {
	Handle(ctx context.Context, service string, payload []byte, headers http.Header) (*Outcome, error)
}

var (
	ErrProviderNotFound = errors.New("webhook_provider_not_found")
	ErrInvalidSignature = errors.New("invalid_webhook_signature")
	ErrInvalidPayload   = errors.New("invalid_webhook_payload")
	ErrEventIgnored     = errors.New("webhook_event_ignored")
)
