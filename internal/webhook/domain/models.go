package domain

import (
	"context"
	"net/http"
	"time"

	pipelinedomain "github.com/smallbiznis/dashvault/internal/pipeline/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ServiceMux        = "mux"
	ServiceAnonymizer = "anonymizer"
)

// WebhookLog is the append-only record of every verified delivery.
type WebhookLog struct {
	ID          string         `json:"id" gorm:"primaryKey;type:text"`
	Service     string         `json:"service" gorm:"type:text;not null;index:idx_webhook_logs_dedupe"`
	EventType   string         `json:"event_type" gorm:"type:text;not null"`
	DedupeKey   string         `json:"dedupe_key" gorm:"type:text;not null;index:idx_webhook_logs_dedupe"`
	Payload     datatypes.JSON `json:"payload" gorm:"not null"`
	Duplicate   bool           `json:"duplicate" gorm:"not null;default:false"`
	Error       *string        `json:"error,omitempty" gorm:"type:text"`
	ReceivedAt  time.Time      `json:"received_at" gorm:"not null;index"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
}

func (WebhookLog) TableName() string { return "webhook_logs" }

// ParsedEvent is what an adapter extracts from a verified payload.
type ParsedEvent struct {
	EventType string
	// DedupeKey identifies a delivery; providers resend the same key on retry.
	DedupeKey string
	Event     pipelinedomain.Event
}

// Adapter verifies and decodes the deliveries of one provider.
type Adapter interface {
	Service() string
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	// Parse returns ErrEventIgnored together with a partially filled event
	// for types that carry nothing for the pipeline.
	Parse(ctx context.Context, payload []byte) (*ParsedEvent, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, log *WebhookLog) error
	MarkProcessed(ctx context.Context, db *gorm.DB, id string, processedAt time.Time, processErr *string) error
	CountErrorsSince(ctx context.Context, db *gorm.DB, since time.Time) (int64, error)
}
