// Package anonymizer adapts anonymization provider callbacks to pipeline
// events.
package anonymizer

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dashvault/internal/config"
	pipelinedomain "github.com/smallbiznis/dashvault/internal/pipeline/domain"
	anonymizerclient "github.com/smallbiznis/dashvault/internal/providers/anonymizer"
	"github.com/smallbiznis/dashvault/internal/webhook/adapters"
	"github.com/smallbiznis/dashvault/internal/webhook/domain"
)

const SignatureHeader = "X-Anonymizer-Signature"

type Adapter struct {
	secret string
}

func NewAdapter(cfg config.Config) *Adapter {
	return &Adapter{secret: cfg.Anonymizer.WebhookSecret}
}

func (a *Adapter) Service() string {
	return domain.ServiceAnonymizer
}

func (a *Adapter) Verify(_ context.Context, payload []byte, headers http.Header) error {
	return adapters.VerifyHMAC(a.secret, payload, headers.Get(SignatureHeader))
}

type callback struct {
	anonymizerclient.Job
	ReferenceID string `json:"reference_id"`
}

func (a *Adapter) Parse(_ context.Context, payload []byte) (*domain.ParsedEvent, error) {
	var body callback
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	jobID := strings.TrimSpace(body.ID)
	status := strings.ToLower(strings.TrimSpace(body.Status))
	if jobID == "" || status == "" {
		return nil, domain.ErrInvalidPayload
	}

	parsed := &domain.ParsedEvent{
		EventType: "job." + status,
		DedupeKey: jobID + ":" + status,
		Event: pipelinedomain.Event{
			Source:       pipelinedomain.SourceAnonymizer,
			JobID:        jobID,
			SubmissionID: referenceID(body.ReferenceID),
		},
	}

	kind, ok := body.Job.EventKind()
	if !ok {
		return parsed, domain.ErrEventIgnored
	}
	parsed.Event.Kind = kind
	switch kind {
	case pipelinedomain.KindAnonymizationCompleted:
		parsed.Event.OutputURL = strings.TrimSpace(body.OutputURL)
	case pipelinedomain.KindAnonymizationFailed:
		parsed.Event.ErrorDetail = strings.TrimSpace(body.Error)
	}
	return parsed, nil
}

func referenceID(value string) snowflake.ID {
	value = strings.TrimPrefix(strings.TrimSpace(value), "submission:")
	id, err := snowflake.ParseString(value)
	if err != nil {
		return 0
	}
	return id
}
