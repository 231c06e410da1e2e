// Package anonymizer is the client for the content anonymization provider.
package anonymizer

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallbiznis/dashvault/internal/config"
	obsmetrics "github.com/smallbiznis/dashvault/internal/observability/metrics"
	pipelinedomain "github.com/smallbiznis/dashvault/internal/pipeline/domain"
	"github.com/smallbiznis/dashvault/internal/providers/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const ProviderName = "anonymizer"

// Job statuses reported by the provider.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

var ErrNoJobID = errors.New("anonymizer_missing_job_id")

type Job struct {
	ID        string `json:"job_id"`
	Status    string `json:"status"`
	OutputURL string `json:"output_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// EventKind maps the job status to the pipeline event it drives. Queued
// jobs carry nothing new.
func (j *Job) EventKind() (pipelinedomain.Kind, bool) {
	if j == nil {
		return "", false
	}
	switch strings.ToLower(strings.TrimSpace(j.Status)) {
	case JobStatusProcessing:
		return pipelinedomain.KindAnonymizationProcessing, true
	case JobStatusCompleted:
		return pipelinedomain.KindAnonymizationCompleted, true
	case JobStatusFailed:
		return pipelinedomain.KindAnonymizationFailed, true
	default:
		return "", false
	}
}

type Client interface {
	StartJob(ctx context.Context, req pipelinedomain.AnonymizationRequest) (string, error)
	GetJob(ctx context.Context, jobID string) (*Job, error)
}

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type client struct {
	cfg       config.AnonymizerConfig
	transport *transport.Client
}

func NewClient(p Params) Client {
	cfg := p.Cfg.Anonymizer
	return &client{
		cfg: cfg,
		transport: transport.New(transport.Options{
			Provider: ProviderName,
			Timeout:  cfg.RequestTimeout,
			MaxTries: 2,
		}, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
		}, p.Log.Named("providers.anonymizer"), p.ObsMetrics),
	}
}

type startJobBody struct {
	SourceURL   string `json:"source_url"`
	CallbackURL string `json:"callback_url,omitempty"`
	ReferenceID string `json:"reference_id"`
}

// StartJob submits the playback rendition for anonymization. The
// submission id doubles as the idempotency key so a retried request cannot
// open a second job.
func (c *client) StartJob(ctx context.Context, req pipelinedomain.AnonymizationRequest) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	body := startJobBody{
		SourceURL:   req.SourceURL,
		CallbackURL: req.CallbackURL,
		ReferenceID: req.SubmissionID.String(),
	}
	headers := map[string]string{"Idempotency-Key": "submission:" + req.SubmissionID.String()}

	var job Job
	if err := c.transport.Do(ctx, "start_job", http.MethodPost, c.cfg.BaseURL+"/v1/jobs", headers, body, &job); err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", ErrNoJobID
	}
	return job.ID, nil
}

func (c *client) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var job Job
	if err := c.transport.Do(ctx, "get_job", http.MethodGet, c.cfg.BaseURL+"/v1/jobs/"+url.PathEscape(jobID), nil, nil, &job); err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = jobID
	}
	return &job, nil
}

func (c *client) ready() error {
	if c.cfg.BaseURL == "" || c.cfg.APIKey == "" {
		return transport.ErrNotConfigured
	}
	return nil
}
