package anonymizer_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/smallbiznis/dashvault/internal/config"
	pipelinedomain "github.com/smallbiznis/dashvault/internal/pipeline/domain"
	"github.com/smallbiznis/dashvault/internal/webhook/adapters"
	"github.com/smallbiznis/dashvault/internal/webhook/adapters/anonymizer"
	"github.com/smallbiznis/dashvault/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdapter() *anonymizer.Adapter {
	return anonymizer.NewAdapter(config.Config{Anonymizer: config.AnonymizerConfig{WebhookSecret: "anon-secret"}})
}

func TestVerifyReadsAnonymizerHeader(t *testing.T) {
	payload := []byte(`{"job_id":"job-1","status":"completed"}`)
	headers := http.Header{}
	headers.Set(anonymizer.SignatureHeader, "sha256="+adapters.Sign("anon-secret", payload))
	assert.NoError(t, newAdapter().Verify(context.Background(), payload, headers))

	headers.Del(anonymizer.SignatureHeader)
	assert.ErrorIs(t, newAdapter().Verify(context.Background(), payload, headers), domain.ErrInvalidSignature)
}

func TestParseJobStatuses(t *testing.T) {
	adapter := newAdapter()

	parsed, err := adapter.Parse(context.Background(), []byte(`{"job_id":"job-1","status":"completed","output_url":"https://cdn.example/out.mp4","reference_id":"1800000000000000001"}`))
	require.NoError(t, err)
	assert.Equal(t, pipelinedomain.KindAnonymizationCompleted, parsed.Event.Kind)
	assert.Equal(t, "job-1", parsed.Event.JobID)
	assert.Equal(t, "https://cdn.example/out.mp4", parsed.Event.OutputURL)
	assert.Equal(t, "1800000000000000001", parsed.Event.SubmissionID.String())
	assert.Equal(t, "job-1:completed", parsed.DedupeKey)
	assert.Equal(t, "job.completed", parsed.EventType)

	parsed, err = adapter.Parse(context.Background(), []byte(`{"job_id":"job-2","status":"FAILED","error":"face model crashed"}`))
	require.NoError(t, err)
	assert.Equal(t, pipelinedomain.KindAnonymizationFailed, parsed.Event.Kind)
	assert.Equal(t, "face model crashed", parsed.Event.ErrorDetail)

	parsed, err = adapter.Parse(context.Background(), []byte(`{"job_id":"job-3","status":"processing"}`))
	require.NoError(t, err)
	assert.Equal(t, pipelinedomain.KindAnonymizationProcessing, parsed.Event.Kind)

	_, err = adapter.Parse(context.Background(), []byte(`{"job_id":"job-4","status":"queued"}`))
	assert.ErrorIs(t, err, domain.ErrEventIgnored)

	_, err = adapter.Parse(context.Background(), []byte(`{"status":"completed"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = adapter.Parse(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}
