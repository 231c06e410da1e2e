package anonymizer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dashvault/internal/config"
	pipelinedomain "github.com/smallbiznis/dashvault/internal/pipeline/domain"
	"github.com/smallbiznis/dashvault/internal/providers/anonymizer"
	"github.com/smallbiznis/dashvault/internal/providers/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(baseURL string) anonymizer.Client {
	return anonymizer.NewClient(anonymizer.Params{
		Cfg: config.Config{Anonymizer: config.AnonymizerConfig{
			BaseURL:        baseURL,
			APIKey:         "anon-key",
			RequestTimeout: time.Second,
		}},
		Log: zap.NewNop(),
	})
}

func TestStartJob(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))
		assert.Equal(t, "submission:42", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "/v1/jobs", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"job-7","status":"queued"}`))
	}))
	defer srv.Close()

	jobID, err := newClient(srv.URL).StartJob(context.Background(), pipelinedomain.AnonymizationRequest{
		SubmissionID: snowflake.ID(42),
		SourceURL:    "https://stream.example/pb.m3u8",
		CallbackURL:  "https://api.example/webhooks/anonymizer",
	})
	require.NoError(t, err)
	assert.Equal(t, "job-7", jobID)
	assert.Equal(t, "42", body["reference_id"])
	assert.Equal(t, "https://stream.example/pb.m3u8", body["source_url"])
}

func TestStartJobRejectsMissingJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).StartJob(context.Background(), pipelinedomain.AnonymizationRequest{SubmissionID: 1})
	assert.ErrorIs(t, err, anonymizer.ErrNoJobID)
}

func TestGetJobClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).GetJob(context.Background(), "job-7")
	var statusErr *transport.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "invalid api key", statusErr.Message)
	assert.False(t, statusErr.Retryable())
}
