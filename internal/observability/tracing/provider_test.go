package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func TestSafeAttributesDropsSecretsAndEmptyValues(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.method", "POST"),
		attribute.String("authorization", "Bearer x"),
		attribute.String("http.route", ""),
		attribute.Int("http.status_code", 200),
	)

	keys := make([]string, 0, len(attrs))
	for _, a := range attrs {
		keys = append(keys, string(a.Key))
	}
	assert.Equal(t, []string{"http.method", "http.status_code"}, keys)
}

func TestSafeErrorTruncates(t *testing.T) {
	err := SafeError(errors.New(strings.Repeat("x", 400)))
	assert.Len(t, err.Error(), 256)
	assert.Nil(t, SafeError(nil))
}

func TestWrapHTTPClientPropagatesTraceContext(t *testing.T) {
	provider, err := NewProvider(nil, Config{Enabled: false, ServiceName: "dashvault-test", SamplingRatio: 1}, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := WrapHTTPClient(srv.Client())
	ctx, span := provider.Tracer("test").Start(context.Background(), "parent")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/assets/a1", nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	span.End()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, traceparent, span.SpanContext().TraceID().String())
}
