package mux_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/dashvault/internal/config"
	"github.com/smallbiznis/dashvault/internal/providers/mux"
	"github.com/smallbiznis/dashvault/internal/providers/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(baseURL string) mux.Client {
	return mux.NewClient(mux.Params{
		Cfg: config.Config{Mux: config.MuxConfig{
			BaseURL:        baseURL,
			TokenID:        "token-id",
			TokenSecret:    "token-secret",
			CORSOrigin:     "*",
			RequestTimeout: time.Second,
		}},
		Log: zap.NewNop(),
	})
}

func TestCreateDirectUploadSendsPassthrough(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "token-id", user)
		assert.Equal(t, "token-secret", pass)
		assert.Equal(t, "/video/v1/uploads", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"up-1","status":"waiting","url":"https://storage.example/put"}}`))
	}))
	defer srv.Close()

	upload, err := newClient(srv.URL).CreateDirectUpload(context.Background(), mux.CreateUploadRequest{Passthrough: "sub-1"})
	require.NoError(t, err)
	assert.Equal(t, "up-1", upload.ID)
	assert.Equal(t, "https://storage.example/put", upload.URL)

	settings, _ := body["new_asset_settings"].(map[string]any)
	assert.Equal(t, "sub-1", settings["passthrough"])
}

func TestGetAssetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"id":"as-1","status":"ready","duration":61.5,"playback_ids":[{"id":"pb-signed","policy":"signed"},{"id":"pb-1","policy":"public"}]}}`))
	}))
	defer srv.Close()

	asset, err := newClient(srv.URL).GetAsset(context.Background(), "as-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, mux.AssetStatusReady, asset.Status)
	assert.Equal(t, 61.5, asset.Duration)
	assert.Equal(t, "pb-1", asset.PrimaryPlaybackID())
}

func TestGetUploadNotFoundIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"not_found","messages":["upload not found"]}}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).GetUpload(context.Background(), "missing")
	assert.ErrorIs(t, err, transport.ErrNotFound)
	assert.Contains(t, err.Error(), "upload not found")
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnconfiguredClient(t *testing.T) {
	client := mux.NewClient(mux.Params{Log: zap.NewNop()})

	_, err := client.GetAsset(context.Background(), "as-1")
	assert.ErrorIs(t, err, transport.ErrNotConfigured)
}

func TestAssetErrorDetail(t *testing.T) {
	asset := &mux.Asset{Errors: &mux.AssetErrors{Type: "invalid_input", Messages: []string{"bad codec", "no video track"}}}
	assert.Equal(t, "invalid_input: bad codec; no video track", asset.ErrorDetail())
	assert.Equal(t, "", (&mux.Asset{}).ErrorDetail())
}
