package mux_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/smallbiznis/dashvault/internal/config"
	pipelinedomain "github.com/smallbiznis/dashvault/internal/pipeline/domain"
	"github.com/smallbiznis/dashvault/internal/webhook/adapters"
	"github.com/smallbiznis/dashvault/internal/webhook/adapters/mux"
	"github.com/smallbiznis/dashvault/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdapter() *mux.Adapter {
	return mux.NewAdapter(config.Config{Mux: config.MuxConfig{WebhookSecret: "mux-secret"}})
}

func TestVerifyReadsMuxHeader(t *testing.T) {
	adapter := newAdapter()
	payload := []byte(`{"type":"video.asset.ready"}`)

	headers := http.Header{}
	headers.Set(mux.SignatureHeader, "t=1,v1="+adapters.Sign("mux-secret", payload))
	assert.NoError(t, adapter.Verify(context.Background(), payload, headers))

	headers.Set(mux.SignatureHeader, adapters.Sign("wrong", payload))
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, headers), domain.ErrInvalidSignature)
}

func TestParseMapsEventTypes(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    pipelinedomain.Event
		dedupe  string
	}{
		{
			name:    "asset created from upload",
			payload: `{"id":"evt-1","type":"video.upload.asset_created","object":{"type":"upload","id":"up-1"},"data":{"id":"up-1","asset_id":"asset-1","status":"asset_created"}}`,
			want:    pipelinedomain.Event{Kind: pipelinedomain.KindAssetLinked, UploadID: "up-1", AssetID: "asset-1"},
			dedupe:  "evt-1",
		},
		{
			name:    "upload errored",
			payload: `{"id":"evt-2","type":"video.upload.errored","data":{"id":"up-2","error":{"type":"invalid_input","message":"bad file"}}}`,
			want:    pipelinedomain.Event{Kind: pipelinedomain.KindUploadFailed, UploadID: "up-2", ErrorDetail: "invalid_input: bad file"},
			dedupe:  "evt-2",
		},
		{
			name:    "upload cancelled",
			payload: `{"type":"video.upload.cancelled","object":{"id":"up-3"}}`,
			want:    pipelinedomain.Event{Kind: pipelinedomain.KindUploadFailed, UploadID: "up-3", ErrorDetail: "video.upload.cancelled"},
			dedupe:  "video.upload.cancelled:up-3",
		},
		{
			name:    "asset ready",
			payload: `{"id":"evt-4","type":"video.asset.ready","object":{"id":"asset-4"},"data":{"id":"asset-4","status":"ready","duration":612.5,"upload_id":"up-4","playback_ids":[{"id":"signed-1","policy":"signed"},{"id":"pb-4","policy":"public"}]}}`,
			want:    pipelinedomain.Event{Kind: pipelinedomain.KindAssetReady, AssetID: "asset-4", UploadID: "up-4", PlaybackID: "pb-4"},
			dedupe:  "evt-4",
		},
		{
			name:    "asset errored",
			payload: `{"id":"evt-5","type":"video.asset.errored","data":{"id":"asset-5","errors":{"type":"invalid_input","messages":["no video track"]}}}`,
			want:    pipelinedomain.Event{Kind: pipelinedomain.KindAssetErrored, AssetID: "asset-5", ErrorDetail: "invalid_input: no video track"},
			dedupe:  "evt-5",
		},
		{
			name:    "asset deleted",
			payload: `{"id":"evt-6","type":"video.asset.deleted","object":{"id":"asset-6"}}`,
			want:    pipelinedomain.Event{Kind: pipelinedomain.KindAssetDeleted, AssetID: "asset-6"},
			dedupe:  "evt-6",
		},
		{
			name:    "asset created with upload",
			payload: `{"id":"evt-7","type":"video.asset.created","data":{"id":"asset-7","upload_id":"up-7"}}`,
			want:    pipelinedomain.Event{Kind: pipelinedomain.KindAssetLinked, AssetID: "asset-7", UploadID: "up-7"},
			dedupe:  "evt-7",
		},
		{
			name:    "asset warning",
			payload: `{"id":"evt-8","type":"video.asset.warning","data":{"id":"asset-8"}}`,
			want:    pipelinedomain.Event{Kind: pipelinedomain.KindAssetWarning, AssetID: "asset-8"},
			dedupe:  "evt-8",
		},
	}

	adapter := newAdapter()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := adapter.Parse(context.Background(), []byte(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.dedupe, parsed.DedupeKey)

			got := parsed.Event
			assert.Equal(t, pipelinedomain.SourceMux, got.Source)
			assert.Equal(t, tc.want.Kind, got.Kind)
			assert.Equal(t, tc.want.UploadID, got.UploadID)
			assert.Equal(t, tc.want.AssetID, got.AssetID)
			assert.Equal(t, tc.want.PlaybackID, got.PlaybackID)
			assert.Equal(t, tc.want.ErrorDetail, got.ErrorDetail)
		})
	}
}

func TestParseReadyCarriesDurationAndPassthrough(t *testing.T) {
	payload := `{"type":"video.asset.ready","data":{"id":"asset-1","duration":42.5,"passthrough":"1800000000000000001"}}`
	parsed, err := newAdapter().Parse(context.Background(), []byte(payload))
	require.NoError(t, err)
	if assert.NotNil(t, parsed.Event.DurationSeconds) {
		assert.InDelta(t, 42.5, *parsed.Event.DurationSeconds, 1e-9)
	}
	assert.Equal(t, "1800000000000000001", parsed.Event.SubmissionID.String())
}

func TestParseIgnoredAndInvalid(t *testing.T) {
	adapter := newAdapter()

	parsed, err := adapter.Parse(context.Background(), []byte(`{"id":"evt-9","type":"video.live_stream.idle","data":{"id":"ls-1"}}`))
	assert.ErrorIs(t, err, domain.ErrEventIgnored)
	if assert.NotNil(t, parsed) {
		assert.Equal(t, "video.live_stream.idle", parsed.EventType)
	}

	_, err = adapter.Parse(context.Background(), []byte(`{"id":"evt-10","type":"video.asset.created","data":{"id":"asset-10"}}`))
	assert.ErrorIs(t, err, domain.ErrEventIgnored)

	_, err = adapter.Parse(context.Background(), []byte(`{"type":`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	_, err = adapter.Parse(context.Background(), []byte(`{"data":{"id":"x"}}`))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}
