// Package mux adapts encoding provider webhooks to pipeline events.
package mux

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dashvault/internal/config"
	pipelinedomain "github.com/smallbiznis/dashvault/internal/pipeline/domain"
	muxclient "github.com/smallbiznis/dashvault/internal/providers/mux"
	"github.com/smallbiznis/dashvault/internal/webhook/adapters"
	"github.com/smallbiznis/dashvault/internal/webhook/domain"
)

const SignatureHeader = "Mux-Signature"

type Adapter struct {
	secret string
}

func NewAdapter(cfg config.Config) *Adapter {
	return &Adapter{secret: cfg.Mux.WebhookSecret}
}

func (a *Adapter) Service() string {
	return domain.ServiceMux
}

func (a *Adapter) Verify(_ context.Context, payload []byte, headers http.Header) error {
	return adapters.VerifyHMAC(a.secret, payload, headers.Get(SignatureHeader))
}

type event struct {
	ID     string   `json:"id"`
	Type   string   `json:"type"`
	Object resource `json:"object"`
	Data   resource `json:"data"`
}

// resource covers both upload and asset bodies. Mux sends the full object
// under data; object only carries the id and type.
type resource struct {
	ID          string                 `json:"id"`
	Status      string                 `json:"status"`
	Duration    *float64               `json:"duration"`
	AssetID     string                 `json:"asset_id"`
	UploadID    string                 `json:"upload_id"`
	Passthrough string                 `json:"passthrough"`
	PlaybackIDs []muxclient.PlaybackID `json:"playback_ids"`
	Errors      *muxclient.AssetErrors `json:"errors"`
	Error       *muxclient.UploadError `json:"error"`
	NewAsset    *newAssetSettings      `json:"new_asset_settings"`
}

type newAssetSettings struct {
	Passthrough string `json:"passthrough"`
}

func (r resource) merge(fallback resource) resource {
	if r.ID == "" {
		r.ID = fallback.ID
	}
	if r.Status == "" {
		r.Status = fallback.Status
	}
	if r.Duration == nil {
		r.Duration = fallback.Duration
	}
	if r.AssetID == "" {
		r.AssetID = fallback.AssetID
	}
	if r.UploadID == "" {
		r.UploadID = fallback.UploadID
	}
	if r.Passthrough == "" {
		r.Passthrough = fallback.Passthrough
	}
	if len(r.PlaybackIDs) == 0 {
		r.PlaybackIDs = fallback.PlaybackIDs
	}
	if r.Errors == nil {
		r.Errors = fallback.Errors
	}
	if r.Error == nil {
		r.Error = fallback.Error
	}
	if r.NewAsset == nil {
		r.NewAsset = fallback.NewAsset
	}
	return r
}

func (a *Adapter) Parse(_ context.Context, payload []byte) (*domain.ParsedEvent, error) {
	var evt event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	eventType := strings.TrimSpace(evt.Type)
	if eventType == "" {
		return nil, domain.ErrInvalidPayload
	}

	res := evt.Data.merge(evt.Object)
	parsed := &domain.ParsedEvent{
		EventType: eventType,
		DedupeKey: dedupeKey(evt.ID, eventType, res.ID),
		Event: pipelinedomain.Event{
			Source:       pipelinedomain.SourceMux,
			SubmissionID: passthroughID(res),
		},
	}
	out := &parsed.Event

	switch eventType {
	case "video.upload.created":
		out.Kind = pipelinedomain.KindUploadCreated
		out.UploadID = res.ID
	case "video.upload.asset_created":
		out.Kind = pipelinedomain.KindAssetLinked
		out.UploadID = res.ID
		out.AssetID = res.AssetID
	case "video.upload.errored", "video.upload.cancelled":
		out.Kind = pipelinedomain.KindUploadFailed
		out.UploadID = res.ID
		out.ErrorDetail = uploadErrorDetail(eventType, res.Error)
	case "video.asset.created":
		if res.UploadID == "" {
			return parsed, domain.ErrEventIgnored
		}
		out.Kind = pipelinedomain.KindAssetLinked
		out.UploadID = res.UploadID
		out.AssetID = res.ID
	case "video.asset.ready":
		out.Kind = pipelinedomain.KindAssetReady
		out.AssetID = res.ID
		out.UploadID = res.UploadID
		out.DurationSeconds = res.Duration
		out.PlaybackID = primaryPlaybackID(res)
	case "video.asset.errored":
		out.Kind = pipelinedomain.KindAssetErrored
		out.AssetID = res.ID
		out.UploadID = res.UploadID
		out.ErrorDetail = (&muxclient.Asset{Errors: res.Errors}).ErrorDetail()
	case "video.asset.deleted":
		out.Kind = pipelinedomain.KindAssetDeleted
		out.AssetID = res.ID
	case "video.asset.updated":
		out.Kind = pipelinedomain.KindAssetUpdated
		out.AssetID = res.ID
	case "video.asset.warning":
		out.Kind = pipelinedomain.KindAssetWarning
		out.AssetID = res.ID
	default:
		return parsed, domain.ErrEventIgnored
	}
	return parsed, nil
}

func dedupeKey(eventID, eventType, objectID string) string {
	if id := strings.TrimSpace(eventID); id != "" {
		return id
	}
	return fmt.Sprintf("%s:%s", eventType, objectID)
}

func primaryPlaybackID(res resource) string {
	return (&muxclient.Asset{PlaybackIDs: res.PlaybackIDs}).PrimaryPlaybackID()
}

func passthroughID(res resource) snowflake.ID {
	value := res.Passthrough
	if value == "" && res.NewAsset != nil {
		value = res.NewAsset.Passthrough
	}
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return id
}

func uploadErrorDetail(eventType string, err *muxclient.UploadError) string {
	if err == nil {
		return eventType
	}
	if err.Type == "" {
		return err.Message
	}
	if err.Message == "" {
		return err.Type
	}
	return err.Type + ": " + err.Message
}
