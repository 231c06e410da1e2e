// Package mux is the client for the encoding and streaming provider.
package mux

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallbiznis/dashvault/internal/config"
	obsmetrics "github.com/smallbiznis/dashvault/internal/observability/metrics"
	"github.com/smallbiznis/dashvault/internal/providers/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const ProviderName = "mux"

// Upload statuses reported by the provider.
const (
	UploadStatusWaiting      = "waiting"
	UploadStatusAssetCreated = "asset_created"
	UploadStatusErrored      = "errored"
	UploadStatusCancelled    = "cancelled"
	UploadStatusTimedOut     = "timed_out"
)

// Asset statuses reported by the provider.
const (
	AssetStatusPreparing = "preparing"
	AssetStatusReady     = "ready"
	AssetStatusErrored   = "errored"
)

type UploadError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Upload struct {
	ID      string       `json:"id"`
	Status  string       `json:"status"`
	URL     string       `json:"url"`
	AssetID string       `json:"asset_id"`
	Error   *UploadError `json:"error,omitempty"`
}

type PlaybackID struct {
	ID     string `json:"id"`
	Policy string `json:"policy"`
}

type AssetErrors struct {
	Type     string   `json:"type"`
	Messages []string `json:"messages"`
}

type Asset struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	Duration    float64      `json:"duration"`
	UploadID    string       `json:"upload_id"`
	Passthrough string       `json:"passthrough"`
	PlaybackIDs []PlaybackID `json:"playback_ids"`
	Errors      *AssetErrors `json:"errors,omitempty"`
}

// PrimaryPlaybackID returns the first public playback id, falling back to any.
func (a *Asset) PrimaryPlaybackID() string {
	if a == nil {
		return ""
	}
	for _, p := range a.PlaybackIDs {
		if p.Policy == "public" && p.ID != "" {
			return p.ID
		}
	}
	for _, p := range a.PlaybackIDs {
		if p.ID != "" {
			return p.ID
		}
	}
	return ""
}

// ErrorDetail flattens the asset error list.
func (a *Asset) ErrorDetail() string {
	if a == nil || a.Errors == nil {
		return ""
	}
	detail := strings.Join(a.Errors.Messages, "; ")
	if a.Errors.Type != "" {
		if detail == "" {
			return a.Errors.Type
		}
		detail = a.Errors.Type + ": " + detail
	}
	return detail
}

// CreateUploadRequest asks for a direct upload session.
type CreateUploadRequest struct {
	// Passthrough is echoed back on the asset; it carries the submission id.
	Passthrough string
}

type Client interface {
	CreateDirectUpload(ctx context.Context, req CreateUploadRequest) (*Upload, error)
	GetUpload(ctx context.Context, uploadID string) (*Upload, error)
	GetAsset(ctx context.Context, assetID string) (*Asset, error)
}

type Params struct {
	fx.In

	Cfg        config.Config
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type client struct {
	cfg       config.MuxConfig
	transport *transport.Client
}

func NewClient(p Params) Client {
	cfg := p.Cfg.Mux
	log := p.Log.Named("providers.mux")
	return &client{
		cfg: cfg,
		transport: transport.New(transport.Options{
			Provider: ProviderName,
			Timeout:  cfg.RequestTimeout,
		}, func(req *http.Request) {
			req.SetBasicAuth(cfg.TokenID, cfg.TokenSecret)
		}, log, p.ObsMetrics),
	}
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type newAssetSettings struct {
	PlaybackPolicy []string `json:"playback_policy"`
	Passthrough    string   `json:"passthrough,omitempty"`
}

type createUploadBody struct {
	CORSOrigin       string           `json:"cors_origin"`
	NewAssetSettings newAssetSettings `json:"new_asset_settings"`
}

func (c *client) CreateDirectUpload(ctx context.Context, req CreateUploadRequest) (*Upload, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	body := createUploadBody{
		CORSOrigin: c.cfg.CORSOrigin,
		NewAssetSettings: newAssetSettings{
			PlaybackPolicy: []string{"public"},
			Passthrough:    req.Passthrough,
		},
	}
	var out envelope[Upload]
	if err := c.transport.Do(ctx, "create_upload", http.MethodPost, c.endpoint("uploads"), nil, body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *client) GetUpload(ctx context.Context, uploadID string) (*Upload, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var out envelope[Upload]
	if err := c.transport.Do(ctx, "get_upload", http.MethodGet, c.endpoint("uploads", uploadID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *client) GetAsset(ctx context.Context, assetID string) (*Asset, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var out envelope[Asset]
	if err := c.transport.Do(ctx, "get_asset", http.MethodGet, c.endpoint("assets", assetID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (c *client) ready() error {
	if c.cfg.BaseURL == "" || c.cfg.TokenID == "" || c.cfg.TokenSecret == "" {
		return transport.ErrNotConfigured
	}
	return nil
}

func (c *client) endpoint(parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, part := range parts {
		escaped = append(escaped, url.PathEscape(part))
	}
	return c.cfg.BaseURL + "/video/v1/" + strings.Join(escaped, "/")
}
