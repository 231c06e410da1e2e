package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/dashvault/internal/clock"
	"github.com/smallbiznis/dashvault/internal/config"
	"github.com/smallbiznis/dashvault/internal/observability/logger"
	pipelinedomain "github.com/smallbiznis/dashvault/internal/pipeline/domain"
	"github.com/smallbiznis/dashvault/internal/providers/mux"
	"github.com/smallbiznis/dashvault/internal/ratelimit"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Rules    *config.PipelineConfigHolder
	Repo     submissiondomain.Repository
	Pipeline pipelinedomain.Service
	Mux      mux.Client
	Limiter  *ratelimit.UploadLimiter `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	cfg      config.Config
	rules    *config.PipelineConfigHolder
	repo     submissiondomain.Repository
	pipeline pipelinedomain.Service
	mux      mux.Client
	limiter  *ratelimit.UploadLimiter
}

func NewService(p Params) submissiondomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("submission.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		cfg:      p.Cfg,
		rules:    p.Rules,
		repo:     p.Repo,
		pipeline: p.Pipeline,
		mux:      p.Mux,
		limiter:  p.Limiter,
	}
}

// InitiateUpload records a pending submission, opens a direct upload at
// the encoding provider and moves the submission to uploading.
func (s *Service) InitiateUpload(ctx context.Context, req submissiondomain.UploadRequest) (*submissiondomain.UploadResponse, error) {
	rules := s.rules.Get().Upload
	clean, err := validateUpload(req, rules)
	if err != nil {
		return nil, err
	}

	log := logger.WithContext(ctx, s.log).With(zap.String("driver_id", clean.DriverID))

	allowed, retryAfter, err := s.limiter.AllowDriver(ctx, clean.DriverID)
	if err != nil {
		log.Warn("upload rate limiter unavailable, allowing", zap.Error(err))
		allowed = true
	}
	if !allowed {
		return nil, fmt.Errorf("%w: retry after %s", submissiondomain.ErrUploadRateLimited, retryAfter.Round(time.Second))
	}

	now := s.clock.Now()
	sub := &submissiondomain.Submission{
		ID:          s.genID.Generate(),
		DriverID:    clean.DriverID,
		Filename:    clean.Filename,
		ContentType: clean.ContentType,
		SizeBytes:   clean.SizeBytes,
		Status:      submissiondomain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, s.db, sub); err != nil {
		return nil, err
	}
	log = logger.WithSubmission(log, sub.ID.String())

	upload, err := s.mux.CreateDirectUpload(ctx, mux.CreateUploadRequest{Passthrough: sub.ID.String()})
	if err != nil || upload == nil || upload.ID == "" {
		if err == nil {
			err = errors.New("provider returned no upload id")
		}
		log.Error("direct upload creation failed", zap.Error(err))
		_, applyErr := s.pipeline.Apply(context.WithoutCancel(ctx), pipelinedomain.Event{
			Kind:         pipelinedomain.KindUploadFailed,
			Source:       pipelinedomain.SourceUpload,
			SubmissionID: sub.ID,
			ErrorDetail:  "upload target: " + err.Error(),
		})
		if applyErr != nil {
			log.Error("failed to record upload failure", zap.Error(applyErr))
		}
		return nil, fmt.Errorf("%w: %v", submissiondomain.ErrUploadTargetFailed, err)
	}

	res, err := s.pipeline.Apply(ctx, pipelinedomain.Event{
		Kind:         pipelinedomain.KindUploadRequested,
		Source:       pipelinedomain.SourceUpload,
		SubmissionID: sub.ID,
		UploadID:     upload.ID,
		Note:         "direct upload created",
	})
	if err != nil {
		return nil, err
	}
	status := submissiondomain.StatusUploading
	if !res.Applied() {
		status = res.To
	}

	log.Info("upload initiated", zap.String("upload_id", upload.ID), zap.Int64("size_bytes", clean.SizeBytes))
	return &submissiondomain.UploadResponse{
		SubmissionID: sub.ID.String(),
		UploadID:     upload.ID,
		UploadURL:    upload.URL,
		Status:       status,
	}, nil
}

// GetStatus returns the current view of a submission. An upload session
// that never produced an asset is failed lazily here once it is older than
// the upload link deadline, counted from when the session started.
func (s *Service) GetStatus(ctx context.Context, id string) (*submissiondomain.StatusResponse, error) {
	subID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || subID == 0 {
		return nil, submissiondomain.ErrInvalidID
	}

	sub, err := s.repo.FindByID(ctx, s.db, subID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, submissiondomain.ErrNotFound
	}

	deadline := s.clock.Now().Add(-s.rules.Get().Staleness.UploadLink)
	if sub.Status == submissiondomain.StatusUploading && sub.MuxAssetID == nil && sub.UploadDeadlineFrom().Before(deadline) {
		res, err := s.pipeline.Apply(ctx, pipelinedomain.Event{
			Kind:         pipelinedomain.KindUploadStale,
			Source:       pipelinedomain.SourceUpload,
			SubmissionID: sub.ID,
			StaleBefore:  deadline,
			Note:         "upload session expired without an asset",
		})
		if err != nil {
			return nil, err
		}
		if res.Applied() {
			sub, err = s.repo.FindByID(ctx, s.db, subID)
			if err != nil {
				return nil, err
			}
		}
	}

	return s.view(sub), nil
}

func (s *Service) view(sub *submissiondomain.Submission) *submissiondomain.StatusResponse {
	out := &submissiondomain.StatusResponse{
		SubmissionID:       sub.ID.String(),
		DriverID:           sub.DriverID,
		Status:             sub.Status,
		MuxUploadID:        sub.MuxUploadID,
		MuxAssetID:         sub.MuxAssetID,
		MuxPlaybackID:      sub.MuxPlaybackID,
		AnonymizationJobID: sub.AnonymizationJobID,
		DurationSeconds:    sub.DurationSeconds,
		IsAnonymized:       sub.IsAnonymized,
		ProcessingNotes:    sub.ProcessingNotes,
		ErrorDetail:        sub.ErrorDetail,
		CreatedAt:          sub.CreatedAt,
		UpdatedAt:          sub.UpdatedAt,
		CompletedAt:        sub.CompletedAt,
	}
	if sub.MuxPlaybackID != nil && *sub.MuxPlaybackID != "" {
		out.PlaybackURL = fmt.Sprintf("%s/%s.m3u8", strings.TrimRight(s.cfg.Mux.PlaybackBaseURL, "/"), *sub.MuxPlaybackID)
	}
	return out
}

func validateUpload(req submissiondomain.UploadRequest, rules config.UploadRules) (submissiondomain.UploadRequest, error) {
	out := submissiondomain.UploadRequest{
		DriverID:    strings.TrimSpace(req.DriverID),
		Filename:    strings.TrimSpace(req.Filename),
		SizeBytes:   req.SizeBytes,
		ContentType: strings.ToLower(strings.TrimSpace(req.ContentType)),
	}
	if out.DriverID == "" {
		return out, submissiondomain.ErrInvalidDriver
	}

	name := out.Filename
	if name == "" || len(name) > rules.MaxFilenameLength || strings.ContainsAny(name, `/\`) || strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return out, submissiondomain.ErrInvalidFilename
	}
	ext := strings.ToLower(path.Ext(name))
	if !contains(rules.AllowedExtensions, ext) {
		return out, submissiondomain.ErrInvalidExtension
	}

	if semi := strings.IndexByte(out.ContentType, ';'); semi >= 0 {
		out.ContentType = strings.TrimSpace(out.ContentType[:semi])
	}
	if !contains(rules.AllowedContentTypes, out.ContentType) {
		return out, submissiondomain.ErrInvalidContentType
	}

	if out.SizeBytes <= 0 {
		return out, submissiondomain.ErrInvalidSize
	}
	if rules.MaxSizeBytes > 0 && out.SizeBytes > rules.MaxSizeBytes {
		return out, submissiondomain.ErrFileTooLarge
	}

	base := slug.Make(strings.TrimSuffix(name, path.Ext(name)))
	if base == "" {
		base = "video"
	}
	out.Filename = base + ext
	return out, nil
}

func contains(values []string, candidate string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), candidate) {
			return true
		}
	}
	return false
}
