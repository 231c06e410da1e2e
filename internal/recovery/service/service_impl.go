package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/dashvault/internal/audit/domain"
	"github.com/smallbiznis/dashvault/internal/clock"
	"github.com/smallbiznis/dashvault/internal/config"
	obscontext "github.com/smallbiznis/dashvault/internal/observability/context"
	"github.com/smallbiznis/dashvault/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/dashvault/internal/observability/metrics"
	pipelinedomain "github.com/smallbiznis/dashvault/internal/pipeline/domain"
	anonymizerclient "github.com/smallbiznis/dashvault/internal/providers/anonymizer"
	"github.com/smallbiznis/dashvault/internal/providers/mux"
	"github.com/smallbiznis/dashvault/internal/providers/transport"
	recoverydomain "github.com/smallbiznis/dashvault/internal/recovery/domain"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	"github.com/smallbiznis/dashvault/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
	sweepActorID    = "recovery_sweep"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Rules      *config.PipelineConfigHolder
	Repo       submissiondomain.Repository
	Pipeline   pipelinedomain.Service
	Mux        mux.Client
	Anonymizer anonymizerclient.Client
	Audit      auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	rules      *config.PipelineConfigHolder
	repo       submissiondomain.Repository
	pipeline   pipelinedomain.Service
	mux        mux.Client
	anonymizer anonymizerclient.Client
	audit      auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) recoverydomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("recovery.service"),
		clock:      p.Clock,
		rules:      p.Rules,
		repo:       p.Repo,
		pipeline:   p.Pipeline,
		mux:        p.Mux,
		anonymizer: p.Anonymizer,
		audit:      p.Audit,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) ListStuck(ctx context.Context, filter recoverydomain.Filter) (recoverydomain.ListStuckResponse, error) {
	thresholds := recoverydomain.Thresholds(s.rules.Get().Staleness)
	if status := strings.ToLower(strings.TrimSpace(filter.Status)); status != "" {
		selected := thresholds[:0:0]
		for _, t := range thresholds {
			if string(t.Status) == status {
				selected = append(selected, t)
			}
		}
		if len(selected) == 0 {
			return recoverydomain.ListStuckResponse{}, recoverydomain.ErrInvalidStatus
		}
		thresholds = selected
	}

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var afterID snowflake.ID
	cursor, err := pagination.DecodeCursor(filter.PageToken)
	if err != nil {
		return recoverydomain.ListStuckResponse{}, recoverydomain.ErrInvalidPageToken
	}
	if cursor != nil {
		afterID, err = snowflake.ParseString(cursor.ID)
		if err != nil {
			return recoverydomain.ListStuckResponse{}, recoverydomain.ErrInvalidPageToken
		}
	}

	now := s.clock.Now()
	byStatus := make(map[submissiondomain.Status]recoverydomain.Threshold, len(thresholds))
	criteria := make([]submissiondomain.StaleCriterion, 0, len(thresholds))
	for _, t := range thresholds {
		byStatus[t.Status] = t
		criteria = append(criteria, t.Criterion(now))
	}

	rows, err := s.repo.ListStale(ctx, s.db, submissiondomain.StaleQuery{
		Criteria: criteria,
		AfterID:  afterID,
		Limit:    pageSize + 1,
	})
	if err != nil {
		return recoverydomain.ListStuckResponse{}, err
	}

	page, info, err := pagination.Trim(rows, pageSize, func(sub submissiondomain.Submission) pagination.Cursor {
		return pagination.Cursor{ID: sub.ID.String()}
	})
	if err != nil {
		return recoverydomain.ListStuckResponse{}, err
	}

	items := make([]recoverydomain.StuckItem, 0, len(page))
	for _, sub := range page {
		t := byStatus[sub.Status]
		items = append(items, recoverydomain.StuckItem{
			SubmissionID:       sub.ID.String(),
			DriverID:           sub.DriverID,
			Status:             sub.Status,
			MuxUploadID:        sub.MuxUploadID,
			MuxAssetID:         sub.MuxAssetID,
			AnonymizationJobID: sub.AnonymizationJobID,
			ErrorDetail:        sub.ErrorDetail,
			UpdatedAt:          sub.UpdatedAt,
			ElapsedSeconds:     int64(now.Sub(sub.UpdatedAt).Seconds()),
			ThresholdSeconds:   int64(t.After.Seconds()),
			SuggestedActions:   recoverydomain.SuggestedActions(sub.Status),
		})
	}

	return recoverydomain.ListStuckResponse{PageInfo: info, Items: items}, nil
}

// Apply runs one recovery action. Reconciliation re-reads provider state and
// replays it as a pipeline event, so repeating an action is harmless.
func (s *Service) Apply(ctx context.Context, req recoverydomain.ApplyRequest) (*recoverydomain.ApplyResult, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(req.SubmissionID))
	if err != nil || id == 0 {
		return nil, submissiondomain.ErrInvalidID
	}
	action := recoverydomain.Action(strings.ToLower(strings.TrimSpace(string(req.Action))))
	if !action.Valid() {
		return nil, recoverydomain.ErrInvalidAction
	}

	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, submissiondomain.ErrNotFound
	}

	log := logger.WithSubmission(logger.WithContext(ctx, s.log), sub.ID.String()).
		With(zap.String("action", string(action)))

	var (
		res    pipelinedomain.Result
		detail string
	)
	switch action {
	case recoverydomain.ActionReconcileEncoding:
		res, detail, err = s.reconcileEncoding(ctx, sub)
	case recoverydomain.ActionReconcileAnonymization:
		res, detail, err = s.reconcileAnonymization(ctx, sub)
	case recoverydomain.ActionForceComplete:
		res, err = s.pipeline.Apply(ctx, pipelinedomain.Event{
			Kind:         pipelinedomain.KindRecoveryForceComplete,
			Source:       pipelinedomain.SourceRecovery,
			SubmissionID: sub.ID,
			Note:         note(action, req.Reason),
		})
	case recoverydomain.ActionRestart:
		res, err = s.pipeline.Apply(ctx, pipelinedomain.Event{
			Kind:         pipelinedomain.KindRecoveryRestart,
			Source:       pipelinedomain.SourceRecovery,
			SubmissionID: sub.ID,
			Note:         note(action, req.Reason),
		})
	}
	if err != nil {
		s.obsMetrics.RecordRecoveryAction(ctx, string(action), "error")
		log.Warn("recovery action failed", zap.Error(err))
		return nil, err
	}

	out := &recoverydomain.ApplyResult{
		SubmissionID: sub.ID.String(),
		Action:       action,
		Outcome:      recoverydomain.OutcomeUnchanged,
		From:         sub.Status,
		To:           sub.Status,
		Detail:       detail,
	}
	if res.Applied() {
		out.Outcome = recoverydomain.OutcomeApplied
		out.To = res.To
	} else if out.Detail == "" {
		out.Detail = fmt.Sprintf("no change from %s", sub.Status)
	}

	s.obsMetrics.RecordRecoveryAction(ctx, string(action), out.Outcome)
	s.auditAction(ctx, out, req.Reason)
	log.Info("recovery action applied",
		zap.String("outcome", out.Outcome),
		zap.String("from", string(out.From)),
		zap.String("to", string(out.To)),
	)
	return out, nil
}

func (s *Service) reconcileEncoding(ctx context.Context, sub *submissiondomain.Submission) (pipelinedomain.Result, string, error) {
	if sub.MuxAssetID != nil && *sub.MuxAssetID != "" {
		asset, err := s.mux.GetAsset(ctx, *sub.MuxAssetID)
		return s.applyAsset(ctx, sub, *sub.MuxAssetID, asset, err)
	}
	if sub.MuxUploadID == nil || *sub.MuxUploadID == "" {
		return pipelinedomain.Result{}, "", fmt.Errorf("%w: no upload session to reconcile", recoverydomain.ErrActionNotApplicable)
	}

	uploadID := *sub.MuxUploadID
	upload, err := s.mux.GetUpload(ctx, uploadID)
	if errors.Is(err, transport.ErrNotFound) {
		res, err := s.pipeline.Apply(ctx, pipelinedomain.Event{
			Kind:         pipelinedomain.KindUploadFailed,
			Source:       pipelinedomain.SourceRecovery,
			SubmissionID: sub.ID,
			UploadID:     uploadID,
			ErrorDetail:  "upload session not found at provider",
		})
		return res, "upload session missing", err
	}
	if err != nil {
		return pipelinedomain.Result{}, "", providerError(err)
	}

	switch upload.Status {
	case mux.UploadStatusAssetCreated:
		if upload.AssetID == "" {
			return unchanged(sub), "upload reports an asset without an id", nil
		}
		linked, err := s.pipeline.Apply(ctx, pipelinedomain.Event{
			Kind:         pipelinedomain.KindAssetLinked,
			Source:       pipelinedomain.SourceRecovery,
			SubmissionID: sub.ID,
			UploadID:     uploadID,
			AssetID:      upload.AssetID,
		})
		if err != nil {
			return pipelinedomain.Result{}, "", err
		}
		asset, err := s.mux.GetAsset(ctx, upload.AssetID)
		res, detail, err := s.applyAsset(ctx, sub, upload.AssetID, asset, err)
		if err != nil {
			return pipelinedomain.Result{}, "", err
		}
		if linked.Applied() && !res.Applied() {
			return linked, "asset linked; " + detail, nil
		}
		return res, detail, nil
	case mux.UploadStatusErrored, mux.UploadStatusCancelled, mux.UploadStatusTimedOut:
		reason := "upload " + upload.Status
		if upload.Error != nil && upload.Error.Message != "" {
			reason += ": " + upload.Error.Message
		}
		res, err := s.pipeline.Apply(ctx, pipelinedomain.Event{
			Kind:         pipelinedomain.KindUploadFailed,
			Source:       pipelinedomain.SourceRecovery,
			SubmissionID: sub.ID,
			UploadID:     uploadID,
			ErrorDetail:  reason,
		})
		return res, reason, err
	default:
		return unchanged(sub), "upload still " + orUnknown(upload.Status), nil
	}
}

func (s *Service) applyAsset(ctx context.Context, sub *submissiondomain.Submission, assetID string, asset *mux.Asset, err error) (pipelinedomain.Result, string, error) {
	if errors.Is(err, transport.ErrNotFound) {
		res, err := s.pipeline.Apply(ctx, pipelinedomain.Event{
			Kind:    pipelinedomain.KindAssetDeleted,
			Source:  pipelinedomain.SourceRecovery,
			AssetID: assetID,
			Note:    "asset not found at provider",
		})
		return res, "asset missing at provider", err
	}
	if err != nil {
		return pipelinedomain.Result{}, "", providerError(err)
	}

	switch asset.Status {
	case mux.AssetStatusReady:
		event := pipelinedomain.Event{
			Kind:       pipelinedomain.KindAssetReady,
			Source:     pipelinedomain.SourceRecovery,
			AssetID:    assetID,
			UploadID:   asset.UploadID,
			PlaybackID: asset.PrimaryPlaybackID(),
		}
		if asset.Duration > 0 {
			duration := asset.Duration
			event.DurationSeconds = &duration
		}
		res, err := s.pipeline.Apply(ctx, event)
		return res, "asset ready", err
	case mux.AssetStatusErrored:
		detail := asset.ErrorDetail()
		if detail == "" {
			detail = "asset errored"
		}
		res, err := s.pipeline.Apply(ctx, pipelinedomain.Event{
			Kind:        pipelinedomain.KindAssetErrored,
			Source:      pipelinedomain.SourceRecovery,
			AssetID:     assetID,
			UploadID:    asset.UploadID,
			ErrorDetail: detail,
		})
		return res, detail, err
	default:
		return unchanged(sub), "asset still " + orUnknown(asset.Status), nil
	}
}

func (s *Service) reconcileAnonymization(ctx context.Context, sub *submissiondomain.Submission) (pipelinedomain.Result, string, error) {
	switch sub.Status {
	case submissiondomain.StatusReady, submissiondomain.StatusAnonymizing:
	default:
		return unchanged(sub), fmt.Sprintf("%s does not await anonymization", sub.Status), nil
	}

	if sub.AnonymizationJobID == nil || *sub.AnonymizationJobID == "" {
		if sub.Status != submissiondomain.StatusReady {
			return pipelinedomain.Result{}, "", fmt.Errorf("%w: anonymizing without a job", recoverydomain.ErrActionNotApplicable)
		}
		res, err := s.pipeline.Kickoff(ctx, sub.ID)
		return res, "anonymization requested", err
	}

	jobID := *sub.AnonymizationJobID
	job, err := s.anonymizer.GetJob(ctx, jobID)
	if errors.Is(err, transport.ErrNotFound) {
		res, err := s.pipeline.Apply(ctx, pipelinedomain.Event{
			Kind:        pipelinedomain.KindAnonymizationFailed,
			Source:      pipelinedomain.SourceRecovery,
			JobID:       jobID,
			ErrorDetail: "anonymization job not found at provider",
		})
		return res, "job missing at provider", err
	}
	if err != nil {
		return pipelinedomain.Result{}, "", providerError(err)
	}

	kind, ok := job.EventKind()
	if !ok {
		return unchanged(sub), "job still " + orUnknown(job.Status), nil
	}
	res, err := s.pipeline.Apply(ctx, pipelinedomain.Event{
		Kind:        kind,
		Source:      pipelinedomain.SourceRecovery,
		JobID:       jobID,
		OutputURL:   job.OutputURL,
		ErrorDetail: job.Error,
	})
	return res, "job " + strings.ToLower(job.Status), err
}

// Sweep reconciles every stuck submission that has provider state to read.
// Items are paced by the configured delay; one failing item never stops the
// pass.
func (s *Service) Sweep(ctx context.Context) (recoverydomain.SweepSummary, error) {
	rules := s.rules.Get()
	ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeScheduler), sweepActorID)
	log := logger.WithContext(ctx, s.log)

	now := s.clock.Now()
	criteria := make([]submissiondomain.StaleCriterion, 0, 4)
	for _, t := range recoverydomain.Thresholds(rules.Staleness) {
		if _, ok := recoverydomain.SweepAction(t.Status); ok {
			criteria = append(criteria, t.Criterion(now))
		}
	}

	batchSize := rules.Recovery.BatchSize
	if batchSize <= 0 {
		batchSize = defaultPageSize
	}

	var (
		summary recoverydomain.SweepSummary
		errs    []error
		afterID snowflake.ID
	)
	for {
		rows, err := s.repo.ListStale(ctx, s.db, submissiondomain.StaleQuery{
			Criteria: criteria,
			AfterID:  afterID,
			Limit:    batchSize,
		})
		if err != nil {
			return summary, err
		}

		for _, sub := range rows {
			if summary.Scanned > 0 {
				if err := clock.Sleep(ctx, s.clock, rules.Recovery.ItemDelay); err != nil {
					return summary, err
				}
			}
			summary.Scanned++
			afterID = sub.ID

			action, _ := recoverydomain.SweepAction(sub.Status)
			res, err := s.Apply(ctx, recoverydomain.ApplyRequest{
				SubmissionID: sub.ID.String(),
				Action:       action,
				Reason:       "scheduled sweep",
			})
			switch {
			case errors.Is(err, recoverydomain.ErrActionNotApplicable):
				summary.Unchanged++
			case err != nil:
				summary.Failed++
				errs = append(errs, fmt.Errorf("submission %s: %w", sub.ID, err))
			case res.Outcome == recoverydomain.OutcomeApplied:
				summary.Applied++
			default:
				summary.Unchanged++
			}
		}

		if len(rows) < batchSize {
			break
		}
	}

	log.Info("recovery sweep finished",
		zap.Int("scanned", summary.Scanned),
		zap.Int("applied", summary.Applied),
		zap.Int("unchanged", summary.Unchanged),
		zap.Int("failed", summary.Failed),
	)
	return summary, errors.Join(errs...)
}

func (s *Service) auditAction(ctx context.Context, res *recoverydomain.ApplyResult, reason string) {
	if s.audit == nil {
		return
	}
	metadata := map[string]any{
		"action":  string(res.Action),
		"outcome": res.Outcome,
		"from":    string(res.From),
		"to":      string(res.To),
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		metadata["reason"] = reason
	}
	if res.Detail != "" {
		metadata["detail"] = res.Detail
	}
	targetID := res.SubmissionID
	if err := s.audit.AuditLog(ctx, "", nil, auditdomain.ActionRecoveryApplied, auditdomain.TargetSubmission, &targetID, metadata); err != nil {
		s.log.Warn("failed to audit recovery action", zap.Error(err), zap.String("submission_id", targetID))
	}
}

func providerError(err error) error {
	return fmt.Errorf("%w: %v", recoverydomain.ErrProviderUnavailable, err)
}

func unchanged(sub *submissiondomain.Submission) pipelinedomain.Result {
	return pipelinedomain.Result{
		Outcome:      pipelinedomain.OutcomeNoop,
		SubmissionID: sub.ID,
		From:         sub.Status,
		To:           sub.Status,
	}
}

func note(action recoverydomain.Action, reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "recovery: " + string(action)
	}
	return "recovery: " + string(action) + " (" + reason + ")"
}

func orUnknown(status string) string {
	if status == "" {
		return "unknown"
	}
	return status
}
