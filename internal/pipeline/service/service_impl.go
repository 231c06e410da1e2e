package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dashvault/internal/clock"
	"github.com/smallbiznis/dashvault/internal/config"
	"github.com/smallbiznis/dashvault/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/dashvault/internal/observability/metrics"
	pipelinedomain "github.com/smallbiznis/dashvault/internal/pipeline/domain"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Cfg        config.Config
	Rules      *config.PipelineConfigHolder
	Repo       submissiondomain.Repository
	Scenarios  pipelinedomain.ScenarioGenerator `optional:"true"`
	Anonymizer pipelinedomain.Anonymizer        `optional:"true"`
	Earnings   pipelinedomain.EarningsTrigger   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics              `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	cfg        config.Config
	rules      *config.PipelineConfigHolder
	repo       submissiondomain.Repository
	scenarios  pipelinedomain.ScenarioGenerator
	anonymizer pipelinedomain.Anonymizer
	earnings   pipelinedomain.EarningsTrigger
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) pipelinedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("pipeline.service"),
		clock:      p.Clock,
		cfg:        p.Cfg,
		rules:      p.Rules,
		repo:       p.Repo,
		scenarios:  p.Scenarios,
		anonymizer: p.Anonymizer,
		earnings:   p.Earnings,
		obsMetrics: p.ObsMetrics,
	}
}

// Apply runs one event through the transition table. Precondition misses
// and unknown correlation ids are no-ops, never errors.
func (s *Service) Apply(ctx context.Context, event pipelinedomain.Event) (pipelinedomain.Result, error) {
	tr, ok := pipelinedomain.TransitionFor(event.Kind)
	if !ok {
		return pipelinedomain.Result{}, pipelinedomain.ErrUnknownKind
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("event_kind", string(event.Kind)),
		zap.String("source", event.Source),
	)

	sub, err := s.find(ctx, tr, event)
	if err != nil {
		if errors.Is(err, pipelinedomain.ErrMissingKey) {
			log.Warn("event carries no usable correlation key")
			return pipelinedomain.Result{Outcome: pipelinedomain.OutcomeNotFound}, nil
		}
		log.Error("submission lookup failed", zap.Error(err))
		return pipelinedomain.Result{}, err
	}
	if sub == nil {
		log.Warn("submission not found for event",
			zap.String("upload_id", event.UploadID),
			zap.String("asset_id", event.AssetID),
			zap.String("job_id", event.JobID),
			zap.String("submission_id", idString(event.SubmissionID)),
		)
		return pipelinedomain.Result{Outcome: pipelinedomain.OutcomeNotFound}, nil
	}

	log = logger.WithSubmission(log, sub.ID.String())
	result := pipelinedomain.Result{
		SubmissionID: sub.ID,
		From:         sub.Status,
		To:           sub.Status,
	}

	if !tr.Changes() {
		log.Info("event recorded without status change", zap.String("status", string(sub.Status)))
		result.Outcome = pipelinedomain.OutcomeLogged
		return result, nil
	}
	if !tr.Allows(sub.Status) {
		log.Debug("transition precondition not met", zap.String("status", string(sub.Status)))
		result.Outcome = pipelinedomain.OutcomeNoop
		return result, nil
	}

	target := tr.Target(sub.MuxUploadID != nil)
	update, err := s.buildUpdate(tr, target, sub, event)
	if err != nil {
		log.Warn("event rejected", zap.Error(err))
		result.Outcome = pipelinedomain.OutcomeNoop
		return result, nil
	}

	won, err := s.repo.Update(ctx, s.db, update)
	if err != nil {
		log.Error("conditional update failed", zap.Error(err))
		return result, err
	}
	if !won {
		log.Debug("conditional update lost or precondition changed")
		result.Outcome = pipelinedomain.OutcomeNoop
		return result, nil
	}

	result.Outcome = pipelinedomain.OutcomeApplied
	result.To = target
	s.obsMetrics.RecordTransition(ctx, string(sub.Status), string(target))
	log.Info("submission transitioned",
		zap.String("from", string(sub.Status)),
		zap.String("to", string(target)),
	)

	s.runEffect(context.WithoutCancel(ctx), tr.Effect, sub.ID, log)
	return result, nil
}

// Kickoff requests anonymization for a ready submission without a job.
func (s *Service) Kickoff(ctx context.Context, submissionID snowflake.ID) (pipelinedomain.Result, error) {
	sub, err := s.repo.FindByID(ctx, s.db, submissionID)
	if err != nil {
		return pipelinedomain.Result{}, err
	}
	if sub == nil {
		return pipelinedomain.Result{Outcome: pipelinedomain.OutcomeNotFound}, nil
	}
	if sub.Status != submissiondomain.StatusReady || sub.AnonymizationJobID != nil {
		return pipelinedomain.Result{
			Outcome:      pipelinedomain.OutcomeNoop,
			SubmissionID: sub.ID,
			From:         sub.Status,
			To:           sub.Status,
		}, nil
	}
	return s.kickoff(ctx, sub)
}

func (s *Service) find(ctx context.Context, tr pipelinedomain.Transition, event pipelinedomain.Event) (*submissiondomain.Submission, error) {
	tried := false
	for _, lookup := range tr.Lookups {
		var (
			sub *submissiondomain.Submission
			err error
		)
		switch lookup {
		case pipelinedomain.LookupByID:
			if event.SubmissionID == 0 {
				continue
			}
			sub, err = s.repo.FindByID(ctx, s.db, event.SubmissionID)
			if sub != nil && !jobMatches(sub, event.JobID) {
				sub = nil
			}
		case pipelinedomain.LookupByUploadID:
			if event.UploadID == "" {
				continue
			}
			sub, err = s.repo.FindByUploadID(ctx, s.db, event.UploadID)
		case pipelinedomain.LookupByAssetID:
			if event.AssetID == "" {
				continue
			}
			sub, err = s.repo.FindByAssetID(ctx, s.db, event.AssetID)
		case pipelinedomain.LookupByJobID:
			if event.JobID == "" {
				continue
			}
			sub, err = s.repo.FindByJobID(ctx, s.db, event.JobID)
		}
		tried = true
		if err != nil {
			return nil, err
		}
		if sub != nil {
			return sub, nil
		}
	}
	if !tried {
		return nil, pipelinedomain.ErrMissingKey
	}
	return nil, nil
}

func (s *Service) buildUpdate(
	tr pipelinedomain.Transition,
	target submissiondomain.Status,
	sub *submissiondomain.Submission,
	event pipelinedomain.Event,
) (submissiondomain.ConditionalUpdate, error) {
	now := s.clock.Now()
	set := map[string]any{
		"status":           target,
		"updated_at":       now,
		"processing_notes": note(event),
	}
	update := submissiondomain.ConditionalUpdate{
		ID:   sub.ID,
		From: tr.Sources(),
		Set:  set,
	}

	switch event.Kind {
	case pipelinedomain.KindUploadRequested:
		if event.UploadID == "" {
			return update, pipelinedomain.ErrMissingKey
		}
		set["mux_upload_id"] = event.UploadID
		set["upload_started_at"] = now
		update.Guards = append(update.Guards, submissiondomain.Guard{Expr: "mux_upload_id IS NULL"})
	case pipelinedomain.KindAssetLinked:
		if event.AssetID == "" {
			return update, pipelinedomain.ErrMissingKey
		}
		set["mux_asset_id"] = gorm.Expr("COALESCE(mux_asset_id, ?)", event.AssetID)
	case pipelinedomain.KindUploadStale:
		update.Guards = append(update.Guards,
			submissiondomain.Guard{Expr: "mux_asset_id IS NULL"},
			submissiondomain.Guard{Expr: "COALESCE(upload_started_at, created_at) < ?", Args: []any{event.StaleBefore}},
		)
		set["error_detail"] = errorDetail(event, "no asset linked to upload before deadline")
	case pipelinedomain.KindAssetReady:
		if event.AssetID != "" {
			set["mux_asset_id"] = gorm.Expr("COALESCE(mux_asset_id, ?)", event.AssetID)
		}
		if event.PlaybackID != "" {
			set["mux_playback_id"] = gorm.Expr("COALESCE(mux_playback_id, ?)", event.PlaybackID)
		}
		if event.DurationSeconds != nil {
			set["duration_seconds"] = gorm.Expr("COALESCE(duration_seconds, ?)", *event.DurationSeconds)
		}
	case pipelinedomain.KindUploadFailed,
		pipelinedomain.KindAssetErrored,
		pipelinedomain.KindAnonymizationKickoffFailed:
		set["error_detail"] = errorDetail(event, string(event.Kind))
	case pipelinedomain.KindAnonymizationFailed:
		set["error_detail"] = errorDetail(event, string(event.Kind))
		bindJob(&update, event.JobID)
	case pipelinedomain.KindAnonymizationProcessing:
		bindJob(&update, event.JobID)
	case pipelinedomain.KindAnonymizationStarted:
		if event.JobID == "" {
			return update, pipelinedomain.ErrMissingKey
		}
		set["anonymization_job_id"] = event.JobID
		update.Guards = append(update.Guards, submissiondomain.Guard{Expr: "anonymization_job_id IS NULL"})
	case pipelinedomain.KindAnonymizationCompleted:
		set["is_anonymized"] = true
		set["completed_at"] = now
		if event.OutputURL != "" {
			set["anonymized_url"] = event.OutputURL
		}
		update.Guards = append(update.Guards, submissiondomain.Guard{Expr: "is_anonymized = ?", Args: []any{false}})
		bindJob(&update, event.JobID)
	case pipelinedomain.KindAnonymizationSkipped, pipelinedomain.KindRecoveryForceComplete:
		set["completed_at"] = now
	case pipelinedomain.KindRecoveryRestart:
		set["mux_asset_id"] = nil
		set["mux_playback_id"] = nil
		set["anonymization_job_id"] = nil
		set["duration_seconds"] = nil
		set["is_anonymized"] = false
		set["anonymized_url"] = nil
		set["error_detail"] = nil
		set["completed_at"] = nil
		// A kept upload session gets a fresh link deadline.
		if target == submissiondomain.StatusUploading {
			set["upload_started_at"] = now
		} else {
			set["upload_started_at"] = nil
		}
	}
	return update, nil
}

func (s *Service) runEffect(ctx context.Context, effect pipelinedomain.Effect, id snowflake.ID, log *zap.Logger) {
	switch effect {
	case pipelinedomain.EffectStartProcessing:
		sub, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil || sub == nil {
			log.Error("reload after ready failed", zap.Error(err))
			return
		}
		if s.scenarios != nil {
			count, err := s.scenarios.Generate(ctx, sub, false)
			if err != nil {
				log.Error("scenario extraction failed, submission stays ready", zap.Error(err))
			} else {
				log.Info("scenarios generated", zap.Int("count", count))
			}
		}
		if _, err := s.kickoff(ctx, sub); err != nil {
			log.Error("anonymization kickoff failed", zap.Error(err))
		}
	case pipelinedomain.EffectCalculateEarnings:
		if s.earnings == nil {
			return
		}
		if err := s.earnings.CalculateAutomatic(ctx, id); err != nil {
			log.Error("automatic earnings calculation failed", zap.Error(err))
		}
	case pipelinedomain.EffectResetDerived:
		if s.scenarios == nil {
			return
		}
		if err := s.scenarios.Reset(ctx, id); err != nil {
			log.Error("scenario reset failed", zap.Error(err))
		}
	}
}

// kickoff starts anonymization under a bounded timeout and records the
// outcome as the next event.
func (s *Service) kickoff(ctx context.Context, sub *submissiondomain.Submission) (pipelinedomain.Result, error) {
	rules := s.rules.Get().Anonymization
	base := pipelinedomain.Event{Source: pipelinedomain.SourceAnonymizer, SubmissionID: sub.ID}

	if s.anonymizer == nil || !s.cfg.AnonymizerEnabled() {
		base.Kind = pipelinedomain.KindAnonymizationSkipped
		base.Note = "anonymization disabled"
		return s.Apply(ctx, base)
	}

	source := s.playbackURL(sub)
	var (
		jobID string
		err   error
	)
	if source == "" {
		err = errors.New("no playback id to anonymize")
	} else {
		kctx, cancel := context.WithTimeout(ctx, rules.KickoffTimeout)
		jobID, err = s.anonymizer.StartJob(kctx, pipelinedomain.AnonymizationRequest{
			SubmissionID: sub.ID,
			SourceURL:    source,
			CallbackURL:  s.cfg.Anonymizer.CallbackURL,
		})
		cancel()
	}

	if err == nil && jobID != "" {
		base.Kind = pipelinedomain.KindAnonymizationStarted
		base.JobID = jobID
		base.Note = "anonymization requested"
		return s.Apply(ctx, base)
	}
	if err == nil {
		err = errors.New("anonymizer returned no job id")
	}

	if rules.Required {
		base.Kind = pipelinedomain.KindAnonymizationKickoffFailed
		base.ErrorDetail = err.Error()
	} else {
		base.Kind = pipelinedomain.KindAnonymizationSkipped
		base.Note = "anonymization unavailable: " + err.Error()
	}
	return s.Apply(ctx, base)
}

func (s *Service) playbackURL(sub *submissiondomain.Submission) string {
	if sub.MuxPlaybackID == nil || *sub.MuxPlaybackID == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s.m3u8", strings.TrimRight(s.cfg.Mux.PlaybackBaseURL, "/"), *sub.MuxPlaybackID)
}

// jobMatches reports whether a callback for jobID may act on sub. A
// callback can beat the started event, so an unset job id also matches.
func jobMatches(sub *submissiondomain.Submission, jobID string) bool {
	if jobID == "" || sub.AnonymizationJobID == nil {
		return true
	}
	return *sub.AnonymizationJobID == jobID
}

// bindJob records the callback's job id when none is stored yet and keeps
// the update from landing on a submission bound to another job.
func bindJob(update *submissiondomain.ConditionalUpdate, jobID string) {
	if jobID == "" {
		return
	}
	update.Set["anonymization_job_id"] = gorm.Expr("COALESCE(anonymization_job_id, ?)", jobID)
	update.Guards = append(update.Guards, submissiondomain.Guard{
		Expr: "(anonymization_job_id IS NULL OR anonymization_job_id = ?)",
		Args: []any{jobID},
	})
}

func note(event pipelinedomain.Event) string {
	if strings.TrimSpace(event.Note) != "" {
		return strings.TrimSpace(event.Note)
	}
	if event.Source != "" {
		return fmt.Sprintf("%s via %s", event.Kind, event.Source)
	}
	return string(event.Kind)
}

func errorDetail(event pipelinedomain.Event, fallback string) string {
	if detail := strings.TrimSpace(event.ErrorDetail); detail != "" {
		return detail
	}
	return fallback
}

func idString(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
