package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/dashvault/internal/audit/domain"
	"github.com/smallbiznis/dashvault/internal/clock"
	"github.com/smallbiznis/dashvault/internal/config"
	earningsdomain "github.com/smallbiznis/dashvault/internal/earnings/domain"
	obsmetrics "github.com/smallbiznis/dashvault/internal/observability/metrics"
	scenariodomain "github.com/smallbiznis/dashvault/internal/scenario/domain"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const recentEarningsLimit = 10

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Rules       *config.PipelineConfigHolder
	Repo        earningsdomain.Repository
	Submissions submissiondomain.Repository
	Scenarios   scenariodomain.Repository
	Audit       auditdomain.Service `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	rules       *config.PipelineConfigHolder
	repo        earningsdomain.Repository
	submissions submissiondomain.Repository
	scenarios   scenariodomain.Repository
	audit       auditdomain.Service
	metrics     *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("earnings.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		rules:       p.Rules,
		repo:        p.Repo,
		submissions: p.Submissions,
		scenarios:   p.Scenarios,
		audit:       p.Audit,
		metrics:     p.ObsMetrics,
	}
}

func (s *Service) CalculateForSubmission(ctx context.Context, submissionID string, opts earningsdomain.Options) (*earningsdomain.Earning, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(submissionID))
	if err != nil || id == 0 {
		return nil, submissiondomain.ErrInvalidID
	}
	if q := opts.QualityScore; q != nil && (*q < 0 || *q > 1) {
		return nil, earningsdomain.ErrInvalidQualityScore
	}

	rules := s.rules.Get().Earnings
	calculator := NewCalculator(rules)
	now := s.clock.Now()

	var (
		result     *earningsdomain.Earning
		recomputed bool
		breakdown  earningsdomain.Breakdown
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		submission, err := s.submissions.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if submission == nil {
			return submissiondomain.ErrNotFound
		}
		if submission.Status != submissiondomain.StatusCompleted {
			return earningsdomain.ErrSubmissionNotCompleted
		}

		existing, err := s.repo.FindBySubmission(ctx, tx, id)
		if err != nil {
			return err
		}
		if existing != nil && !opts.ForceRecalculate {
			return earningsdomain.ErrAlreadyCalculated
		}
		// Paid amounts are final.
		if existing != nil && existing.PaymentStatus == earningsdomain.PaymentStatusPaid {
			return earningsdomain.ErrEarningSettled
		}
		recomputed = existing != nil

		quality := submission.QualityScore
		if opts.QualityScore != nil {
			quality = opts.QualityScore
			if _, err := s.submissions.Update(ctx, tx, submissiondomain.ConditionalUpdate{
				ID:  id,
				Set: map[string]any{"quality_score": *opts.QualityScore},
			}); err != nil {
				return err
			}
		}

		scenarios, err := s.scenarios.ListBySubmission(ctx, tx, id)
		if err != nil {
			return err
		}
		completed, err := s.submissions.CountCompletedByDriver(ctx, tx, submission.DriverID, id)
		if err != nil {
			return err
		}

		duration := 0.0
		if submission.DurationSeconds != nil {
			duration = *submission.DurationSeconds
		}
		breakdown = calculator.Calculate(earningsdomain.Input{
			DurationSeconds: duration,
			Scenarios:       scenarios,
			EdgeCases:       earningsdomain.EdgeCasesFrom(scenarios),
			QualityScore:    quality,
			CompletedCount:  completed,
		})

		earning := &earningsdomain.Earning{
			ID:            s.genID.Generate(),
			SubmissionID:  id,
			DriverID:      submission.DriverID,
			AmountCents:   breakdown.TotalCents,
			Currency:      breakdown.Currency,
			EarningType:   earningsdomain.EarningTypeFootage,
			PaymentStatus: earningsdomain.PaymentStatusPending,
			Tier:          breakdown.Tier,
			Breakdown:     datatypes.NewJSONType(breakdown),
			EarnedAt:      now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.repo.Upsert(ctx, tx, earning); err != nil {
			return err
		}

		result, err = s.repo.FindBySubmission(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = s.repo.RecomputeDriver(ctx, tx, submission.DriverID, monthStart(now), now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordEarning(ctx, breakdown.Tier, opts.ForceRecalculate)
	s.log.Info("earning calculated",
		zap.String("submission_id", id.String()),
		zap.String("driver_id", result.DriverID),
		zap.String("tier", breakdown.Tier),
		zap.Int64("amount_cents", result.AmountCents),
		zap.Bool("capped", breakdown.Capped),
		zap.Bool("recalculated", recomputed),
	)

	if !opts.Automatic || recomputed {
		action := auditdomain.ActionEarningCalculated
		if recomputed {
			action = auditdomain.ActionEarningRecalculated
		}
		s.writeAudit(ctx, action, result, map[string]any{
			"submission_id":     id.String(),
			"amount_cents":      result.AmountCents,
			"tier":              result.Tier,
			"force_recalculate": opts.ForceRecalculate,
		})
	}
	return result, nil
}

// CalculateAutomatic runs once a submission completes. A prior earning is
// not an error here.
func (s *Service) CalculateAutomatic(ctx context.Context, submissionID snowflake.ID) error {
	_, err := s.CalculateForSubmission(ctx, submissionID.String(), earningsdomain.Options{Automatic: true})
	if errors.Is(err, earningsdomain.ErrAlreadyCalculated) {
		return nil
	}
	return err
}

func (s *Service) UpdatePaymentStatus(ctx context.Context, earningID string, status earningsdomain.PaymentStatus) (*earningsdomain.Earning, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(earningID))
	if err != nil || id == 0 {
		return nil, earningsdomain.ErrInvalidID
	}
	status = earningsdomain.PaymentStatus(strings.ToLower(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return nil, earningsdomain.ErrInvalidPaymentStatus
	}

	now := s.clock.Now()
	var (
		result  *earningsdomain.Earning
		from    earningsdomain.PaymentStatus
		changed bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return earningsdomain.ErrNotFound
		}
		from = current.PaymentStatus
		if from == status {
			result = current
			return nil
		}
		if !from.CanTransitionTo(status) {
			return earningsdomain.ErrIllegalPaymentTransition
		}

		var paidAt *time.Time
		if status == earningsdomain.PaymentStatusPaid {
			paidAt = &now
		}
		won, err := s.repo.UpdatePaymentStatus(ctx, tx, id, from, status, paidAt, now)
		if err != nil {
			return err
		}
		if !won {
			return earningsdomain.ErrIllegalPaymentTransition
		}
		changed = true

		if _, err := s.repo.RecomputeDriver(ctx, tx, current.DriverID, monthStart(now), now); err != nil {
			return err
		}
		result, err = s.repo.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.log.Info("earning payment status updated",
			zap.String("earning_id", id.String()),
			zap.String("from", string(from)),
			zap.String("to", string(status)),
		)
		s.writeAudit(ctx, auditdomain.ActionEarningPaymentUpdated, result, map[string]any{
			"from": string(from),
			"to":   string(status),
		})
	}
	return result, nil
}

func (s *Service) DriverSummary(ctx context.Context, driverID string) (*earningsdomain.DriverSummary, error) {
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return nil, earningsdomain.ErrInvalidDriver
	}

	rules := s.rules.Get().Earnings
	aggregate, err := s.repo.FindDriver(ctx, s.db, driverID)
	if err != nil {
		return nil, err
	}
	if aggregate == nil {
		aggregate = &earningsdomain.DriverEarnings{DriverID: driverID}
	}

	completed, err := s.submissions.CountCompletedByDriver(ctx, s.db, driverID, 0)
	if err != nil {
		return nil, err
	}
	aggregate.CompletedSubmissions = completed

	recent, err := s.repo.ListByDriver(ctx, s.db, driverID, recentEarningsLimit)
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []earningsdomain.Earning{}
	}

	return &earningsdomain.DriverSummary{
		DriverEarnings: *aggregate,
		Tier:           NewCalculator(rules).Tier(completed).Name,
		Recent:         recent,
		Currency:       rules.Currency,
	}, nil
}

func (s *Service) writeAudit(ctx context.Context, action string, earning *earningsdomain.Earning, metadata map[string]any) {
	if s.audit == nil || earning == nil {
		return
	}
	targetID := earning.ID.String()
	_ = s.audit.AuditLog(ctx, "", nil, action, auditdomain.TargetEarning, &targetID, metadata)
}

func monthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
