package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dashvault/internal/clock"
	"github.com/smallbiznis/dashvault/internal/config"
	scenariodomain "github.com/smallbiznis/dashvault/internal/scenario/domain"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Rules       *config.PipelineConfigHolder `optional:"true"`
	Repo        scenariodomain.Repository
	Submissions submissiondomain.Repository
	Extractor   scenariodomain.Extractor `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	rules       *config.PipelineConfigHolder
	repo        scenariodomain.Repository
	submissions submissiondomain.Repository
	extractor   scenariodomain.Extractor
}

func NewService(p Params) *Service {
	extractor := p.Extractor
	if extractor == nil {
		extractor = NewFrequencyExtractor(nil, nil)
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("scenario.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		rules:       p.Rules,
		repo:        p.Repo,
		submissions: p.Submissions,
		extractor:   extractor,
	}
}

// Generate extracts scenarios and inserts them in one transaction. The
// scenarios_generated_at claim makes the insert happen once per submission
// unless force is set.
func (s *Service) Generate(ctx context.Context, submission *submissiondomain.Submission, force bool) (int, error) {
	if submission == nil {
		return 0, submissiondomain.ErrNotFound
	}
	if submission.DurationSeconds == nil || *submission.DurationSeconds <= 0 {
		return 0, scenariodomain.ErrNoDuration
	}
	if submission.ScenariosGeneratedAt != nil && !force {
		return 0, nil
	}

	limit := s.rules.Get().Scenarios.MaxDuration.Seconds()
	if *submission.DurationSeconds > limit {
		return 0, fmt.Errorf("%w: %.0fs", scenariodomain.ErrDurationTooLong, *submission.DurationSeconds)
	}

	detections, err := s.extractor.Extract(ctx, scenariodomain.Request{
		SubmissionID:       submission.ID,
		DurationSeconds:    *submission.DurationSeconds,
		MaxDurationSeconds: limit,
	})
	if err != nil {
		return 0, fmt.Errorf("extract scenarios: %w", err)
	}

	now := s.clock.Now()
	rows := make([]scenariodomain.Scenario, 0, len(detections))
	for _, d := range detections {
		if d.Start < 0 || d.Start >= d.End || d.End > *submission.DurationSeconds || d.Confidence < 0 || d.Confidence > 1 {
			return 0, fmt.Errorf("%w: %s [%.2f, %.2f]", scenariodomain.ErrInvalidDetection, d.Category, d.Start, d.End)
		}
		rows = append(rows, scenariodomain.Scenario{
			ID:              s.genID.Generate(),
			SubmissionID:    submission.ID,
			ScenarioType:    d.Category,
			StartTime:       d.Start,
			EndTime:         d.End,
			ConfidenceScore: d.Confidence,
			Tags:            d.Tags,
			CreatedAt:       now,
		})
	}

	inserted := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim := submissiondomain.ConditionalUpdate{
			ID: submission.ID,
			Set: map[string]any{
				"scenarios_generated_at": now,
				"updated_at":             now,
			},
		}
		if force {
			if err := s.repo.DeleteBySubmission(ctx, tx, submission.ID); err != nil {
				return err
			}
		} else {
			claim.Guards = []submissiondomain.Guard{{Expr: "scenarios_generated_at IS NULL"}}
		}

		won, err := s.submissions.Update(ctx, tx, claim)
		if err != nil {
			return err
		}
		if !won {
			return nil
		}
		if err := s.repo.InsertBatch(ctx, tx, rows); err != nil {
			return err
		}
		inserted = len(rows)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if inserted > 0 || force {
		s.log.Info("scenarios stored",
			zap.String("submission_id", submission.ID.String()),
			zap.Int("count", inserted),
			zap.Bool("forced", force),
		)
	}
	return inserted, nil
}

// Reset removes generated scenarios and releases the extraction claim.
func (s *Service) Reset(ctx context.Context, submissionID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.DeleteBySubmission(ctx, tx, submissionID); err != nil {
			return err
		}
		_, err := s.submissions.Update(ctx, tx, submissiondomain.ConditionalUpdate{
			ID: submissionID,
			Set: map[string]any{
				"scenarios_generated_at": nil,
			},
		})
		return err
	})
}

func (s *Service) List(ctx context.Context, submissionID snowflake.ID) ([]scenariodomain.Scenario, error) {
	return s.repo.ListBySubmission(ctx, s.db, submissionID)
}
