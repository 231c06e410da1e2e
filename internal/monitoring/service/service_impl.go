package service

import (
	"context"
	"time"

	"github.com/smallbiznis/dashvault/internal/clock"
	"github.com/smallbiznis/dashvault/internal/config"
	monitoringdomain "github.com/smallbiznis/dashvault/internal/monitoring/domain"
	recoverydomain "github.com/smallbiznis/dashvault/internal/recovery/domain"
	scenariodomain "github.com/smallbiznis/dashvault/internal/scenario/domain"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	webhookdomain "github.com/smallbiznis/dashvault/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Rules       *config.PipelineConfigHolder
	Submissions submissiondomain.Repository
	Scenarios   scenariodomain.Repository
	Webhooks    webhookdomain.Repository
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	rules       *config.PipelineConfigHolder
	submissions submissiondomain.Repository
	scenarios   scenariodomain.Repository
	webhooks    webhookdomain.Repository
}

func NewService(p Params) monitoringdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("monitoring.service"),
		clock:       p.Clock,
		rules:       p.Rules,
		submissions: p.Submissions,
		scenarios:   p.Scenarios,
		webhooks:    p.Webhooks,
	}
}

// Signals reads every health signal straight from the store. Stuck counts
// use the same thresholds as the recovery listing.
func (s *Service) Signals(ctx context.Context, window time.Duration) (*monitoringdomain.Signals, error) {
	if window == 0 {
		window = monitoringdomain.DefaultWindow
	}
	if window < 0 || window > monitoringdomain.MaxWindow {
		return nil, monitoringdomain.ErrInvalidWindow
	}

	now := s.clock.Now()
	since := now.Add(-window)
	out := &monitoringdomain.Signals{
		GeneratedAt:   now,
		WindowSeconds: int64(window.Seconds()),
		StatusCounts:  map[string]int64{},
		StuckCounts:   map[string]int64{},
	}

	counts, err := s.submissions.CountByStatus(ctx, s.db)
	if err != nil {
		return nil, err
	}
	for status, n := range counts {
		out.StatusCounts[string(status)] = n
	}

	for _, t := range recoverydomain.Thresholds(s.rules.Get().Staleness) {
		c := t.Criterion(now)
		n, err := s.submissions.CountStaleByStatus(ctx, s.db, c.Status, c.Before, c.RequireNoAsset)
		if err != nil {
			return nil, err
		}
		out.StuckCounts[string(t.Status)] = n
		out.StuckTotal += n
	}

	latencies, err := s.submissions.CompletionLatencies(ctx, s.db, since)
	if err != nil {
		return nil, err
	}
	out.CompletedInWindow = int64(len(latencies))
	if len(latencies) > 0 {
		var sum float64
		for _, v := range latencies {
			sum += v
		}
		avg := sum / float64(len(latencies))
		out.AverageLatencySeconds = &avg
	}

	approved, total, err := s.scenarios.ApprovalCounts(ctx, s.db, since)
	if err != nil {
		return nil, err
	}
	out.ScenariosInWindow = total
	if total > 0 {
		rate := float64(approved) / float64(total)
		out.ApprovalRate = &rate
	}

	out.WebhookErrors, err = s.webhooks.CountErrorsSince(ctx, s.db, since)
	if err != nil {
		return nil, err
	}

	if out.StuckTotal > 0 {
		s.log.Debug("stuck submissions present", zap.Int64("stuck_total", out.StuckTotal))
	}
	return out, nil
}
