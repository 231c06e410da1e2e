package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dashvault/internal/clock"
	"github.com/smallbiznis/dashvault/internal/cloudmetrics"
	monitoringdomain "github.com/smallbiznis/dashvault/internal/monitoring/domain"
	obsmetrics "github.com/smallbiznis/dashvault/internal/observability/metrics"
	"github.com/smallbiznis/dashvault/internal/ratelimit"
	recoverydomain "github.com/smallbiznis/dashvault/internal/recovery/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobRecoverySweep  = "recovery_sweep"
	JobHealthSnapshot = "health_snapshot"

	sweepLockKey = "dashvault:lock:recovery_sweep"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Recovery   recoverydomain.Service
	Monitoring monitoringdomain.Service
	Health     *cloudmetrics.Health `optional:"true"`
	Locker     *ratelimit.Locker    `optional:"true"`
	Config     Config               `optional:"true"`
}

// Scheduler drives the periodic recovery sweep and health snapshot.
type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	recovery   recoverydomain.Service
	monitoring monitoringdomain.Service
	health     *cloudmetrics.Health
	locker     *ratelimit.Locker
	metrics    *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Recovery == nil || p.Monitoring == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		recovery:   p.Recovery,
		monitoring: p.Monitoring,
		health:     p.Health,
		locker:     p.Locker,
		metrics:    obsmetrics.Scheduler(),
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.AddErrors(1)
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout; the next tick picks up where this one stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every enabled job a single time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobRecoverySweep, func(ctx context.Context) error {
			return s.runJob(ctx, JobRecoverySweep, s.cfg.SweepTimeout, s.RecoverySweepJob)
		}},
		{JobHealthSnapshot, func(ctx context.Context) error {
			return s.runJob(ctx, JobHealthSnapshot, s.cfg.SnapshotTimeout, s.HealthSnapshotJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		if runLag := s.clock.Now().Sub(nextRun); runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty means every job runs in this process.
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// RecoverySweepJob reconciles stuck submissions against provider state.
// Only one instance sweeps at a time when a redis lock is configured.
func (s *Scheduler) RecoverySweepJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)

	lockStart := s.clock.Now()
	var summary recoverydomain.SweepSummary
	err := s.locker.WithLock(ctx, sweepLockKey, s.cfg.LockTTL, func(ctx context.Context) error {
		s.metrics.ObserveLockWait("recovery_sweep", s.clock.Now().Sub(lockStart))
		var sweepErr error
		summary, sweepErr = s.recovery.Sweep(ctx)
		return sweepErr
	})
	if errors.Is(err, ratelimit.ErrLockHeld) {
		s.metrics.IncBatchDeferred(JobRecoverySweep, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		s.logger(ctx).Debug("recovery sweep deferred, lock held elsewhere")
		return nil
	}

	run.AddProcessed(summary.Scanned)
	run.AddErrors(summary.Failed)
	s.metrics.AddBatchProcessed(JobRecoverySweep, "submission", summary.Scanned)
	if summary.Scanned == 0 && err == nil {
		s.metrics.IncBatchDeferred(JobRecoverySweep, obsmetrics.SchedulerBatchDeferredReasonNoAction)
	}
	recordSweepOutcome(s.metrics, summary)

	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.recovery.sweep.failed", err,
			zap.Int("scanned", summary.Scanned),
			zap.Int("failed", summary.Failed),
		)
		return err
	}
	if summary.Applied > 0 {
		s.logger(ctx).Info("recovery sweep applied transitions",
			zap.Int("scanned", summary.Scanned),
			zap.Int("applied", summary.Applied),
			zap.Int("unchanged", summary.Unchanged),
		)
	}
	return nil
}

func recordSweepOutcome(m *obsmetrics.SchedulerMetrics, summary recoverydomain.SweepSummary) {
	for i := 0; i < summary.Applied; i++ {
		m.IncRecoveryAction("sweep", obsmetrics.RecoveryOutcomeApplied)
	}
	for i := 0; i < summary.Unchanged; i++ {
		m.IncRecoveryAction("sweep", obsmetrics.RecoveryOutcomeSkipped)
	}
	for i := 0; i < summary.Failed; i++ {
		m.IncRecoveryAction("sweep", obsmetrics.RecoveryOutcomeFailed)
	}
}

// HealthSnapshotJob refreshes the health gauges and pushes them when an
// exporter is configured.
func (s *Scheduler) HealthSnapshotJob(ctx context.Context) error {
	if s.health == nil {
		return nil
	}
	run := jobRunFromContext(ctx)

	signals, err := s.monitoring.Signals(ctx, s.cfg.SignalWindow)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.health.signals.failed", err)
		return err
	}
	s.health.Observe(signals)
	run.AddProcessed(1)

	if err := s.health.Push(ctx); err != nil {
		// A failed push is counted on the health gauges; the snapshot stays served on /metrics.
		run.AddErrors(1)
		s.logSchedulerError(ctx, run, "scheduler.health.push.failed", err)
	}
	return nil
}
