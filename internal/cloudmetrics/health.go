// Package cloudmetrics publishes pipeline health signals as prometheus
// gauges and optionally pushes them to an external collector.
package cloudmetrics

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/dashvault/internal/config"
	monitoringdomain "github.com/smallbiznis/dashvault/internal/monitoring/domain"
	"go.uber.org/zap"
)

// Health holds the gauges derived from monitoring signals. Gauges live in
// a private registry so a push only carries health data.
type Health struct {
	registry *prometheus.Registry
	pusher   Pusher
	log      *zap.Logger

	submissions   *prometheus.GaugeVec
	stuck         *prometheus.GaugeVec
	latency       prometheus.Gauge
	approval      prometheus.Gauge
	completed     prometheus.Gauge
	webhookErrors prometheus.Gauge
	memory        prometheus.Gauge
	lastSnapshot  prometheus.Gauge
	pushFailures  prometheus.Counter
}

// NewHealth builds the gauges. Each extra registerer (normally the default
// one behind /metrics) also exposes them.
func NewHealth(cfg config.Config, pusher Pusher, log *zap.Logger, extra ...prometheus.Registerer) *Health {
	if log == nil {
		log = zap.NewNop()
	}
	labels := prometheus.Labels{
		"service":  fallback(cfg.AppName, "dashvault"),
		"env":      fallback(cfg.Environment, "unknown"),
		"instance": fallback(cfg.InstanceID, "unknown"),
	}

	h := &Health{
		registry: prometheus.NewRegistry(),
		pusher:   pusher,
		log:      log.Named("cloudmetrics"),
		submissions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "dashvault_submissions",
			Help:        "Submissions per pipeline status.",
			ConstLabels: labels,
		}, []string{"status"}),
		stuck: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "dashvault_submissions_stuck",
			Help:        "Submissions past their staleness threshold per status.",
			ConstLabels: labels,
		}, []string{"status"}),
		latency: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "dashvault_completion_latency_avg_seconds",
			Help:        "Mean created to completed time inside the signal window.",
			ConstLabels: labels,
		}),
		approval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "dashvault_scenario_approval_ratio",
			Help:        "Approved over generated scenarios inside the signal window.",
			ConstLabels: labels,
		}),
		completed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "dashvault_submissions_completed_window",
			Help:        "Submissions completed inside the signal window.",
			ConstLabels: labels,
		}),
		webhookErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "dashvault_webhook_errors_window",
			Help:        "Webhook deliveries that failed to process inside the signal window.",
			ConstLabels: labels,
		}),
		memory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "dashvault_process_memory_sys_bytes",
			Help:        "Bytes obtained from the OS by the Go runtime.",
			ConstLabels: labels,
		}),
		lastSnapshot: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "dashvault_health_snapshot_timestamp_seconds",
			Help:        "Unix time of the last health snapshot.",
			ConstLabels: labels,
		}),
		pushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "dashvault_health_push_failures_total",
			Help:        "Failed health pushes.",
			ConstLabels: labels,
		}),
	}

	collectors := []prometheus.Collector{
		h.submissions, h.stuck, h.latency, h.approval, h.completed,
		h.webhookErrors, h.memory, h.lastSnapshot, h.pushFailures,
	}
	h.registry.MustRegister(collectors...)
	for _, reg := range extra {
		if reg == nil {
			continue
		}
		for _, c := range collectors {
			if err := reg.Register(c); err != nil {
				var already prometheus.AlreadyRegisteredError
				if !errors.As(err, &already) {
					h.log.Warn("health gauge registration failed", zap.Error(err))
				}
			}
		}
	}
	return h
}

// Gatherer exposes the private registry, mainly for tests.
func (h *Health) Gatherer() prometheus.Gatherer {
	return h.registry
}

// Observe copies one signal snapshot into the gauges.
func (h *Health) Observe(signals *monitoringdomain.Signals) {
	if h == nil || signals == nil {
		return
	}
	for status, n := range signals.StatusCounts {
		h.submissions.WithLabelValues(status).Set(float64(n))
	}
	for status, n := range signals.StuckCounts {
		h.stuck.WithLabelValues(status).Set(float64(n))
	}
	h.latency.Set(valueOrZero(signals.AverageLatencySeconds))
	h.approval.Set(valueOrZero(signals.ApprovalRate))
	h.completed.Set(float64(signals.CompletedInWindow))
	h.webhookErrors.Set(float64(signals.WebhookErrors))

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	h.memory.Set(float64(mem.Sys))
	h.lastSnapshot.Set(float64(signals.GeneratedAt.Unix()))
}

// Push ships the current gauges. Without a configured pusher it is a no-op.
func (h *Health) Push(ctx context.Context) error {
	if h == nil || h.pusher == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*pushTimeout)
	defer cancel()
	start := time.Now()
	if err := h.pusher.Push(ctx, h.registry); err != nil {
		h.pushFailures.Inc()
		return err
	}
	h.log.Debug("health snapshot pushed", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Close releases exporter resources.
func (h *Health) Close() error {
	if h == nil {
		return nil
	}
	if closer, ok := h.pusher.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func fallback(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return def
}
