package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/dashvault/internal/clock"
	"github.com/smallbiznis/dashvault/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/dashvault/internal/observability/metrics"
	pipelinedomain "github.com/smallbiznis/dashvault/internal/pipeline/domain"
	"github.com/smallbiznis/dashvault/internal/webhook/adapters"
	"github.com/smallbiznis/dashvault/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	dedupeKeyFormat = "dashvault:webhook:%s:%s"
	dedupeTTL       = 72 * time.Hour
)

const (
	outcomeProcessed = "processed"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
	outcomeMalformed = "malformed"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Registry   *adapters.Registry
	Repo       domain.Repository
	Pipeline   pipelinedomain.Service
	Redis      *redis.Client       `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	registry   *adapters.Registry
	repo       domain.Repository
	pipeline   pipelinedomain.Service
	redis      *redis.Client
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("webhook.service"),
		clock:      p.Clock,
		registry:   p.Registry,
		repo:       p.Repo,
		pipeline:   p.Pipeline,
		redis:      p.Redis,
		obsMetrics: p.ObsMetrics,
	}
}

// Handle verifies one delivery, logs it and dispatches it to the pipeline.
func (s *Service) Handle(ctx context.Context, service string, payload []byte, headers http.Header) (*domain.Outcome, error) {
	adapter, err := s.registry.Adapter(service)
	if err != nil {
		return nil, err
	}
	service = adapter.Service()
	log := logger.WithContext(ctx, s.log).With(zap.String("service", service))

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		log.Warn("webhook signature rejected")
		s.obsMetrics.RecordWebhookEvent(ctx, service, "unknown", outcomeRejected)
		return nil, domain.ErrInvalidSignature
	}

	parsed, parseErr := adapter.Parse(ctx, payload)
	if parseErr != nil && !errors.Is(parseErr, domain.ErrEventIgnored) {
		entry := s.newLog(service, "unparseable", "", payload)
		msg := parseErr.Error()
		entry.Error = &msg
		s.insert(ctx, log, entry)
		s.obsMetrics.RecordWebhookEvent(ctx, service, "unparseable", outcomeMalformed)
		return nil, domain.ErrInvalidPayload
	}

	log = logger.WithProvider(log, service, parsed.EventType)
	entry := s.newLog(service, parsed.EventType, parsed.DedupeKey, payload)
	outcome := &domain.Outcome{LogID: entry.ID, EventType: parsed.EventType}

	if s.seen(ctx, log, service, parsed.DedupeKey) {
		entry.Duplicate = true
		processedAt := s.clock.Now()
		entry.ProcessedAt = &processedAt
		s.insert(ctx, log, entry)
		outcome.Duplicate = true
		log.Info("duplicate webhook acknowledged", zap.String("dedupe_key", parsed.DedupeKey))
		s.obsMetrics.RecordWebhookEvent(ctx, service, parsed.EventType, outcomeDuplicate)
		return outcome, nil
	}

	s.insert(ctx, log, entry)

	if errors.Is(parseErr, domain.ErrEventIgnored) {
		outcome.Ignored = true
		log.Info("webhook event type ignored")
		s.markProcessed(ctx, log, entry.ID, nil)
		s.obsMetrics.RecordWebhookEvent(ctx, service, parsed.EventType, outcomeIgnored)
		return outcome, nil
	}

	result, dispatchErr := s.pipeline.Apply(ctx, parsed.Event)
	if dispatchErr != nil {
		log.Error("webhook dispatch failed", zap.Error(dispatchErr), zap.String("log_id", entry.ID))
		msg := dispatchErr.Error()
		s.markProcessed(ctx, log, entry.ID, &msg)
		s.obsMetrics.RecordWebhookEvent(ctx, service, parsed.EventType, outcomeFailed)
		return outcome, nil
	}

	s.remember(ctx, log, service, parsed.DedupeKey)
	s.markProcessed(ctx, log, entry.ID, nil)
	log.Info("webhook processed",
		zap.String("outcome", string(result.Outcome)),
		zap.String("from", string(result.From)),
		zap.String("to", string(result.To)),
	)
	s.obsMetrics.RecordWebhookEvent(ctx, service, parsed.EventType, outcomeProcessed)
	return outcome, nil
}

func (s *Service) newLog(service, eventType, dedupeKey string, payload []byte) *domain.WebhookLog {
	now := s.clock.Now()
	return &domain.WebhookLog{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Service:    service,
		EventType:  eventType,
		DedupeKey:  dedupeKey,
		Payload:    storablePayload(payload),
		ReceivedAt: now,
	}
}

func (s *Service) insert(ctx context.Context, log *zap.Logger, entry *domain.WebhookLog) {
	if err := s.repo.Insert(context.WithoutCancel(ctx), s.db, entry); err != nil {
		log.Error("failed to write webhook log", zap.Error(err), zap.String("log_id", entry.ID))
	}
}

func (s *Service) markProcessed(ctx context.Context, log *zap.Logger, id string, processErr *string) {
	if err := s.repo.MarkProcessed(context.WithoutCancel(ctx), s.db, id, s.clock.Now(), processErr); err != nil {
		log.Error("failed to mark webhook log processed", zap.Error(err), zap.String("log_id", id))
	}
}

func (s *Service) seen(ctx context.Context, log *zap.Logger, service, key string) bool {
	if s.redis == nil || strings.TrimSpace(key) == "" {
		return false
	}
	n, err := s.redis.Exists(ctx, fmt.Sprintf(dedupeKeyFormat, service, key)).Result()
	if err != nil {
		log.Warn("webhook dedupe lookup failed", zap.Error(err))
		return false
	}
	return n > 0
}

func (s *Service) remember(ctx context.Context, log *zap.Logger, service, key string) {
	if s.redis == nil || strings.TrimSpace(key) == "" {
		return
	}
	if err := s.redis.SetNX(context.WithoutCancel(ctx), fmt.Sprintf(dedupeKeyFormat, service, key), s.clock.Now().Unix(), dedupeTTL).Err(); err != nil {
		log.Warn("webhook dedupe marker not stored", zap.Error(err))
	}
}

// storablePayload keeps the raw body when it is JSON and otherwise stores it
// as a JSON string so the column stays valid.
func storablePayload(payload []byte) datatypes.JSON {
	if json.Valid(payload) {
		return datatypes.JSON(payload)
	}
	encoded, err := json.Marshal(string(payload))
	if err != nil {
		return datatypes.JSON(`null`)
	}
	return datatypes.JSON(encoded)
}
