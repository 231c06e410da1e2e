package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/dashvault/internal/audit/domain"
	"github.com/smallbiznis/dashvault/internal/clock"
	"github.com/smallbiznis/dashvault/internal/config"
	"github.com/smallbiznis/dashvault/internal/observability/logger"
	"github.com/smallbiznis/dashvault/internal/operatorkey/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	keyScheme      = "dvk"
	keySecretBytes = 32
	// lastUsedResolution limits last_used_at writes to one per key per window.
	lastUsedResolution = time.Minute
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config
	Repo  domain.Repository
	Audit auditdomain.Service `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	bootstrap config.BootstrapConfig
	repo      domain.Repository
	audit     auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("operatorkey.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		bootstrap: p.Cfg.Bootstrap,
		repo:      p.Repo,
		audit:     p.Audit,
	}
}

func (s *Service) Authenticate(ctx context.Context, raw string) (*domain.Principal, error) {
	prefix, _, err := splitKey(raw)
	if err != nil {
		return nil, domain.ErrUnauthenticated
	}

	key, err := s.repo.FindByPrefix(ctx, s.db, prefix)
	if err != nil {
		return nil, err
	}
	if key == nil || !key.IsActive || !domain.VerifySecret(strings.TrimSpace(raw), key.KeyHash) {
		return nil, domain.ErrUnauthenticated
	}

	now := s.clock.Now()
	if key.LastUsedAt == nil || now.Sub(*key.LastUsedAt) >= lastUsedResolution {
		if err := s.repo.TouchLastUsed(context.WithoutCancel(ctx), s.db, key.ID, now); err != nil {
			logger.WithContext(ctx, s.log).Warn("failed to record operator key use", zap.Error(err))
		}
	}

	return &domain.Principal{KeyID: key.ID.String(), Name: key.Name, Role: key.Role}, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.SecretResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleViewer
	}
	if !domain.ValidRole(role) {
		return nil, domain.ErrInvalidRole
	}

	id := s.genID.Generate()
	plain, err := generateKey(id)
	if err != nil {
		return nil, err
	}
	key, err := s.store(ctx, id, name, role, plain)
	if err != nil {
		return nil, err
	}

	s.writeAudit(ctx, auditdomain.ActionOperatorKeyCreated, key, map[string]any{"name": name, "role": role})
	return &domain.SecretResponse{ID: key.ID.String(), Key: plain}, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Response, error) {
	keys, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Response, 0, len(keys))
	for i := range keys {
		out = append(out, toResponse(&keys[i]))
	}
	return out, nil
}

func (s *Service) Revoke(ctx context.Context, id string) error {
	keyID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || keyID == 0 {
		return domain.ErrInvalidID
	}
	key, err := s.repo.FindByID(ctx, s.db, keyID)
	if err != nil {
		return err
	}
	if key == nil {
		return domain.ErrNotFound
	}

	changed, err := s.repo.Deactivate(ctx, s.db, keyID)
	if err != nil {
		return err
	}
	if changed {
		s.writeAudit(ctx, auditdomain.ActionOperatorKeyRevoked, key, map[string]any{"name": key.Name})
	}
	return nil
}

func (s *Service) EnsureBootstrap(ctx context.Context) error {
	raw := strings.TrimSpace(s.bootstrap.OperatorKey)
	if raw == "" {
		return nil
	}
	prefix, _, err := splitKey(raw)
	if err != nil {
		return err
	}

	existing, err := s.repo.FindByPrefix(ctx, s.db, prefix)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	name := strings.TrimSpace(s.bootstrap.OperatorKeyName)
	if name == "" {
		name = "bootstrap"
	}
	key, err := s.storeWithPrefix(ctx, s.genID.Generate(), prefix, name, domain.RoleOperator, raw)
	if err != nil {
		return err
	}
	s.log.Info("bootstrap operator key installed", zap.String("key_prefix", key.KeyPrefix))
	return nil
}

func (s *Service) store(ctx context.Context, id snowflake.ID, name, role, plain string) (*domain.OperatorKey, error) {
	prefix, _, err := splitKey(plain)
	if err != nil {
		return nil, err
	}
	return s.storeWithPrefix(ctx, id, prefix, name, role, plain)
}

func (s *Service) storeWithPrefix(ctx context.Context, id snowflake.ID, prefix, name, role, plain string) (*domain.OperatorKey, error) {
	hash, err := domain.HashSecret(plain)
	if err != nil {
		return nil, err
	}
	key := &domain.OperatorKey{
		ID:        id,
		Name:      name,
		KeyPrefix: prefix,
		KeyHash:   hash,
		Role:      role,
		IsActive:  true,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *Service) writeAudit(ctx context.Context, action string, key *domain.OperatorKey, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	targetID := key.ID.String()
	if err := s.audit.AuditLog(ctx, "", nil, action, auditdomain.TargetOperatorKey, &targetID, metadata); err != nil {
		logger.WithContext(ctx, s.log).Warn("failed to write audit log", zap.Error(err), zap.String("action", action))
	}
}

// splitKey parses "dvk_<prefix>_<secret>".
func splitKey(raw string) (string, string, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), keyScheme+"_")
	if !ok {
		return "", "", domain.ErrInvalidKeyFormat
	}
	prefix, secret, ok := strings.Cut(rest, "_")
	if !ok || prefix == "" || len(secret) < 16 {
		return "", "", domain.ErrInvalidKeyFormat
	}
	return prefix, secret, nil
}

func generateKey(id snowflake.ID) (string, error) {
	secret := make([]byte, keySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	prefix := strings.ToUpper(strconv.FormatInt(int64(id), 36))
	return keyScheme + "_" + prefix + "_" + hex.EncodeToString(secret), nil
}

func toResponse(key *domain.OperatorKey) domain.Response {
	return domain.Response{
		ID:         key.ID.String(),
		Name:       key.Name,
		KeyPrefix:  key.KeyPrefix,
		Role:       key.Role,
		IsActive:   key.IsActive,
		LastUsedAt: key.LastUsedAt,
		CreatedAt:  key.CreatedAt,
	}
}

