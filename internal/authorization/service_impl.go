package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/dashvault/internal/audit/domain"
	"github.com/smallbiznis/dashvault/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectSubmission     = "submission"
	ObjectRecovery       = "recovery"
	ObjectEarning        = "earning"
	ObjectDriverEarnings = "driver_earnings"
	ObjectMonitoring     = "monitoring"
	ObjectOperatorKey    = "operator_key"
	ObjectAuditLog       = "audit_log"
)

const (
	ActionRecoveryView = "recovery.view"
	ActionRecoveryAct  = "recovery.act"

	ActionEarningCalculate     = "earning.calculate"
	ActionEarningUpdatePayment = "earning.update_payment"
	ActionDriverEarningsView   = "driver_earnings.view"

	ActionMonitoringView = "monitoring.view"

	ActionOperatorKeyView   = "operator_key.view"
	ActionOperatorKeyCreate = "operator_key.create"
	ActionOperatorKeyRevoke = "operator_key.revoke"

	ActionAuditLogView = "audit_log.view"
)

const actionAuthorizationDenied = "authorization.denied"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, object string, action string) error {
	actorType := strings.TrimSpace(actor.Type)
	actorID := strings.TrimSpace(actor.ID)
	role := strings.ToLower(strings.TrimSpace(actor.Role))
	if actorType == "" || actorID == "" || role == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("%s:%s", actorType, actorID)
	if err := s.ensureGrouping(subject, "role:"+role); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		logger.WithContext(ctx, s.log).Warn("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, actorType, actorID, object, action)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps exactly one role link per subject, following the
// role currently stored on the key.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorType, actorID, object, action string) {
	if s.auditSvc == nil {
		return
	}
	targetID := object
	if err := s.auditSvc.AuditLog(ctx, actorType, &actorID, actionAuthorizationDenied, "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
	}); err != nil {
		s.log.Warn("failed to audit authorization denial", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	views := [][]string{
		{ObjectRecovery, ActionRecoveryView},
		{ObjectDriverEarnings, ActionDriverEarningsView},
		{ObjectMonitoring, ActionMonitoringView},
		{ObjectAuditLog, ActionAuditLogView},
	}
	operatorOnly := [][]string{
		{ObjectRecovery, ActionRecoveryAct},
		{ObjectEarning, ActionEarningCalculate},
		{ObjectEarning, ActionEarningUpdatePayment},
		{ObjectOperatorKey, ActionOperatorKeyView},
		{ObjectOperatorKey, ActionOperatorKeyCreate},
		{ObjectOperatorKey, ActionOperatorKeyRevoke},
	}

	policies := make([][]string, 0, 2*len(views)+len(operatorOnly))
	for _, rule := range views {
		policies = append(policies,
			[]string{"role:viewer", rule[0], rule[1]},
			[]string{"role:operator", rule[0], rule[1]},
		)
	}
	for _, rule := range operatorOnly {
		policies = append(policies, []string{"role:operator", rule[0], rule[1]})
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
