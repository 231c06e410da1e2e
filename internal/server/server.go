package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/dashvault/internal/audit"
	auditdomain "github.com/smallbiznis/dashvault/internal/audit/domain"
	"github.com/smallbiznis/dashvault/internal/authorization"
	"github.com/smallbiznis/dashvault/internal/cloudmetrics"
	"github.com/smallbiznis/dashvault/internal/config"
	"github.com/smallbiznis/dashvault/internal/earnings"
	earningsdomain "github.com/smallbiznis/dashvault/internal/earnings/domain"
	"github.com/smallbiznis/dashvault/internal/monitoring"
	monitoringdomain "github.com/smallbiznis/dashvault/internal/monitoring/domain"
	"github.com/smallbiznis/dashvault/internal/observability"
	obsmiddleware "github.com/smallbiznis/dashvault/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/dashvault/internal/observability/metrics"
	obstracing "github.com/smallbiznis/dashvault/internal/observability/tracing"
	"github.com/smallbiznis/dashvault/internal/operatorkey"
	operatorkeydomain "github.com/smallbiznis/dashvault/internal/operatorkey/domain"
	"github.com/smallbiznis/dashvault/internal/pipeline"
	"github.com/smallbiznis/dashvault/internal/providers"
	"github.com/smallbiznis/dashvault/internal/ratelimit"
	"github.com/smallbiznis/dashvault/internal/recovery"
	recoverydomain "github.com/smallbiznis/dashvault/internal/recovery/domain"
	"github.com/smallbiznis/dashvault/internal/scenario"
	"github.com/smallbiznis/dashvault/internal/submission"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	"github.com/smallbiznis/dashvault/internal/webhook"
	webhookdomain "github.com/smallbiznis/dashvault/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// DomainModules are the services shared by the API process and the
// standalone recovery worker.
var DomainModules = fx.Options(
	cloudmetrics.Module,
	authorization.Module,
	audit.Module,
	ratelimit.Module,
	providers.Module,
	pipeline.Module,
	scenario.Module,
	earnings.Module,
	submission.Module,
	webhook.Module,
	recovery.Module,
	monitoring.Module,
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	operatorkey.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	authzSvc       authorization.Service
	auditSvc       auditdomain.Service
	operatorKeySvc operatorkeydomain.Service
	submissionSvc  submissiondomain.Service
	webhookSvc     webhookdomain.Service
	recoverySvc    recoverydomain.Service
	monitoringSvc  monitoringdomain.Service
	earningsSvc    earningsdomain.Service
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	Log            *zap.Logger
	AuthzSvc       authorization.Service
	AuditSvc       auditdomain.Service
	OperatorKeySvc operatorkeydomain.Service
	SubmissionSvc  submissiondomain.Service
	WebhookSvc     webhookdomain.Service
	RecoverySvc    recoverydomain.Service
	MonitoringSvc  monitoringdomain.Service
	EarningsSvc    earningsdomain.Service
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            log.Named("http.server"),
		authzSvc:       p.AuthzSvc,
		auditSvc:       p.AuditSvc,
		operatorKeySvc: p.OperatorKeySvc,
		submissionSvc:  p.SubmissionSvc,
		webhookSvc:     p.WebhookSvc,
		recoverySvc:    p.RecoverySvc,
		monitoringSvc:  p.MonitoringSvc,
		earningsSvc:    p.EarningsSvc,
	}

	svc.registerWebhookRoutes()
	svc.registerUploadRoutes()
	svc.registerOperatorRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/webhooks")

	hooks.POST("/mux", s.HandleWebhook(webhookdomain.ServiceMux))
	hooks.POST("/anonymizer", s.HandleWebhook(webhookdomain.ServiceAnonymizer))
}

func (s *Server) registerUploadRoutes() {
	api := s.engine.Group("/api")

	api.POST("/uploads", s.InitiateUpload)
	api.GET("/submissions/:id", s.GetSubmissionStatus)
}

func (s *Server) registerOperatorRoutes() {
	api := s.engine.Group("/api", s.OperatorKeyRequired())

	// -------- Recovery --------
	api.GET("/recovery/stuck", s.authorize(authorization.ObjectRecovery, authorization.ActionRecoveryView), s.ListStuckSubmissions)
	api.POST("/recovery/submissions/:id/actions", s.authorize(authorization.ObjectRecovery, authorization.ActionRecoveryAct), s.ApplyRecoveryAction)

	// -------- Earnings --------
	api.POST("/submissions/:id/earnings", s.authorize(authorization.ObjectEarning, authorization.ActionEarningCalculate), s.CalculateEarnings)
	api.PATCH("/earnings/:id", s.authorize(authorization.ObjectEarning, authorization.ActionEarningUpdatePayment), s.UpdateEarningPaymentStatus)
	api.GET("/drivers/:id/earnings", s.authorize(authorization.ObjectDriverEarnings, authorization.ActionDriverEarningsView), s.GetDriverEarnings)

	// -------- Monitoring --------
	api.GET("/monitoring/signals", s.authorize(authorization.ObjectMonitoring, authorization.ActionMonitoringView), s.GetMonitoringSignals)

	// -------- Audit --------
	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)

	// -------- Operator keys --------
	api.GET("/operator-keys", s.authorize(authorization.ObjectOperatorKey, authorization.ActionOperatorKeyView), s.ListOperatorKeys)
	api.POST("/operator-keys", s.authorize(authorization.ObjectOperatorKey, authorization.ActionOperatorKeyCreate), s.CreateOperatorKey)
	api.DELETE("/operator-keys/:id", s.authorize(authorization.ObjectOperatorKey, authorization.ActionOperatorKeyRevoke), s.RevokeOperatorKey)
}
