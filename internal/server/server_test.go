package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/dashvault/internal/audit/domain"
	"github.com/smallbiznis/dashvault/internal/authorization"
	"github.com/smallbiznis/dashvault/internal/config"
	earningsdomain "github.com/smallbiznis/dashvault/internal/earnings/domain"
	monitoringdomain "github.com/smallbiznis/dashvault/internal/monitoring/domain"
	obscontext "github.com/smallbiznis/dashvault/internal/observability/context"
	operatorkeydomain "github.com/smallbiznis/dashvault/internal/operatorkey/domain"
	recoverydomain "github.com/smallbiznis/dashvault/internal/recovery/domain"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	webhookdomain "github.com/smallbiznis/dashvault/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOperatorKeys struct {
	keys    map[string]operatorkeydomain.Principal
	revoked []string
}

func (f *fakeOperatorKeys) Authenticate(_ context.Context, raw string) (*operatorkeydomain.Principal, error) {
	p, ok := f.keys[raw]
	if !ok {
		return nil, operatorkeydomain.ErrUnauthenticated
	}
	return &p, nil
}

func (f *fakeOperatorKeys) Create(_ context.Context, req operatorkeydomain.CreateRequest) (*operatorkeydomain.SecretResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, operatorkeydomain.ErrInvalidName
	}
	return &operatorkeydomain.SecretResponse{ID: "9", Key: "dvk_new.secret"}, nil
}

func (f *fakeOperatorKeys) List(context.Context) ([]operatorkeydomain.Response, error) {
	return []operatorkeydomain.Response{{ID: "1", Name: "ops", Role: "operator", IsActive: true}}, nil
}

func (f *fakeOperatorKeys) Revoke(_ context.Context, id string) error {
	if id == "404" {
		return operatorkeydomain.ErrNotFound
	}
	f.revoked = append(f.revoked, id)
	return nil
}

func (f *fakeOperatorKeys) EnsureBootstrap(context.Context) error { return nil }

// fakeAuthz grants view actions to every role and everything else to operators.
type fakeAuthz struct{}

func (fakeAuthz) Authorize(_ context.Context, actor authorization.Actor, _ string, action string) error {
	if actor.Role == "operator" || strings.HasSuffix(action, ".view") {
		return nil
	}
	return authorization.ErrForbidden
}

type fakeAudit struct{}

func (fakeAudit) AuditLog(context.Context, string, *string, string, string, *string, map[string]any) error {
	return nil
}

func (fakeAudit) List(_ context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.PageToken == "bad" {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
	}
	return auditdomain.ListAuditLogResponse{AuditLogs: []auditdomain.AuditLog{{Action: auditdomain.ActionRecoveryApplied}}}, nil
}

type fakeSubmissions struct{}

func (fakeSubmissions) InitiateUpload(_ context.Context, req submissiondomain.UploadRequest) (*submissiondomain.UploadResponse, error) {
	switch {
	case req.SizeBytes > 1000:
		return nil, submissiondomain.ErrFileTooLarge
	case req.DriverID == "flood":
		return nil, fmt.Errorf("%w: retry after 5s", submissiondomain.ErrUploadRateLimited)
	case req.DriverID == "down":
		return nil, fmt.Errorf("%w: mux returned 503", submissiondomain.ErrUploadTargetFailed)
	}
	return &submissiondomain.UploadResponse{
		SubmissionID: "101",
		UploadID:     "up-1",
		UploadURL:    "https://storage.example/up-1",
		Status:       submissiondomain.StatusUploading,
	}, nil
}

func (fakeSubmissions) GetStatus(_ context.Context, id string) (*submissiondomain.StatusResponse, error) {
	if id != "101" {
		return nil, submissiondomain.ErrNotFound
	}
	return &submissiondomain.StatusResponse{SubmissionID: id, Status: submissiondomain.StatusCompleted}, nil
}

type fakeWebhooks struct {
	lastService string
}

func (f *fakeWebhooks) Handle(_ context.Context, service string, payload []byte, headers http.Header) (*webhookdomain.Outcome, error) {
	f.lastService = service
	if headers.Get("X-Test-Signature") != "ok" {
		return nil, webhookdomain.ErrInvalidSignature
	}
	if !json.Valid(payload) {
		return nil, webhookdomain.ErrInvalidPayload
	}
	return &webhookdomain.Outcome{LogID: "wh-1", EventType: "video.asset.ready"}, nil
}

type fakeRecovery struct {
	lastApply recoverydomain.ApplyRequest
	actor     string
}

func (f *fakeRecovery) ListStuck(_ context.Context, filter recoverydomain.Filter) (recoverydomain.ListStuckResponse, error) {
	if filter.Status == "bogus" {
		return recoverydomain.ListStuckResponse{}, recoverydomain.ErrInvalidStatus
	}
	return recoverydomain.ListStuckResponse{Items: []recoverydomain.StuckItem{{SubmissionID: "101", Status: "uploading"}}}, nil
}

func (f *fakeRecovery) Apply(ctx context.Context, req recoverydomain.ApplyRequest) (*recoverydomain.ApplyResult, error) {
	f.lastApply = req
	f.actor, _ = obscontext.ActorFromContext(ctx)
	if req.SubmissionID == "502" {
		return nil, fmt.Errorf("%w: mux timeout", recoverydomain.ErrProviderUnavailable)
	}
	return &recoverydomain.ApplyResult{SubmissionID: req.SubmissionID, Action: req.Action, Outcome: recoverydomain.OutcomeApplied}, nil
}

func (f *fakeRecovery) Sweep(context.Context) (recoverydomain.SweepSummary, error) {
	return recoverydomain.SweepSummary{}, nil
}

type fakeMonitoring struct {
	window time.Duration
}

func (f *fakeMonitoring) Signals(_ context.Context, window time.Duration) (*monitoringdomain.Signals, error) {
	f.window = window
	return &monitoringdomain.Signals{StatusCounts: map[string]int64{"completed": 1}}, nil
}

type fakeEarnings struct {
	lastOpts earningsdomain.Options
}

func (f *fakeEarnings) CalculateForSubmission(_ context.Context, id string, opts earningsdomain.Options) (*earningsdomain.Earning, error) {
	f.lastOpts = opts
	if id == "dup" {
		return nil, earningsdomain.ErrAlreadyCalculated
	}
	return &earningsdomain.Earning{}, nil
}

func (f *fakeEarnings) CalculateAutomatic(context.Context, snowflake.ID) error { return nil }

func (f *fakeEarnings) UpdatePaymentStatus(_ context.Context, _ string, status earningsdomain.PaymentStatus) (*earningsdomain.Earning, error) {
	if !status.Valid() {
		return nil, earningsdomain.ErrInvalidPaymentStatus
	}
	return &earningsdomain.Earning{PaymentStatus: status}, nil
}

func (f *fakeEarnings) DriverSummary(_ context.Context, driverID string) (*earningsdomain.DriverSummary, error) {
	return &earningsdomain.DriverSummary{Tier: "bronze"}, nil
}

type testServer struct {
	engine     *gin.Engine
	keys       *fakeOperatorKeys
	webhooks   *fakeWebhooks
	recovery   *fakeRecovery
	monitoring *fakeMonitoring
	earnings   *fakeEarnings
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	ts := &testServer{
		engine: engine,
		keys: &fakeOperatorKeys{keys: map[string]operatorkeydomain.Principal{
			"op-key":     {KeyID: "1", Name: "ops", Role: "operator"},
			"viewer-key": {KeyID: "2", Name: "dash", Role: "viewer"},
		}},
		webhooks:   &fakeWebhooks{},
		recovery:   &fakeRecovery{},
		monitoring: &fakeMonitoring{},
		earnings:   &fakeEarnings{},
	}
	NewServer(ServerParams{
		Gin:            engine,
		Cfg:            config.Config{},
		Log:            zap.NewNop(),
		AuthzSvc:       fakeAuthz{},
		AuditSvc:       fakeAudit{},
		OperatorKeySvc: ts.keys,
		SubmissionSvc:  fakeSubmissions{},
		WebhookSvc:     ts.webhooks,
		RecoverySvc:    ts.recovery,
		MonitoringSvc:  ts.monitoring,
		EarningsSvc:    ts.earnings,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, key string, body string, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func errorType(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	typ, _ := errObj["type"].(string)
	return typ
}

func TestWebhookRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.do(t, http.MethodPost, "/webhooks/mux", "", `{"type":"video.asset.ready"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorType(body))
	assert.Equal(t, "mux", ts.webhooks.lastService)

	rec, body = ts.do(t, http.MethodPost, "/webhooks/anonymizer", "", `{not json`, "X-Test-Signature", "ok")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorType(body))
	assert.Equal(t, "anonymizer", ts.webhooks.lastService)

	rec, body = ts.do(t, http.MethodPost, "/webhooks/mux", "", `{"type":"video.asset.ready"}`, "X-Test-Signature", "ok")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wh-1", body["log_id"])
}

func TestUploadRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.do(t, http.MethodPost, "/api/uploads", "", `{"driver_id":"drv-1","filename":"a.mp4","size_bytes":10,"content_type":"video/mp4"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "101", body["submission_id"])
	assert.Equal(t, "uploading", body["status"])

	rec, body = ts.do(t, http.MethodPost, "/api/uploads", "", `{"driver_id":"drv-1","filename":"a.mp4","size_bytes":5000,"content_type":"video/mp4"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errs := body["error"].(map[string]any)["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "size_bytes", errs[0].(map[string]any)["field"])
	assert.Equal(t, "file_too_large", errs[0].(map[string]any)["code"])

	rec, body = ts.do(t, http.MethodPost, "/api/uploads", "", `{"driver_id":"flood","filename":"a.mp4","size_bytes":10,"content_type":"video/mp4"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", errorType(body))

	rec, body = ts.do(t, http.MethodPost, "/api/uploads", "", `{"driver_id":"down","filename":"a.mp4","size_bytes":10,"content_type":"video/mp4"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "external_service_error", errorType(body))

	rec, _ = ts.do(t, http.MethodPost, "/api/uploads", "", `[`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = ts.do(t, http.MethodGet, "/api/submissions/101", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])

	rec, body = ts.do(t, http.MethodGet, "/api/submissions/999", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorType(body))
}

func TestOperatorRoutesRequireKey(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodGet, "/api/recovery/stuck", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/recovery/stuck", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := ts.do(t, http.MethodGet, "/api/recovery/stuck", "viewer-key", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"], 1)

	rec, body = ts.do(t, http.MethodPost, "/api/recovery/submissions/101/actions", "viewer-key", `{"action":"restart"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorType(body))
}

func TestRecoveryRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.do(t, http.MethodPost, "/api/recovery/submissions/101/actions", "op-key", `{"action":"reconcile_encoding","reason":"webhook lost"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "applied", body["outcome"])
	assert.Equal(t, "101", ts.recovery.lastApply.SubmissionID)
	assert.Equal(t, "webhook lost", ts.recovery.lastApply.Reason)
	assert.Equal(t, string(auditdomain.ActorTypeOperatorKey), ts.recovery.actor)

	rec, body = ts.do(t, http.MethodPost, "/api/recovery/submissions/502/actions", "op-key", `{"action":"reconcile_encoding"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, body["error"].(map[string]any)["detail"], "mux timeout")

	rec, body = ts.do(t, http.MethodGet, "/api/recovery/stuck?status=bogus", "op-key", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorType(body))
}

func TestEarningsRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodPost, "/api/submissions/101/earnings", "op-key", `{"force_recalculate":true,"quality_score":0.9}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.earnings.lastOpts.ForceRecalculate)
	require.NotNil(t, ts.earnings.lastOpts.QualityScore)
	assert.InDelta(t, 0.9, *ts.earnings.lastOpts.QualityScore, 1e-9)
	assert.False(t, ts.earnings.lastOpts.Automatic)

	rec, _ = ts.do(t, http.MethodPost, "/api/submissions/101/earnings", "op-key", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ts.earnings.lastOpts.ForceRecalculate)

	rec, body := ts.do(t, http.MethodPost, "/api/submissions/dup/earnings", "op-key", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", errorType(body))

	rec, body = ts.do(t, http.MethodPatch, "/api/earnings/7", "op-key", `{"payment_status":"paid"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paid", body["payment_status"])

	rec, _ = ts.do(t, http.MethodPatch, "/api/earnings/7", "op-key", `{"payment_status":"refunded"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodPatch, "/api/earnings/7", "viewer-key", `{"payment_status":"paid"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = ts.do(t, http.MethodGet, "/api/drivers/drv-1/earnings", "viewer-key", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bronze", body["tier"])
}

func TestMonitoringWindowParsing(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodGet, "/api/monitoring/signals?window=6h", "viewer-key", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6*time.Hour, ts.monitoring.window)

	rec, _ = ts.do(t, http.MethodGet, "/api/monitoring/signals?window=3600", "viewer-key", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Hour, ts.monitoring.window)

	rec, _ = ts.do(t, http.MethodGet, "/api/monitoring/signals", "viewer-key", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, ts.monitoring.window)

	rec, body := ts.do(t, http.MethodGet, "/api/monitoring/signals?window=soon", "viewer-key", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorType(body))
}

func TestOperatorKeyAndAuditRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.do(t, http.MethodPost, "/api/operator-keys", "op-key", `{"name":"dash","role":"viewer"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "dvk_new.secret", body["key"])

	rec, _ = ts.do(t, http.MethodPost, "/api/operator-keys", "op-key", `{"name":" "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodPost, "/api/operator-keys", "viewer-key", `{"name":"x"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = ts.do(t, http.MethodDelete, "/api/operator-keys/5", "op-key", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"5"}, ts.keys.revoked)

	rec, _ = ts.do(t, http.MethodDelete, "/api/operator-keys/404", "op-key", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = ts.do(t, http.MethodGet, "/api/audit-logs", "viewer-key", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"], 1)

	rec, _ = ts.do(t, http.MethodGet, "/api/audit-logs?page_token=bad", "viewer-key", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/audit-logs?start_at=yesterday", "viewer-key", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/audit-logs?submission_id=1&target_id=2", "viewer-key", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/audit-logs?page_size=500", "viewer-key", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
