package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dashvault/internal/clock"
	"github.com/smallbiznis/dashvault/internal/config"
	earningsdomain "github.com/smallbiznis/dashvault/internal/earnings/domain"
	earningsrepo "github.com/smallbiznis/dashvault/internal/earnings/repository"
	earningsservice "github.com/smallbiznis/dashvault/internal/earnings/service"
	pipelinedomain "github.com/smallbiznis/dashvault/internal/pipeline/domain"
	"github.com/smallbiznis/dashvault/internal/pipeline/service"
	scenariodomain "github.com/smallbiznis/dashvault/internal/scenario/domain"
	scenariorepo "github.com/smallbiznis/dashvault/internal/scenario/repository"
	scenarioservice "github.com/smallbiznis/dashvault/internal/scenario/service"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	submissionrepo "github.com/smallbiznis/dashvault/internal/submission/repository"
	"github.com/smallbiznis/dashvault/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type anonymizerMock struct {
	mock.Mock
}

func (m *anonymizerMock) StartJob(ctx context.Context, req pipelinedomain.AnonymizationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type fixedExtractor struct{}

func (fixedExtractor) Extract(_ context.Context, req scenariodomain.Request) ([]scenariodomain.Detection, error) {
	return []scenariodomain.Detection{
		{Category: scenariodomain.CategoryLaneChange, Start: 0, End: 10, Confidence: 0.9, Tags: scenariodomain.NewTagSet(scenariodomain.TagDay)},
		{Category: scenariodomain.CategoryNearMiss, Start: 20, End: 25, Confidence: 0.85, Tags: scenariodomain.NewTagSet(scenariodomain.TagDay, scenariodomain.TagEdgeCase)},
	}, nil
}

type harness struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	anon  *anonymizerMock
	rules *config.PipelineConfigHolder
	svc   pipelinedomain.Service
}

func newHarness(t *testing.T, mutate func(*config.PipelineConfig)) *harness {
	t.Helper()
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	pcfg := config.DefaultPipelineConfig()
	if mutate != nil {
		mutate(&pcfg)
	}
	rules := config.NewStaticPipelineConfigHolder(pcfg)

	cfg := config.Config{
		Mux:        config.MuxConfig{PlaybackBaseURL: "https://stream.example"},
		Anonymizer: config.AnonymizerConfig{BaseURL: "https://anon.example", APIKey: "k", CallbackURL: "https://api.example/webhooks/anonymizer"},
	}

	submissions := submissionrepo.Provide()
	scenarios := scenarioservice.NewService(scenarioservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       fake,
		Rules:       rules,
		Repo:        scenariorepo.Provide(),
		Submissions: submissions,
		Extractor:   fixedExtractor{},
	})
	earnings := earningsservice.NewService(earningsservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       fake,
		Rules:       rules,
		Repo:        earningsrepo.Provide(),
		Submissions: submissions,
		Scenarios:   scenariorepo.Provide(),
	})
	anon := &anonymizerMock{}

	svc := service.NewService(service.Params{
		DB:         db,
		Log:        log,
		Clock:      fake,
		Cfg:        cfg,
		Rules:      rules,
		Repo:       submissions,
		Scenarios:  scenarios,
		Anonymizer: anon,
		Earnings:   earnings,
	})
	return &harness{db: db, node: node, clock: fake, anon: anon, rules: rules, svc: svc}
}

func (h *harness) seed(t *testing.T, status submissiondomain.Status, mutate func(*submissiondomain.Submission)) *submissiondomain.Submission {
	t.Helper()
	now := h.clock.Now()
	sub := &submissiondomain.Submission{
		ID:          h.node.Generate(),
		DriverID:    "drv-1",
		Filename:    "drive.mp4",
		ContentType: "video/mp4",
		SizeBytes:   2048,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, h.db.Create(sub).Error)
	return sub
}

func (h *harness) load(t *testing.T, id snowflake.ID) submissiondomain.Submission {
	t.Helper()
	var sub submissiondomain.Submission
	require.NoError(t, h.db.Take(&sub, "id = ?", id).Error)
	return sub
}

func (h *harness) count(t *testing.T, model any, id snowflake.ID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Where("submission_id = ?", id).Count(&n).Error)
	return n
}

func (h *harness) apply(t *testing.T, event pipelinedomain.Event) pipelinedomain.Result {
	t.Helper()
	res, err := h.svc.Apply(context.Background(), event)
	require.NoError(t, err)
	return res
}

func duration(v float64) *float64 { return &v }

func TestEndToEndHappyPath(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, submissiondomain.StatusPending, nil)
	h.anon.On("StartJob", mock.Anything, mock.MatchedBy(func(req pipelinedomain.AnonymizationRequest) bool {
		return req.SubmissionID == sub.ID && req.SourceURL == "https://stream.example/pb-1.m3u8"
	})).Return("job-1", nil).Once()

	res := h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindUploadRequested, Source: pipelinedomain.SourceUpload, SubmissionID: sub.ID, UploadID: "up-1"})
	assert.Equal(t, submissiondomain.StatusUploading, res.To)

	res = h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindUploadCreated, Source: pipelinedomain.SourceMux, UploadID: "up-1"})
	assert.Equal(t, pipelinedomain.OutcomeLogged, res.Outcome)

	res = h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAssetLinked, Source: pipelinedomain.SourceMux, UploadID: "up-1", AssetID: "as-1"})
	assert.Equal(t, submissiondomain.StatusProcessing, res.To)

	res = h.apply(t, pipelinedomain.Event{
		Kind:            pipelinedomain.KindAssetReady,
		Source:          pipelinedomain.SourceMux,
		AssetID:         "as-1",
		PlaybackID:      "pb-1",
		DurationSeconds: duration(600),
	})
	assert.Equal(t, submissiondomain.StatusReady, res.To)

	stored := h.load(t, sub.ID)
	assert.Equal(t, submissiondomain.StatusReady, stored.Status)
	require.NotNil(t, stored.AnonymizationJobID)
	assert.Equal(t, "job-1", *stored.AnonymizationJobID)
	assert.NotNil(t, stored.ScenariosGeneratedAt)
	assert.Equal(t, int64(2), h.count(t, &scenariodomain.Scenario{}, sub.ID))

	res = h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAnonymizationProcessing, Source: pipelinedomain.SourceAnonymizer, JobID: "job-1"})
	assert.Equal(t, submissiondomain.StatusAnonymizing, res.To)

	res = h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAnonymizationCompleted, Source: pipelinedomain.SourceAnonymizer, JobID: "job-1", OutputURL: "https://cdn.example/out.mp4"})
	assert.Equal(t, submissiondomain.StatusCompleted, res.To)

	stored = h.load(t, sub.ID)
	assert.True(t, stored.IsAnonymized)
	assert.NotNil(t, stored.CompletedAt)
	require.NotNil(t, stored.AnonymizedURL)
	assert.Equal(t, "https://cdn.example/out.mp4", *stored.AnonymizedURL)
	assert.Equal(t, int64(1), h.count(t, &earningsdomain.Earning{}, sub.ID))

	h.anon.AssertExpectations(t)
}

func TestDuplicateDeliveriesAreNoops(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, submissiondomain.StatusProcessing, func(s *submissiondomain.Submission) {
		upload, asset := "up-2", "as-2"
		s.MuxUploadID = &upload
		s.MuxAssetID = &asset
	})
	h.anon.On("StartJob", mock.Anything, mock.Anything).Return("job-2", nil).Once()

	ready := pipelinedomain.Event{Kind: pipelinedomain.KindAssetReady, Source: pipelinedomain.SourceMux, AssetID: "as-2", PlaybackID: "pb-2", DurationSeconds: duration(300)}
	first := h.apply(t, ready)
	second := h.apply(t, ready)
	assert.Equal(t, pipelinedomain.OutcomeApplied, first.Outcome)
	assert.Equal(t, pipelinedomain.OutcomeNoop, second.Outcome)
	assert.Equal(t, int64(2), h.count(t, &scenariodomain.Scenario{}, sub.ID))

	done := pipelinedomain.Event{Kind: pipelinedomain.KindAnonymizationCompleted, Source: pipelinedomain.SourceAnonymizer, JobID: "job-2"}
	assert.True(t, h.apply(t, done).Applied())
	assert.False(t, h.apply(t, done).Applied())
	assert.Equal(t, int64(1), h.count(t, &earningsdomain.Earning{}, sub.ID))

	h.anon.AssertNumberOfCalls(t, "StartJob", 1)
}

func TestLateEventsDoNotRegress(t *testing.T) {
	h := newHarness(t, nil)
	asset := "as-3"
	sub := h.seed(t, submissiondomain.StatusCompleted, func(s *submissiondomain.Submission) {
		s.MuxAssetID = &asset
	})

	res := h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAssetErrored, Source: pipelinedomain.SourceMux, AssetID: asset, ErrorDetail: "late"})
	assert.Equal(t, pipelinedomain.OutcomeNoop, res.Outcome)

	res = h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAssetReady, Source: pipelinedomain.SourceMux, AssetID: asset, DurationSeconds: duration(10)})
	assert.Equal(t, pipelinedomain.OutcomeNoop, res.Outcome)

	stored := h.load(t, sub.ID)
	assert.Equal(t, submissiondomain.StatusCompleted, stored.Status)
	assert.Nil(t, stored.ErrorDetail)
	assert.Nil(t, stored.DurationSeconds)
}

func TestReadyBeforeAssetLinkFallsBackToUploadID(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, submissiondomain.StatusUploading, func(s *submissiondomain.Submission) {
		upload := "up-4"
		s.MuxUploadID = &upload
	})
	h.anon.On("StartJob", mock.Anything, mock.Anything).Return("job-4", nil).Once()

	res := h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAssetReady, Source: pipelinedomain.SourceMux, UploadID: "up-4", AssetID: "as-4", PlaybackID: "pb-4", DurationSeconds: duration(90)})
	assert.Equal(t, submissiondomain.StatusReady, res.To)

	res = h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAssetLinked, Source: pipelinedomain.SourceMux, UploadID: "up-4", AssetID: "as-4"})
	assert.Equal(t, pipelinedomain.OutcomeNoop, res.Outcome)

	stored := h.load(t, sub.ID)
	assert.Equal(t, submissiondomain.StatusReady, stored.Status)
	require.NotNil(t, stored.MuxAssetID)
	assert.Equal(t, "as-4", *stored.MuxAssetID)
	require.NotNil(t, stored.DurationSeconds)
	assert.Equal(t, 90.0, *stored.DurationSeconds)
}

func TestKickoffFailureFallsBackToSkipped(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, submissiondomain.StatusProcessing, func(s *submissiondomain.Submission) {
		asset := "as-5"
		s.MuxAssetID = &asset
	})
	h.anon.On("StartJob", mock.Anything, mock.Anything).Return("", errors.New("anonymizer down")).Once()

	h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAssetReady, Source: pipelinedomain.SourceMux, AssetID: "as-5", PlaybackID: "pb-5", DurationSeconds: duration(60)})

	stored := h.load(t, sub.ID)
	assert.Equal(t, submissiondomain.StatusCompleted, stored.Status)
	assert.False(t, stored.IsAnonymized)
	assert.Contains(t, stored.ProcessingNotes, "anonymization unavailable")
	assert.Equal(t, int64(1), h.count(t, &earningsdomain.Earning{}, sub.ID))
}

func TestKickoffFailureWhenRequiredFails(t *testing.T) {
	h := newHarness(t, func(cfg *config.PipelineConfig) {
		cfg.Anonymization.Required = true
	})
	sub := h.seed(t, submissiondomain.StatusProcessing, func(s *submissiondomain.Submission) {
		asset := "as-6"
		s.MuxAssetID = &asset
	})
	h.anon.On("StartJob", mock.Anything, mock.Anything).Return("", errors.New("anonymizer down")).Once()

	h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAssetReady, Source: pipelinedomain.SourceMux, AssetID: "as-6", PlaybackID: "pb-6", DurationSeconds: duration(60)})

	stored := h.load(t, sub.ID)
	assert.Equal(t, submissiondomain.StatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorDetail)
	assert.Equal(t, "anonymizer down", *stored.ErrorDetail)
	assert.Zero(t, h.count(t, &earningsdomain.Earning{}, sub.ID))
}

func TestUnknownCorrelationKeyIsSoftIgnored(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.svc.Apply(context.Background(), pipelinedomain.Event{Kind: pipelinedomain.KindAssetReady, Source: pipelinedomain.SourceMux, AssetID: "ghost"})
	require.NoError(t, err)
	assert.Equal(t, pipelinedomain.OutcomeNotFound, res.Outcome)

	res, err = h.svc.Apply(context.Background(), pipelinedomain.Event{Kind: pipelinedomain.KindAnonymizationCompleted, Source: pipelinedomain.SourceAnonymizer})
	require.NoError(t, err)
	assert.Equal(t, pipelinedomain.OutcomeNotFound, res.Outcome)

	_, err = h.svc.Apply(context.Background(), pipelinedomain.Event{Kind: "video.exploded"})
	assert.ErrorIs(t, err, pipelinedomain.ErrUnknownKind)
}

func TestUploadStaleRespectsDeadline(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, submissiondomain.StatusUploading, func(s *submissiondomain.Submission) {
		upload := "up-7"
		s.MuxUploadID = &upload
	})

	// Four minutes old: not stale yet.
	h.clock.Advance(4 * time.Minute)
	res := h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindUploadStale, SubmissionID: sub.ID, StaleBefore: h.clock.Now().Add(-5 * time.Minute)})
	assert.Equal(t, pipelinedomain.OutcomeNoop, res.Outcome)

	// Six minutes old: stale.
	h.clock.Advance(2 * time.Minute)
	res = h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindUploadStale, SubmissionID: sub.ID, StaleBefore: h.clock.Now().Add(-5 * time.Minute)})
	assert.Equal(t, pipelinedomain.OutcomeApplied, res.Outcome)
	assert.Equal(t, submissiondomain.StatusFailed, h.load(t, sub.ID).Status)
}

func TestRestartClearsDerivedState(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, submissiondomain.StatusProcessing, func(s *submissiondomain.Submission) {
		upload, asset := "up-8", "as-8"
		s.MuxUploadID = &upload
		s.MuxAssetID = &asset
	})
	h.anon.On("StartJob", mock.Anything, mock.Anything).Return("job-8", nil).Once()
	h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAssetReady, Source: pipelinedomain.SourceMux, AssetID: "as-8", PlaybackID: "pb-8", DurationSeconds: duration(60)})
	h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAnonymizationFailed, Source: pipelinedomain.SourceAnonymizer, JobID: "job-8", ErrorDetail: "blur model crashed"})
	require.Equal(t, submissiondomain.StatusFailed, h.load(t, sub.ID).Status)

	res := h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindRecoveryRestart, Source: pipelinedomain.SourceRecovery, SubmissionID: sub.ID, Note: "operator restart"})
	assert.Equal(t, submissiondomain.StatusUploading, res.To)

	stored := h.load(t, sub.ID)
	assert.Nil(t, stored.MuxAssetID)
	assert.Nil(t, stored.AnonymizationJobID)
	assert.Nil(t, stored.DurationSeconds)
	assert.Nil(t, stored.ScenariosGeneratedAt)
	assert.Nil(t, stored.ErrorDetail)
	require.NotNil(t, stored.MuxUploadID)
	assert.Equal(t, "up-8", *stored.MuxUploadID)
	assert.Zero(t, h.count(t, &scenariodomain.Scenario{}, sub.ID))
}

func TestRestartToUploadingRestartsLinkDeadline(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, submissiondomain.StatusFailed, func(s *submissiondomain.Submission) {
		upload := "up-9"
		s.MuxUploadID = &upload
	})

	h.clock.Advance(time.Hour)
	res := h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindRecoveryRestart, Source: pipelinedomain.SourceRecovery, SubmissionID: sub.ID})
	require.Equal(t, submissiondomain.StatusUploading, res.To)

	stored := h.load(t, sub.ID)
	require.NotNil(t, stored.UploadStartedAt)
	assert.True(t, stored.UploadStartedAt.Equal(h.clock.Now()))

	h.clock.Advance(time.Minute)
	res = h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindUploadStale, SubmissionID: sub.ID, StaleBefore: h.clock.Now().Add(-5 * time.Minute)})
	assert.Equal(t, pipelinedomain.OutcomeNoop, res.Outcome)
	assert.Equal(t, submissiondomain.StatusUploading, h.load(t, sub.ID).Status)
}

func TestRestartKeepsExtractionClaimUntilScenariosAreDeleted(t *testing.T) {
	h := newHarness(t, nil)
	generatedAt := h.clock.Now()
	sub := h.seed(t, submissiondomain.StatusFailed, func(s *submissiondomain.Submission) {
		s.ScenariosGeneratedAt = &generatedAt
	})
	require.NoError(t, h.db.Create(&scenariodomain.Scenario{
		ID:              h.node.Generate(),
		SubmissionID:    sub.ID,
		ScenarioType:    scenariodomain.CategoryLaneChange,
		StartTime:       0,
		EndTime:         5,
		ConfidenceScore: 0.9,
		Tags:            scenariodomain.NewTagSet(scenariodomain.TagDay),
		CreatedAt:       generatedAt,
	}).Error)

	// Make the scenario delete fail so the reset cannot finish.
	require.NoError(t, h.db.Migrator().RenameTable("scenarios", "scenarios_moved"))
	res := h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindRecoveryRestart, Source: pipelinedomain.SourceRecovery, SubmissionID: sub.ID})
	require.Equal(t, submissiondomain.StatusPending, res.To)
	require.NoError(t, h.db.Migrator().RenameTable("scenarios_moved", "scenarios"))

	stored := h.load(t, sub.ID)
	assert.NotNil(t, stored.ScenariosGeneratedAt)
	assert.Equal(t, int64(1), h.count(t, &scenariodomain.Scenario{}, sub.ID))
}

func TestOversizedDurationSkipsExtraction(t *testing.T) {
	h := newHarness(t, func(cfg *config.PipelineConfig) {
		cfg.Scenarios.MaxDuration = time.Hour
	})
	sub := h.seed(t, submissiondomain.StatusProcessing, func(s *submissiondomain.Submission) {
		asset := "as-10"
		s.MuxAssetID = &asset
	})
	h.anon.On("StartJob", mock.Anything, mock.Anything).Return("job-10", nil).Once()

	res := h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAssetReady, Source: pipelinedomain.SourceMux, AssetID: "as-10", PlaybackID: "pb-10", DurationSeconds: duration(1e9)})
	assert.Equal(t, submissiondomain.StatusReady, res.To)

	stored := h.load(t, sub.ID)
	assert.Nil(t, stored.ScenariosGeneratedAt)
	assert.Zero(t, h.count(t, &scenariodomain.Scenario{}, sub.ID))
	require.NotNil(t, stored.AnonymizationJobID)
	assert.Equal(t, "job-10", *stored.AnonymizationJobID)
}

func TestCallbackBeforeJobIsStoredFindsSubmissionByReference(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, submissiondomain.StatusReady, nil)

	res := h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAnonymizationProcessing, Source: pipelinedomain.SourceAnonymizer, JobID: "job-11", SubmissionID: sub.ID})
	assert.Equal(t, pipelinedomain.OutcomeApplied, res.Outcome)
	assert.Equal(t, submissiondomain.StatusAnonymizing, res.To)

	stored := h.load(t, sub.ID)
	require.NotNil(t, stored.AnonymizationJobID)
	assert.Equal(t, "job-11", *stored.AnonymizationJobID)

	res = h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAnonymizationStarted, Source: pipelinedomain.SourceAnonymizer, JobID: "job-11", SubmissionID: sub.ID})
	assert.Equal(t, pipelinedomain.OutcomeNoop, res.Outcome)

	res = h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAnonymizationCompleted, Source: pipelinedomain.SourceAnonymizer, JobID: "job-11"})
	assert.Equal(t, submissiondomain.StatusCompleted, res.To)
}

func TestCallbackForOtherJobIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, submissiondomain.StatusAnonymizing, func(s *submissiondomain.Submission) {
		job := "job-12"
		s.AnonymizationJobID = &job
	})

	res := h.apply(t, pipelinedomain.Event{Kind: pipelinedomain.KindAnonymizationFailed, Source: pipelinedomain.SourceAnonymizer, JobID: "job-stale", SubmissionID: sub.ID, ErrorDetail: "old job"})
	assert.Equal(t, pipelinedomain.OutcomeNotFound, res.Outcome)

	stored := h.load(t, sub.ID)
	assert.Equal(t, submissiondomain.StatusAnonymizing, stored.Status)
	assert.Nil(t, stored.ErrorDetail)
	require.NotNil(t, stored.AnonymizationJobID)
	assert.Equal(t, "job-12", *stored.AnonymizationJobID)
}
