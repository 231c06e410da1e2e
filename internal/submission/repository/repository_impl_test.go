package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	submissiondomain "github.com/smallbiznis/dashvault/internal/submission/domain"
	"github.com/smallbiznis/dashvault/internal/submission/repository"
	"github.com/smallbiznis/dashvault/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var base = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, db *gorm.DB, node *snowflake.Node, status submissiondomain.Status, age time.Duration, assetID *string) *submissiondomain.Submission {
	t.Helper()
	item := &submissiondomain.Submission{
		ID:          node.Generate(),
		DriverID:    "driver-1",
		Filename:    "clip.mp4",
		ContentType: "video/mp4",
		SizeBytes:   1024,
		Status:      status,
		MuxAssetID:  assetID,
		CreatedAt:   base.Add(-age),
		UpdatedAt:   base.Add(-age),
	}
	require.NoError(t, repository.Provide().Insert(context.Background(), db, item))
	return item
}

func strPtr(v string) *string { return &v }

func TestListStaleMatchesAnyCriterionInIDOrder(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	repo := repository.Provide()
	ctx := context.Background()

	staleUpload := seed(t, db, node, submissiondomain.StatusUploading, 6*time.Minute, nil)
	seed(t, db, node, submissiondomain.StatusUploading, 4*time.Minute, nil)
	seed(t, db, node, submissiondomain.StatusUploading, 10*time.Minute, strPtr("asset-linked"))
	staleProcessing := seed(t, db, node, submissiondomain.StatusProcessing, time.Hour, strPtr("asset-1"))
	seed(t, db, node, submissiondomain.StatusCompleted, time.Hour, strPtr("asset-2"))

	query := submissiondomain.StaleQuery{
		Criteria: []submissiondomain.StaleCriterion{
			{Status: submissiondomain.StatusUploading, Before: base.Add(-5 * time.Minute), RequireNoAsset: true},
			{Status: submissiondomain.StatusProcessing, Before: base.Add(-30 * time.Minute)},
		},
	}
	items, err := repo.ListStale(ctx, db, query)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, staleUpload.ID, items[0].ID)
	assert.Equal(t, staleProcessing.ID, items[1].ID)

	query.Limit = 1
	first, err := repo.ListStale(ctx, db, query)
	require.NoError(t, err)
	require.Len(t, first, 1)

	query.AfterID = first[0].ID
	rest, err := repo.ListStale(ctx, db, query)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, staleProcessing.ID, rest[0].ID)

	count, err := repo.CountStaleByStatus(ctx, db, submissiondomain.StatusUploading, base.Add(-5*time.Minute), true)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	none, err := repo.ListStale(ctx, db, submissiondomain.StaleQuery{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateIsConditional(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	repo := repository.Provide()
	ctx := context.Background()
	item := seed(t, db, node, submissiondomain.StatusUploading, time.Minute, nil)

	won, err := repo.Update(ctx, db, submissiondomain.ConditionalUpdate{
		ID:     item.ID,
		From:   []submissiondomain.Status{submissiondomain.StatusPending, submissiondomain.StatusUploading},
		Guards: []submissiondomain.Guard{{Expr: "mux_asset_id IS NULL"}},
		Set:    map[string]any{"status": submissiondomain.StatusProcessing, "mux_asset_id": "asset-9"},
	})
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.Update(ctx, db, submissiondomain.ConditionalUpdate{
		ID:   item.ID,
		From: []submissiondomain.Status{submissiondomain.StatusPending, submissiondomain.StatusUploading},
		Set:  map[string]any{"status": submissiondomain.StatusFailed},
	})
	require.NoError(t, err)
	assert.False(t, won)

	got, err := repo.FindByAssetID(ctx, db, "asset-9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, submissiondomain.StatusProcessing, got.Status)

	missing, err := repo.FindByJobID(ctx, db, "job-unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCountByStatusReportsEveryStatus(t *testing.T) {
	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	ctx := context.Background()
	seed(t, db, node, submissiondomain.StatusCompleted, time.Hour, strPtr("a-1"))
	seed(t, db, node, submissiondomain.StatusCompleted, time.Hour, strPtr("a-2"))
	seed(t, db, node, submissiondomain.StatusFailed, time.Hour, nil)

	counts, err := repository.Provide().CountByStatus(ctx, db)
	require.NoError(t, err)
	assert.Len(t, counts, len(submissiondomain.AllStatuses))
	assert.EqualValues(t, 2, counts[submissiondomain.StatusCompleted])
	assert.EqualValues(t, 1, counts[submissiondomain.StatusFailed])
	assert.Zero(t, counts[submissiondomain.StatusPending])
}
