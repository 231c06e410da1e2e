package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/dashvault/internal/clock"
	"github.com/smallbiznis/dashvault/internal/config"
	"github.com/smallbiznis/dashvault/internal/operatorkey/domain"
	"github.com/smallbiznis/dashvault/internal/operatorkey/repository"
	"github.com/smallbiznis/dashvault/internal/operatorkey/service"
	"github.com/smallbiznis/dashvault/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const bootstrapKey = "dvk_BOOT_0123456789abcdef0123456789abcdef"

func newService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := testutil.NewDB(t)
	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	svc := service.NewService(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: testutil.NewNode(t),
		Clock: fake,
		Cfg:   config.Config{Bootstrap: config.BootstrapConfig{OperatorKey: bootstrapKey, OperatorKeyName: "ops"}},
		Repo:  repository.Provide(),
	})
	return svc, db, fake
}

func TestCreateAndAuthenticate(t *testing.T) {
	svc, db, fake := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, domain.CreateRequest{Name: "night shift", Role: "Operator"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.Key, "dvk_"))

	principal, err := svc.Authenticate(ctx, created.Key)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOperator, principal.Role)
	assert.Equal(t, created.ID, principal.KeyID)

	var stored domain.OperatorKey
	require.NoError(t, db.Take(&stored, "id = ?", created.ID).Error)
	assert.NotContains(t, stored.KeyHash, created.Key)
	if assert.NotNil(t, stored.LastUsedAt) {
		assert.True(t, stored.LastUsedAt.Equal(fake.Now()))
	}

	_, err = svc.Authenticate(ctx, created.Key+"x")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	_, err = svc.Authenticate(ctx, "Bearer nonsense")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestCreateValidatesInput(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.CreateRequest{Name: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, err = svc.Create(ctx, domain.CreateRequest{Name: "x", Role: "admin"})
	assert.ErrorIs(t, err, domain.ErrInvalidRole)

	created, err := svc.Create(ctx, domain.CreateRequest{Name: "dashboards"})
	require.NoError(t, err)
	principal, err := svc.Authenticate(ctx, created.Key)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleViewer, principal.Role)
}

func TestRevokeDisablesKey(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, domain.CreateRequest{Name: "temp", Role: domain.RoleOperator})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, created.ID))
	require.NoError(t, svc.Revoke(ctx, created.ID))

	_, err = svc.Authenticate(ctx, created.Key)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	assert.ErrorIs(t, svc.Revoke(ctx, "nope"), domain.ErrInvalidID)
	assert.ErrorIs(t, svc.Revoke(ctx, "1234567"), domain.ErrNotFound)

	keys, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.False(t, keys[0].IsActive)
}

func TestEnsureBootstrapIsIdempotent(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureBootstrap(ctx))
	require.NoError(t, svc.EnsureBootstrap(ctx))

	var count int64
	require.NoError(t, db.Model(&domain.OperatorKey{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	principal, err := svc.Authenticate(ctx, bootstrapKey)
	require.NoError(t, err)
	assert.Equal(t, "ops", principal.Name)
	assert.Equal(t, domain.RoleOperator, principal.Role)
}
