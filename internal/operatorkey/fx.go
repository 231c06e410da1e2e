package operatorkey

import (
	"context"

	"github.com/smallbiznis/dashvault/internal/operatorkey/domain"
	"github.com/smallbiznis/dashvault/internal/operatorkey/repository"
	"github.com/smallbiznis/dashvault/internal/operatorkey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("operatorkey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(registerBootstrap),
)

func registerBootstrap(lc fx.Lifecycle, svc domain.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.EnsureBootstrap(ctx)
		},
	})
}
