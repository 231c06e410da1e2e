package earnings

import (
	earningsdomain "github.com/smallbiznis/dashvault/internal/earnings/domain"
	"github.com/smallbiznis/dashvault/internal/earnings/repository"
	"github.com/smallbiznis/dashvault/internal/earnings/service"
	pipelinedomain "github.com/smallbiznis/dashvault/internal/pipeline/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("earnings.service",
	fx.Provide(repository.Provide),
	fx.Provide(
		fx.Annotate(
			service.NewService,
			fx.As(new(earningsdomain.Service)),
			fx.As(new(pipelinedomain.EarningsTrigger)),
		),
	),
)
