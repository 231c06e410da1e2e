package scenario

import (
	pipelinedomain "github.com/smallbiznis/dashvault/internal/pipeline/domain"
	scenariodomain "github.com/smallbiznis/dashvault/internal/scenario/domain"
	"github.com/smallbiznis/dashvault/internal/scenario/repository"
	"github.com/smallbiznis/dashvault/internal/scenario/service"
	"go.uber.org/fx"
)

var Module = fx.Module("scenario.service",
	fx.Provide(repository.Provide),
	fx.Provide(
		fx.Annotate(
			service.NewService,
			fx.As(new(scenariodomain.Service)),
			fx.As(new(pipelinedomain.ScenarioGenerator)),
		),
	),
)
