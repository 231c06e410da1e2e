package submission

import (
	"github.com/smallbiznis/dashvault/internal/submission/repository"
	"github.com/smallbiznis/dashvault/internal/submission/service"
	"go.uber.org/fx"
)

var Module = fx.Module("submission.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
