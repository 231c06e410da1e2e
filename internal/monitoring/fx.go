package monitoring

import (
	"github.com/smallbiznis/dashvault/internal/monitoring/service"
	"go.uber.org/fx"
)

var Module = fx.Module("monitoring.service",
	fx.Provide(service.NewService),
)
