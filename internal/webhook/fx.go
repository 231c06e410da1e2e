package webhook

import (
	"github.com/smallbiznis/dashvault/internal/config"
	"github.com/smallbiznis/dashvault/internal/webhook/adapters"
	"github.com/smallbiznis/dashvault/internal/webhook/adapters/anonymizer"
	"github.com/smallbiznis/dashvault/internal/webhook/adapters/mux"
	"github.com/smallbiznis/dashvault/internal/webhook/repository"
	"github.com/smallbiznis/dashvault/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(func(cfg config.Config) *adapters.Registry {
		return adapters.NewRegistry(mux.NewAdapter(cfg), anonymizer.NewAdapter(cfg))
	}),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
