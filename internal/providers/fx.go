package providers

import (
	pipelinedomain "github.com/smallbiznis/dashvault/internal/pipeline/domain"
	"github.com/smallbiznis/dashvault/internal/providers/anonymizer"
	"github.com/smallbiznis/dashvault/internal/providers/mux"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	fx.Provide(mux.NewClient),
	fx.Provide(anonymizer.NewClient),
	fx.Provide(func(c anonymizer.Client) pipelinedomain.Anonymizer { return c }),
)
