package cloudmetrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/dashvault/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cloud.metrics",
	fx.Provide(NewPusher),
	fx.Provide(func(lc fx.Lifecycle, cfg config.Config, pusher Pusher, log *zap.Logger) *Health {
		h := NewHealth(cfg, pusher, log, prometheus.DefaultRegisterer)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return h.Close()
			},
		})
		return h
	}),
)
