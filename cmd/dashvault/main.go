package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dashvault/internal/clock"
	"github.com/smallbiznis/dashvault/internal/config"
	"github.com/smallbiznis/dashvault/internal/migration"
	"github.com/smallbiznis/dashvault/internal/observability"
	"github.com/smallbiznis/dashvault/internal/scheduler"
	"github.com/smallbiznis/dashvault/internal/server"
	"github.com/smallbiznis/dashvault/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional Domains
		server.DomainModules,
		server.Module,

		// Monolith mode runs the sweep in-process.
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
