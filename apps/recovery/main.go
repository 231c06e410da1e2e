package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dashvault/internal/clock"
	"github.com/smallbiznis/dashvault/internal/config"
	"github.com/smallbiznis/dashvault/internal/observability"
	"github.com/smallbiznis/dashvault/internal/scheduler"
	"github.com/smallbiznis/dashvault/internal/server"
	"github.com/smallbiznis/dashvault/pkg/db"
	"go.uber.org/fx"
)

// The recovery worker runs the sweep and health snapshot without serving
// HTTP. Schema migrations are left to the API process.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		server.DomainModules,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

// RegisterSnowflake uses node 2 so worker ids never collide with the API.
func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
