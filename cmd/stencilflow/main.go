package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/stencilflow/stencilflow/internal/clock"
	"github.com/stencilflow/stencilflow/internal/config"
	"github.com/stencilflow/stencilflow/internal/migration"
	"github.com/stencilflow/stencilflow/internal/observability"
	"github.com/stencilflow/stencilflow/internal/scheduler"
	"github.com/stencilflow/stencilflow/internal/server"
	"github.com/stencilflow/stencilflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Module,
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
