package main

import (
	"github.com/andyvauliln/paysync/internal/clock"
	"github.com/andyvauliln/paysync/internal/config"
	"github.com/andyvauliln/paysync/internal/migration"
	"github.com/andyvauliln/paysync/internal/observability"
	"github.com/andyvauliln/paysync/internal/server"
	"github.com/andyvauliln/paysync/pkg/db"
	"github.com/bwmarrin/snowflake"
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
	)
	app.Run()
}

// RegisterSnowflake provides the id node used for audit log entries.
func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
