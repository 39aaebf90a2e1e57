package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/voltbill/chargesync/internal/clock"
	"github.com/voltbill/chargesync/internal/config"
	"github.com/voltbill/chargesync/internal/engine"
	"github.com/voltbill/chargesync/internal/lago"
	"github.com/voltbill/chargesync/internal/mapping"
	"github.com/voltbill/chargesync/internal/metrics"
	"github.com/voltbill/chargesync/internal/runlock"
	"github.com/voltbill/chargesync/internal/scheduler"
	"github.com/voltbill/chargesync/internal/steve"
	"github.com/voltbill/chargesync/internal/syncrun"
	"github.com/voltbill/chargesync/pkg/db"
	"github.com/voltbill/chargesync/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		metrics.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Outbound clients
		steve.Module,
		lago.Module,

		// Stores and the engine
		mapping.Module,
		syncrun.Module,
		runlock.Module,
		engine.Module,

		// Triggers
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
