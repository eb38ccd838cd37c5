package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/dukapos/dukapos/internal/activation"
	"github.com/dukapos/dukapos/internal/cache"
	"github.com/dukapos/dukapos/internal/clock"
	"github.com/dukapos/dukapos/internal/config"
	"github.com/dukapos/dukapos/internal/events"
	"github.com/dukapos/dukapos/internal/ledger"
	"github.com/dukapos/dukapos/internal/logger"
	"github.com/dukapos/dukapos/internal/migration"
	"github.com/dukapos/dukapos/internal/mpesa"
	"github.com/dukapos/dukapos/internal/notification"
	"github.com/dukapos/dukapos/internal/plan"
	"github.com/dukapos/dukapos/internal/providers"
	"github.com/dukapos/dukapos/internal/ratelimit"
	"github.com/dukapos/dukapos/internal/scheduler"
	"github.com/dukapos/dukapos/internal/subscription"
	"github.com/dukapos/dukapos/internal/tenant"
	"github.com/dukapos/dukapos/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		cache.Module,
		ratelimit.Module,
		migration.Module,

		// Domain services required by the jobs
		plan.Module,
		tenant.Module,
		ledger.Module,
		mpesa.Module,
		subscription.Module,
		events.Module,
		providers.Module,
		notification.Module,
		activation.Module,

		// No server module!
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
