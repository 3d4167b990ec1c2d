package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tithi/internal/audit"
	"github.com/smallbiznis/tithi/internal/clock"
	"github.com/smallbiznis/tithi/internal/config"
	"github.com/smallbiznis/tithi/internal/dispatcher"
	"github.com/smallbiznis/tithi/internal/logger"
	"github.com/smallbiznis/tithi/internal/migration"
	"github.com/smallbiznis/tithi/internal/observability"
	"github.com/smallbiznis/tithi/internal/providers/email"
	"github.com/smallbiznis/tithi/internal/providers/sms"
	"github.com/smallbiznis/tithi/pkg/db"
	"go.uber.org/fx"
)

// Standalone delivery worker: polls the notification queue without
// serving the admin API.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		audit.Module,
		email.Module,
		sms.Module,

		dispatcher.Module,
		fx.Invoke(dispatcher.Register),
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
