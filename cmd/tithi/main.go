package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tithi/internal/audit"
	"github.com/smallbiznis/tithi/internal/booking"
	"github.com/smallbiznis/tithi/internal/clock"
	"github.com/smallbiznis/tithi/internal/config"
	"github.com/smallbiznis/tithi/internal/dispatcher"
	"github.com/smallbiznis/tithi/internal/giftcard"
	"github.com/smallbiznis/tithi/internal/idempotency"
	"github.com/smallbiznis/tithi/internal/logger"
	"github.com/smallbiznis/tithi/internal/migration"
	"github.com/smallbiznis/tithi/internal/notification"
	"github.com/smallbiznis/tithi/internal/observability"
	"github.com/smallbiznis/tithi/internal/payment"
	"github.com/smallbiznis/tithi/internal/providers/email"
	"github.com/smallbiznis/tithi/internal/providers/sms"
	"github.com/smallbiznis/tithi/internal/server"
	"github.com/smallbiznis/tithi/pkg/db"
	"go.uber.org/fx"
)

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
		payment.Module,
		giftcard.Module,
		notification.Module,
		idempotency.Module,
		booking.Module,
		email.Module,
		sms.Module,

		// The monolith also runs the notification dispatcher in-process.
		dispatcher.Module,
		fx.Invoke(dispatcher.Register),

		server.Module,
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
