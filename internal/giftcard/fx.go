package giftcard

import (
	"github.com/smallbiznis/tithi/internal/giftcard/service"
	"go.uber.org/fx"
)

var Module = fx.Module("giftcard.service",
	fx.Provide(service.New),
)
