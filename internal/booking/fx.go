package booking

import (
	"github.com/smallbiznis/tithi/internal/booking/repository"
	"github.com/smallbiznis/tithi/internal/booking/service"
	"go.uber.org/fx"
)

var Module = fx.Module("booking",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
