package dispatcher

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("dispatcher",
	fx.Provide(NewLocker),
	fx.Provide(New),
)

// Register starts the polling loop on application start. Used by the
// binaries that run the dispatcher in-process.
func Register(lc fx.Lifecycle, d *Dispatcher) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go d.RunForever(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
