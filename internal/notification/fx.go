package notification

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(NewDispatcher),
	fx.Invoke(func(lc fx.Lifecycle, d *Dispatcher) {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				d.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				d.Stop()
				return nil
			},
		})
	}),
)
