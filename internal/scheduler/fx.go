package scheduler

import (
	"context"

	"github.com/voltbill/chargesync/internal/engine"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(NewConfig),
	fx.Provide(func(s *engine.Service) Runner { return s }),
	fx.Provide(New),
	fx.Invoke(Register),
)

func Register(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return sched.Start()
		},
		OnStop: func(ctx context.Context) error {
			return sched.Stop(ctx)
		},
	})
}
