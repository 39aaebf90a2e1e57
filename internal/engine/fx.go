package engine

import (
	"github.com/voltbill/chargesync/internal/lago"
	"github.com/voltbill/chargesync/internal/steve"
	"go.uber.org/fx"
)

var Module = fx.Module("sync.engine",
	fx.Provide(NewConfig),
	fx.Provide(func(c *steve.Client) OCPPBackend { return c }),
	fx.Provide(func(c *lago.Client) BillingPlatform { return c }),
	fx.Provide(New),
)
