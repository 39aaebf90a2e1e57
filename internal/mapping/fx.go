package mapping

import (
	"github.com/voltbill/chargesync/internal/mapping/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("mapping.store",
	fx.Provide(repository.Provide),
)
