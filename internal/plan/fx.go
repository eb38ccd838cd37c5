package plan

import (
	"github.com/dukapos/dukapos/internal/plan/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("plan",
	fx.Provide(repository.Provide),
)
