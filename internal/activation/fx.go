package activation

import (
	activationdomain "github.com/dukapos/dukapos/internal/activation/domain"
	"github.com/dukapos/dukapos/internal/activation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("activation",
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) activationdomain.Service { return s }),
)
