package subscription

import (
	subscriptiondomain "github.com/dukapos/dukapos/internal/subscription/domain"
	"github.com/dukapos/dukapos/internal/subscription/repository"
	"github.com/dukapos/dukapos/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) subscriptiondomain.Service { return s }),
)
