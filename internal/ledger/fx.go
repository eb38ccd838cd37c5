package ledger

import (
	ledgerdomain "github.com/dukapos/dukapos/internal/ledger/domain"
	"github.com/dukapos/dukapos/internal/ledger/repository"
	"github.com/dukapos/dukapos/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) ledgerdomain.Service { return s }),
)
