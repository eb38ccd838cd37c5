package events

import (
	eventsdomain "github.com/dukapos/dukapos/internal/events/domain"
	"github.com/dukapos/dukapos/internal/events/repository"
	"github.com/dukapos/dukapos/internal/events/service"
	"go.uber.org/fx"
)

var Module = fx.Module("events",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewNotifier),
	fx.Provide(func(n *service.Notifier) eventsdomain.Notifier { return n }),
)
