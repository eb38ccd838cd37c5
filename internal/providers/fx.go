package providers

import (
	"github.com/dukapos/dukapos/internal/providers/email"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
)
