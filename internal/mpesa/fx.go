package mpesa

import (
	"github.com/dukapos/dukapos/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// PlatformCredentials returns the platform-wide paybill credentials from config.
// Tenants without their own paybill settle through these.
func PlatformCredentials(cfg config.Config) Credentials {
	return Credentials{
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		ShortCode:      cfg.Mpesa.ShortCode,
		Passkey:        cfg.Mpesa.Passkey,
	}
}

var Module = fx.Module("mpesa",
	fx.Provide(func(cfg config.Config, log *zap.Logger) Gateway {
		return NewDarajaClient(cfg.Mpesa, log)
	}),
	fx.Provide(PlatformCredentials),
)
