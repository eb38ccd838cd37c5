package migration

import (
	"strings"

	"github.com/dukapos/dukapos/internal/config"
	"github.com/dukapos/dukapos/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !strings.EqualFold(cfg.DBType, "postgres") {
			// Embedded migrations target postgres. Other dialects (the sqlite
			// test harness) build their schema from the gorm models instead.
			log.Warn("skipping embedded migrations for non-postgres database",
				zap.String("db_type", cfg.DBType),
			)
		} else {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		}

		return seed.EnsureDefaultPlans(conn, cfg.DefaultPlanCode)
	}),
)
