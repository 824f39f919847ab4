package migration

import (
	"strings"

	"github.com/andyvauliln/paysync/internal/config"
	"github.com/andyvauliln/paysync/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Apply),
)

// Apply brings the schema up to date and seeds reference data. Postgres uses
// the versioned SQL migrations; other dialects fall back to AutoMigrate.
func Apply(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if strings.EqualFold(cfg.DBType, "postgres") {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
	} else {
		log.Warn("versioned migrations skipped, using automigrate", zap.String("db_type", cfg.DBType))
		if err := AutoMigrate(conn); err != nil {
			return err
		}
	}
	return seed.EnsureReferenceData(conn)
}
