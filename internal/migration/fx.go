package migration

import (
	"strings"

	"github.com/smallbiznis/etimsbridge/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Run),
)

// Run brings the schema up to date on startup when auto migration is enabled.
func Run(conn *gorm.DB, cfg db.Config, log *zap.Logger) error {
	if !cfg.AutoMigrate {
		log.Info("schema migration disabled")
		return nil
	}

	if !strings.EqualFold(cfg.Type, db.TypePostgres) {
		log.Info("running gorm auto migration", zap.String("type", cfg.Type))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	status, err := RunMigrations(sqlDB)
	if err != nil {
		return err
	}
	log.Info("postgres schema ready",
		zap.Uint("version", status.Version),
		zap.Bool("applied", status.Applied),
	)
	return nil
}
