package main

import (
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/etimsbridge/internal/clock"
	"github.com/smallbiznis/etimsbridge/internal/compliance"
	"github.com/smallbiznis/etimsbridge/internal/config"
	"github.com/smallbiznis/etimsbridge/internal/locker"
	"github.com/smallbiznis/etimsbridge/internal/migration"
	"github.com/smallbiznis/etimsbridge/internal/observability"
	"github.com/smallbiznis/etimsbridge/internal/regulatory/oscu"
	"github.com/smallbiznis/etimsbridge/internal/scheduler"
	"github.com/smallbiznis/etimsbridge/internal/server"
	"github.com/smallbiznis/etimsbridge/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const usage = `usage: etimsbridge [serve|worker|migrate]

  serve    HTTP API, processing workers and scheduler (default)
  worker   processing workers and scheduler only
  migrate  apply database migrations and exit`

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var app *fx.App
	switch cmd {
	case "serve":
		app = fx.New(append(core(), server.Module)...)
	case "worker":
		app = fx.New(core()...)
	case "migrate":
		app = fx.New(
			config.Module,
			observability.Module,
			db.Module,
			fx.Invoke(RunMigrate),
		)
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	app.Run()
}

func core() []fx.Option {
	return []fx.Option{
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		locker.Module,

		// Compliance
		oscu.Module,
		compliance.Module,
		scheduler.Module,
	}
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

// RunMigrate applies the schema regardless of DB_AUTO_MIGRATE and stops the app.
func RunMigrate(conn *gorm.DB, cfg db.Config, log *zap.Logger, shutdowner fx.Shutdowner) error {
	cfg.AutoMigrate = true
	if err := migration.Run(conn, cfg, log); err != nil {
		return err
	}
	log.Info("migrations applied")
	return shutdowner.Shutdown()
}
