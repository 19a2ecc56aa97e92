package main

import (
	"log"
	"os"

	"incentive-controlplane/pkg/config"
	"incentive-controlplane/pkg/db"
	"incentive-controlplane/pkg/featureflags"
	"incentive-controlplane/pkg/gen"
	"incentive-controlplane/pkg/hashistack/secretmanager"
	"incentive-controlplane/pkg/hashistack/servicediscover"
	"incentive-controlplane/pkg/health"
	"incentive-controlplane/pkg/httpapi"
	"incentive-controlplane/pkg/logger"
	"incentive-controlplane/pkg/otelcol"
	"incentive-controlplane/pkg/profiling"
	"incentive-controlplane/pkg/redis"
	"incentive-controlplane/pkg/sequence"
	"incentive-controlplane/pkg/server"
	"incentive-controlplane/pkg/task"
	"incentive-controlplane/services/campaign"
	"incentive-controlplane/services/ledger"
	"incentive-controlplane/services/notification"
	"incentive-controlplane/services/reconciliation"
	"incentive-controlplane/services/reward"
	"incentive-controlplane/services/seller"
	"incentive-controlplane/services/submission"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	opts := []fx.Option{
		configModule(),
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		task.Client,
		featureflags.Module,
		health.Module,
		httpapi.Module,

		campaign.Module,
		seller.Module,
		submission.Module,
		ledger.Module,
		notification.Module,
		reward.Module,
		reconciliation.Module,

		campaign.Server,
		submission.Server,
		ledger.Server,
		reconciliation.Server,
		campaign.Scheduler,
		notification.Relay,

		fx.Invoke(migrate),
		server.ProvideGRPCServer,
		server.ProvideHTTPServer,
		servicediscover.Module,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})

func migrate(cfg *config.Config, conn *gorm.DB) error {
	if !cfg.Database.AutoMigrate {
		return nil
	}

	var models []any
	models = append(models, campaign.Models()...)
	models = append(models, seller.Models()...)
	models = append(models, submission.Models()...)
	models = append(models, reward.Models()...)
	models = append(models, ledger.Models()...)
	models = append(models, notification.Models()...)
	models = append(models, reconciliation.Models()...)

	if err := conn.AutoMigrate(models...); err != nil {
		zap.L().Error("[DB] auto migration failed", zap.Error(err))
		return err
	}
	zap.L().Info("[DB] auto migration completed", zap.Int("models", len(models)))
	return nil
}

// configModule reads config.yaml locally and switches to the remote provider when
// REMOTE_CONFIG_PROVIDER is set. Vault secrets are loaded whenever VAULT_ADDR is present.
func configModule() fx.Option {
	var opts []fx.Option
	if os.Getenv("VAULT_ADDR") != "" || os.Getenv("REMOTE_CONFIG_PROVIDER") != "" {
		opts = append(opts, secretmanager.Module)
	}
	if os.Getenv("REMOTE_CONFIG_PROVIDER") != "" {
		return fx.Options(append(opts, config.RemoteModule)...)
	}
	return fx.Options(append(opts, config.Module)...)
}
