package main

import (
	"log"
	"os"

	"incentive-controlplane/pkg/config"
	"incentive-controlplane/pkg/db"
	"incentive-controlplane/pkg/gen"
	"incentive-controlplane/pkg/hashistack/secretmanager"
	"incentive-controlplane/pkg/logger"
	"incentive-controlplane/pkg/task"
	"incentive-controlplane/services/notification"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		configModule(),
		logger.Module,
		db.Module,
		gen.Module,
		task.Server,
		notification.Module,
		notification.Worker,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

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
