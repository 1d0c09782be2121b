package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"smmpanel/pkg/config"
	"smmpanel/pkg/db"
	"smmpanel/pkg/gen"
	"smmpanel/pkg/logger"
	"smmpanel/pkg/redis"
	"smmpanel/pkg/task"
	"smmpanel/services/account"
	"smmpanel/services/catalog"
	"smmpanel/services/currency"
	"smmpanel/services/notify"
	"smmpanel/services/order"
	"smmpanel/services/provider"
	"smmpanel/services/setting"
)

// The worker consumes the dispatch and sync queues and runs the periodic
// catalog sweep. It shares the panel's database but serves no HTTP.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		task.Client,
		task.Server,

		account.Module,
		setting.Module,
		notify.Module,
		currency.Module,
		provider.GatewayModule,
		provider.Module,
		catalog.Module,
		catalog.ReconcilerModule,
		catalog.TaskModule,
		order.Module,
		order.TaskModule,
		fx.Invoke(catalog.StartScheduler),
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
