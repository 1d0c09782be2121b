package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"smmpanel/pkg/config"
	"smmpanel/pkg/db"
	"smmpanel/pkg/gen"
	"smmpanel/pkg/health"
	"smmpanel/pkg/logger"
	"smmpanel/pkg/redis"
	"smmpanel/pkg/server"
	"smmpanel/pkg/task"
	"smmpanel/services/account"
	"smmpanel/services/catalog"
	"smmpanel/services/currency"
	"smmpanel/services/ledger"
	"smmpanel/services/notify"
	"smmpanel/services/order"
	"smmpanel/services/provider"
	"smmpanel/services/setting"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		task.Client,

		account.Module,
		setting.Module,
		notify.Module,
		currency.Module,
		currency.HandlerModule,
		provider.GatewayModule,
		provider.Module,
		provider.HandlerModule,
		catalog.Module,
		catalog.ReconcilerModule,
		catalog.HandlerModule,
		order.Module,
		order.HandlerModule,
		ledger.Module,
		ledger.HandlerModule,

		server.Module,
		health.Module,
		fx.Invoke(autoMigrate, db.Otel, db.Metric),
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

func autoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&account.User{},
		&setting.Setting{},
		&currency.ExchangeRate{},
		&provider.Provider{},
		&catalog.Service{},
		&order.Order{},
		&ledger.Transaction{},
		&ledger.PaymentMethod{},
		&ledger.AffiliateCommission{},
	)
}
