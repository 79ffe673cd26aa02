package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"marketplace/internal/config"
	"marketplace/internal/event"
	"marketplace/internal/handler"
	"marketplace/internal/infra/db"
	"marketplace/internal/infra/kafka"
	"marketplace/internal/infra/lock"
	infraRepo "marketplace/internal/infra/repository"
	"marketplace/internal/logger"
	repo "marketplace/internal/repository"
	"marketplace/internal/server"
	"marketplace/internal/usecase"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	//.env は無くてもよい
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.GoEnv, cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//DB接続
	gormDB, err := db.Connect(cfg, log)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	if err := db.Migrate(gormDB); err != nil {
		return fmt.Errorf("db migrate: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	txm := infraRepo.NewTxManagerGorm(gormDB)
	userRepo := infraRepo.NewUserGormRepository(gormDB)

	//二重送信防止ロック
	var locker usecase.Locker = lock.NewLocal()
	if cfg.Redis.Addr != "" {
		rdb := lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		locker = lock.NewRedis(rdb, log)
	}

	//イベント
	var pub event.Publisher = event.NewLogPublisher(log)
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.OrderTopic, 256, log)
		// シグナルでは止めない。サーバー終了後の Close で残りを流す
		producer.Start(context.Background())
		defer func() {
			producer.Close()
			producer.WaitClosed()
		}()
		pub = kafka.NewEventPublisher(producer)
		log.Info("kafka publisher enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.OrderTopic))
	}

	settings, err := checkoutSettings(cfg)
	if err != nil {
		return err
	}

	numbers := usecase.NewOrderNumberGenerator()
	if err := txm.WithinTx(ctx, func(r repo.TxRepos) error {
		return usecase.SeedOrderNumbers(ctx, numbers, r.Orders())
	}); err != nil {
		return fmt.Errorf("seed order numbers: %w", err)
	}

	// DI
	stockUC := usecase.NewStockUsecase(txm, pub, log)
	cartUC := usecase.NewCartUsecase(txm, pub, log)
	orderUC := usecase.NewOrderUsecase(txm, locker, numbers, settings, pub, log)
	adminOrderUC := usecase.NewAdminOrderUsecase(txm, pub, log)

	e := server.New(cfg, log)
	handler.NewHealthHandler(sqlDB).RegisterRoutes(e)
	handler.NewCartHandler(cartUC).RegisterRoutes(e, cfg, userRepo)
	handler.NewOrderHandler(orderUC).RegisterRoutes(e, cfg, userRepo)
	handler.NewAdminOrderHandler(adminOrderUC).RegisterRoutes(e, cfg, userRepo)
	handler.NewStockHandler(stockUC).RegisterRoutes(e, cfg, userRepo)

	return server.Start(ctx, e, ":"+cfg.Port, log)
}

func checkoutSettings(cfg config.Config) (usecase.CheckoutSettings, error) {
	metroFee, err := decimal.NewFromString(cfg.Checkout.MetroShippingFee)
	if err != nil {
		return usecase.CheckoutSettings{}, fmt.Errorf("SHIPPING_METRO_FEE: %w", err)
	}
	defaultFee, err := decimal.NewFromString(cfg.Checkout.DefaultShippingFee)
	if err != nil {
		return usecase.CheckoutSettings{}, fmt.Errorf("SHIPPING_DEFAULT_FEE: %w", err)
	}
	taxRate, err := decimal.NewFromString(cfg.Checkout.TaxRate)
	if err != nil {
		return usecase.CheckoutSettings{}, fmt.Errorf("TAX_RATE: %w", err)
	}

	return usecase.CheckoutSettings{
		Shipping: usecase.NewShippingFeePolicy(cfg.Checkout.MetroCities, metroFee, defaultFee),
		TaxRate:  taxRate,
		LockTTL:  cfg.Checkout.LockTTL,
	}, nil
}
