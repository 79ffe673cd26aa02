package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"marketplace/internal/config"
	"marketplace/internal/event"
	"marketplace/internal/handler"
	"marketplace/internal/infra/db"
	"marketplace/internal/infra/kafka"
	infraRepo "marketplace/internal/infra/repository"
	"marketplace/internal/logger"
	"marketplace/internal/usecase"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// 決済サービスの結果トピックを読んで注文の支払いステータスを更新する
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}

	log, err := logger.New(cfg.GoEnv, cfg.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gormDB, err := db.Connect(cfg, log)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	//支払い変更の通知は注文トピックへ
	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.OrderTopic, 64, log)
	// シグナルでは止めない。コンシューマ終了後の Close で残りを流す
	producer.Start(context.Background())
	defer func() {
		producer.Close()
		producer.WaitClosed()
	}()
	var pub event.Publisher = kafka.NewEventPublisher(producer)

	adminOrderUC := usecase.NewAdminOrderUsecase(infraRepo.NewTxManagerGorm(gormDB), pub, log)
	h := handler.NewPaymentEventHandler(adminOrderUC, log)

	consumer := kafka.NewConsumer(
		cfg.Kafka.Brokers,
		cfg.Kafka.PaymentGroup,
		cfg.Kafka.PaymentTopic,
		cfg.Kafka.ConsumerCount,
		log,
	)
	log.Info("payment listener started",
		zap.String("topic", cfg.Kafka.PaymentTopic),
		zap.String("group", cfg.Kafka.PaymentGroup),
	)
	return consumer.Start(ctx, h.Handle)
}
