package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/campus-marketplace/internal/config"
	kafkax "github.com/ariefcatur/campus-marketplace/internal/kafka"
	"github.com/ariefcatur/campus-marketplace/internal/ledger"
	"github.com/ariefcatur/campus-marketplace/internal/logging"
	"github.com/ariefcatur/campus-marketplace/internal/orders"
	"github.com/ariefcatur/campus-marketplace/internal/redisx"
	"github.com/ariefcatur/campus-marketplace/internal/storage"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.ServiceName+"-ledger")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, closeDB, err := storage.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	defer closeDB()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &ledger.Service{DB: db, Redis: rdb, Log: logger, ServiceName: cfg.ServiceName + "-ledger"}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.LedgerGroup, orders.Topic, cfg.LedgerWorkers, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("ledger consumer started",
			zap.String("group", cfg.LedgerGroup), zap.String("topic", orders.Topic), zap.Int("workers", cfg.LedgerWorkers))
		if err := cons.Start(ctx, svc.HandleOrderEvent); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumer")
	cancel()
	<-done
}
