package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/campus-marketplace/internal/cart"
	"github.com/ariefcatur/campus-marketplace/internal/catalog"
	"github.com/ariefcatur/campus-marketplace/internal/checkout"
	"github.com/ariefcatur/campus-marketplace/internal/config"
	"github.com/ariefcatur/campus-marketplace/internal/httpx"
	"github.com/ariefcatur/campus-marketplace/internal/identity"
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
	logger, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, closeDB, err := storage.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	defer closeDB()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.Topic, 1024, logger)
	prod.Start(ctx)

	roles := &identity.Registry{DB: db}
	svc := checkout.New(db, rdb, prod, roles, logger.Named("checkout"), checkout.Options{
		PaymentWindow: cfg.PaymentWindow,
		Producer:      cfg.ServiceName,
	})
	sweeper := checkout.NewSweeper(svc, cfg.SweepInterval)
	go sweeper.Run(ctx)

	router := httpx.NewRouter(logger)
	h := &httpx.Handler{
		Checkout: svc,
		Carts:    &cart.Store{DB: db},
		Catalog:  &catalog.Repo{DB: db},
		Orders:   &orders.Repo{DB: db},
		Ledger:   &ledger.Service{DB: db, Log: logger},
		Tokens:   identity.NewTokens(cfg.JWTSecret, 24*time.Hour),
		Roles:    roles,
		Log:      logger,
		Poll:     cfg.PollInterval,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("db", cfg.DBDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel() // stop sweeper and window streams
	<-sweeper.Done()
	// handlers still running past the shutdown timeout get their events dropped, not a panic
	prod.Close()      // tutup inbox -> flush & close writer
	prod.WaitClosed() // drain
}
