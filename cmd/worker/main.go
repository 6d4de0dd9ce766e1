// Package main runs the standalone fulfillment worker, for deployments
// that scale job processing separately from the HTTP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/topg-traders/backend/config"
	"github.com/topg-traders/backend/internal/emaillogs"
	"github.com/topg-traders/backend/internal/fulfillment"
	"github.com/topg-traders/backend/internal/invites"
	"github.com/topg-traders/backend/internal/locks"
	"github.com/topg-traders/backend/internal/notify"
	"github.com/topg-traders/backend/internal/payments"
	"github.com/topg-traders/backend/internal/settings"
	"github.com/topg-traders/backend/internal/users"
	"github.com/topg-traders/backend/internal/worker"
	"github.com/topg-traders/backend/pkg/database"
	"github.com/topg-traders/backend/pkg/queue"
	"github.com/topg-traders/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	settingsSvc := settings.NewService(pool, cfg)
	lockStore := locks.NewStore(pool)
	paymentRepo := payments.NewRepository(pool)
	userRepo := users.NewRepository(pool)
	emailLogRepo := emaillogs.NewRepository(pool)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	provisioner := invites.NewProvisioner(userRepo, nil, logger)
	mailer := notify.NewMailer(logger)

	processor := fulfillment.NewProcessor(paymentRepo, userRepo, lockStore, provisioner, mailer, emailLogRepo, settingsSvc, logger)
	runner := worker.NewRunner(jobQueue, processor, cfg.Worker.Concurrency, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runner.Run(workerCtx)
	logger.Info("worker started", zap.Int("concurrency", cfg.Worker.Concurrency))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
