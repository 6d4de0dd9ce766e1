// Package main runs the fulfillment backend HTTP server with an in-process
// fulfillment worker and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/topg-traders/backend/config"
	"github.com/topg-traders/backend/internal/emaillogs"
	"github.com/topg-traders/backend/internal/fulfillment"
	"github.com/topg-traders/backend/internal/invites"
	"github.com/topg-traders/backend/internal/locks"
	"github.com/topg-traders/backend/internal/middleware"
	"github.com/topg-traders/backend/internal/models"
	"github.com/topg-traders/backend/internal/notify"
	"github.com/topg-traders/backend/internal/payments"
	"github.com/topg-traders/backend/internal/settings"
	"github.com/topg-traders/backend/internal/users"
	"github.com/topg-traders/backend/internal/webhook"
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

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

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

	if err := seedBatches(ctx, userRepo, cfg); err != nil {
		logger.Fatal("seed batches", zap.Error(err))
	}

	jobQueue := queue.NewQueue(rdb.Client, logger)

	provisioner := invites.NewProvisioner(userRepo, nil, logger)
	mailer := notify.NewMailer(logger)

	webhookHandler := webhook.NewHandler(lockStore, paymentRepo, userRepo, jobQueue, settingsSvc, logger)
	inviteHandler := invites.NewHandler(paymentRepo, userRepo, logger)
	emailLogHandler := emaillogs.NewHandler(emailLogRepo)

	processor := fulfillment.NewProcessor(paymentRepo, userRepo, lockStore, provisioner, mailer, emailLogRepo, settingsSvc, logger)
	runner := worker.NewRunner(jobQueue, processor, cfg.Worker.Concurrency, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/status", statusHandler(settingsSvc))

	// Payment provider webhook (signature-verified in the handler, no auth middleware).
	router.POST("/webhook", webhookHandler.HandleEvent)

	// Customer-facing invite retrieval.
	router.POST("/get-invite-link", inviteHandler.GetInviteLink)
	router.GET("/retrieve-invite-link/:payment_id", inviteHandler.RetrieveInviteLink)

	// Operator reconciliation.
	router.GET("/payments/:payment_id/emails", emailLogHandler.ListByPayment)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go runner.Run(workerCtx)
	logger.Info("fulfillment worker started", zap.Int("concurrency", cfg.Worker.Concurrency))

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// seedBatches upserts the standard cohorts so webhook processing never
// races batch creation. Chat ids from the settings table still override
// these at provisioning time.
func seedBatches(ctx context.Context, userRepo *users.Repository, cfg *config.Config) error {
	for name, chatID := range map[string]string{
		"morning": cfg.Telegram.ChatIDMorning,
		"evening": cfg.Telegram.ChatIDEvening,
	} {
		b := &models.Batch{Name: name, TelegramChatID: chatID}
		if err := userRepo.CreateBatch(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// statusHandler reports which external integrations are configured.
// Presence only; values are never echoed.
func statusHandler(settingsSvc *settings.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := settingsSvc.Snapshot(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"server":    "running",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"environment": gin.H{
				"razorpay": gin.H{
					"keyId":         snap.RazorpayKeyID != "",
					"webhookSecret": snap.RazorpayWebhookSecret != "",
				},
				"telegram": gin.H{
					"botToken":      snap.TelegramBotToken != "",
					"morningChatId": snap.ChatIDFor("morning") != "",
					"eveningChatId": snap.ChatIDFor("evening") != "",
				},
				"smtp": gin.H{
					"host": snap.SMTPHost != "",
					"port": snap.SMTPPort != 0,
					"user": snap.SMTPUser != "",
				},
			},
		})
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
