package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/florana/mailroom/internal/config"
	"github.com/florana/mailroom/internal/handler"
	"github.com/florana/mailroom/internal/infra/postgresql"
	"github.com/florana/mailroom/internal/infra/postgresql/migrations"
	infraredis "github.com/florana/mailroom/internal/infra/redis"
	"github.com/florana/mailroom/internal/observability"
	"github.com/florana/mailroom/internal/queue"
	"github.com/florana/mailroom/internal/repository"
	"github.com/florana/mailroom/internal/service"
	"github.com/florana/mailroom/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	emailQueue, err := queue.NewRedisQueue(rdb, queue.DefaultQueueName, queue.DefaultRetryPolicy(), queue.DefaultRetention())
	if err != nil {
		logger.Fatal("queue initialization failed", zap.Error(err))
	}

	logRepo := repository.NewGormDeliveryLogRepo(db)

	enqueueService, err := service.NewEnqueueService(emailQueue, logRepo, queue.DefaultRetryPolicy(), logger)
	if err != nil {
		logger.Fatal("enqueue service initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	enqueueService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	if err := handler.RegisterEmailRoutes(app, enqueueService, logRepo); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	go func() {
		logger.Info("mailroom api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			logger.Error("api server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	logger.Info("mailroom api stopped")
}
