package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/code-batch-engine/internal/codegen"
	"github.com/kursadbilgin/code-batch-engine/internal/config"
	"github.com/kursadbilgin/code-batch-engine/internal/handler"
	"github.com/kursadbilgin/code-batch-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/code-batch-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/code-batch-engine/internal/infra/redis"
	infras3 "github.com/kursadbilgin/code-batch-engine/internal/infra/s3"
	"github.com/kursadbilgin/code-batch-engine/internal/observability"
	"github.com/kursadbilgin/code-batch-engine/internal/queue"
	"github.com/kursadbilgin/code-batch-engine/internal/repository"
	"github.com/kursadbilgin/code-batch-engine/internal/service"
	"github.com/kursadbilgin/code-batch-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("code-batch-engine stopped with error", zap.Error(err))
	}
	logger.Info("code-batch-engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, err := postgresql.NewPostgres(ctx, cfg.DatabaseDSN, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}
	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}
	leaser, err := infraredis.NewBatchLeaser(rdb, cfg.LeaseTTL())
	if err != nil {
		return fmt.Errorf("generation lease initialization failed: %w", err)
	}

	rabbit, err := queue.NewRabbitMQ(ctx, cfg.RabbitMQURL, logger)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)

	blobs, err := infras3.NewStore(ctx, infras3.Config{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		Bucket:          cfg.S3Bucket,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		UsePathStyle:    cfg.S3UsePathStyle,
	})
	if err != nil {
		return fmt.Errorf("s3 initialization failed: %w", err)
	}

	metrics := observability.NewMetrics()

	batchRepo := repository.NewGormBatchRepo(db)
	codeRepo := repository.NewGormCodeRepo(db)
	auditRepo := repository.NewGormExportAuditRepo(db)

	pipeline := service.NewPipeline(
		batchRepo,
		service.NewScanner(codeRepo, cfg.ScanCap, logger),
		codegen.NewGenerator(),
		service.NewChunkedWriter(codeRepo, batchRepo),
		leaser,
		logger,
	)
	pipeline.SetMetrics(metrics)

	inline := service.NewInlineStrategy(pipeline, cfg.InlineChunkSize, cfg.InlineTimeout(), logger)
	offloaded := service.NewOffloadedStrategy(publisher, cfg.OffloadChunkSize)

	batchService, err := service.NewBatchService(batchRepo, codeRepo, inline, offloaded, service.BatchServiceConfig{
		InlineThreshold: cfg.InlineThreshold,
		MaxQuantity:     cfg.MaxQuantity,
	}, logger)
	if err != nil {
		return fmt.Errorf("batch service initialization failed: %w", err)
	}

	exportService := service.NewExportService(batchRepo, codeRepo, auditRepo, blobs, cfg.ExportURLTTL(), logger)
	exportService.SetMetrics(metrics)

	deletionService := service.NewDeletionService(batchRepo, codeRepo, cfg.DeleteChunkSize, logger)
	deletionService.SetMetrics(metrics)

	worker, err := service.NewGenerationWorker(
		consumer,
		pipeline,
		cfg.WorkerConcurrency,
		cfg.OffloadTimeout(),
		cfg.OffloadChunkSize,
		logger,
	)
	if err != nil {
		return fmt.Errorf("generation worker initialization failed: %w", err)
	}

	batchHandler, err := handler.NewBatchHandler(batchService, exportService, deletionService)
	if err != nil {
		return fmt.Errorf("batch handler initialization failed: %w", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "code-batch-engine",
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(observability.CorrelationMiddleware())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, blobs)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	err = handler.RegisterBatchRoutes(app, batchHandler, handler.RouteGuards{
		Auth:  handler.PrincipalMiddleware(handler.NewStaticPermissions(cfg.AdminPrincipals())),
		Limit: handler.RateLimitMiddleware(limiter, logger),
	})
	if err != nil {
		return fmt.Errorf("route registration failed: %w", err)
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("code-batch-engine api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := worker.Start(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("generation worker failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
		if err := inline.Wait(shutdownCtx); err != nil {
			logger.Warn("inline generation runs still in flight at shutdown", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
