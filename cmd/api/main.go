package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/idest-grading-api/internal/config"
	"github.com/noah-isme/idest-grading-api/internal/database"
	"github.com/noah-isme/idest-grading-api/internal/handler"
	"github.com/noah-isme/idest-grading-api/internal/middleware"
	"github.com/noah-isme/idest-grading-api/internal/queue"
	"github.com/noah-isme/idest-grading-api/internal/repository"
	"github.com/noah-isme/idest-grading-api/internal/router"
	"github.com/noah-isme/idest-grading-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "api").Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("%v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.QueueDriver == config.QueueDriverNATS {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName+" api")
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	}

	jobs, err := queue.Open(cfg.QueueDriver, natsConn, redisClient, queue.Options{
		MaxAttempts:  cfg.QueueMaxAttempts,
		AckWait:      cfg.QueueAckWait,
		FetchWait:    cfg.QueueFetchWait,
		RetryBackoff: cfg.QueueRetryDelay,
	}, logger)
	if err != nil {
		log.Fatalf("failed to open grading queue: %v", err)
	}
	defer jobs.Close()

	validate := validator.New(validator.WithRequiredStructEnabled())

	assignmentRepo := repository.NewCachedAssignmentRepository(repository.NewAssignmentRepository(db), redisClient, cfg.AssignmentCacheTTL, logger)
	submissionRepo := repository.NewSubmissionRepository(db)
	eventRepo := repository.NewSubmissionEventRepository(db)

	lifecycle := service.NewSubmissionLifecycle(submissionRepo, eventRepo, logger)
	assignmentService := service.NewAssignmentService(assignmentRepo, validate, logger)
	audioBlobs := repository.NewRedisAudioBlobStore(redisClient, cfg.AudioBlobTTL)
	maxAudioBytes := audioLimit(cfg, jobs, audioBlobs, logger)
	submissionService := service.NewSubmissionService(submissionRepo, assignmentRepo, eventRepo, lifecycle, jobs, validate, service.SubmissionServiceConfig{
		QueueName:     cfg.QueueName,
		MaxAudioBytes: maxAudioBytes,
		AudioBlobs:    audioBlobs,
	}, logger)
	progressService := service.NewProgressService(submissionRepo, redisClient, cfg.ProgressCacheTTL, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		// three recorded parts plus form overhead
		BodyLimit: int(3*maxAudioBytes) + 1<<20,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.AllowOrigins})
	router.Register(app, cfg, router.Dependencies{
		AssignmentHandler: handler.NewAssignmentHandler(assignmentService, logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, logger),
		ProgressHandler:   handler.NewProgressHandler(progressService, logger),
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
		SubmissionLimiter: middleware.RateLimit("submissions", cfg.SubmissionRateLimit, cfg.SubmissionRateWindow),
		HealthProbes:      healthProbes(db, redisClient),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	logger.Info().Str("address", cfg.HTTPAddress()).Str("queue_driver", cfg.QueueDriver).Msg("api started")
	waitForShutdown(app, logger)
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}

// audioLimit caps the per-part upload size so inline recordings fit the transport when no blob store is configured.
func audioLimit(cfg config.Config, jobs queue.Queue, blobs repository.AudioBlobStore, logger zerolog.Logger) int64 {
	natsQueue, ok := jobs.(*queue.NATSQueue)
	if blobs != nil || !ok {
		return cfg.MaxAudioBytes
	}

	limit := service.InlineAudioLimit(natsQueue.MaxPayload())
	if limit >= cfg.MaxAudioBytes {
		return cfg.MaxAudioBytes
	}
	logger.Warn().
		Int64("configured_bytes", cfg.MaxAudioBytes).
		Int64("effective_bytes", limit).
		Int64("nats_max_payload", natsQueue.MaxPayload()).
		Msg("redis is not configured, speaking recordings travel inline and are capped to the nats payload limit")
	return limit
}

func healthProbes(db *gorm.DB, redisClient *redis.Client) []handler.HealthProbe {
	probes := []handler.HealthProbe{{
		Name: "database",
		Check: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}
	if redisClient != nil {
		probes = append(probes, handler.HealthProbe{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}
	return probes
}
