package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/idest-grading-api/internal/config"
	"github.com/noah-isme/idest-grading-api/internal/database"
	"github.com/noah-isme/idest-grading-api/internal/observability"
	"github.com/noah-isme/idest-grading-api/internal/queue"
	"github.com/noah-isme/idest-grading-api/internal/repository"
	"github.com/noah-isme/idest-grading-api/internal/service"
	"github.com/noah-isme/idest-grading-api/pkg/ai"
	cloud "github.com/noah-isme/idest-grading-api/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "worker").Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PoolOptions{
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
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
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName+" worker")
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

	oracle, err := ai.NewOpenAIOracle(ai.OpenAIConfig{
		APIKey:             cfg.OpenAIAPIKey,
		BaseURL:            cfg.OpenAIBaseURL,
		Model:              cfg.OpenAIModel,
		TranscriptionModel: cfg.OpenAITranscriptionModel,
		Logger:             logger,
	})
	if err != nil {
		log.Fatalf("failed to create grading oracle: %v", err)
	}

	var storage service.AudioStorage
	if cfg.CloudinaryEnabled() {
		store, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		storage = store
	} else {
		logger.Warn().Msg("cloudinary is not configured, speaking recordings will not be stored")
	}

	assignmentRepo := repository.NewCachedAssignmentRepository(repository.NewAssignmentRepository(db), redisClient, cfg.AssignmentCacheTTL, logger)
	submissionRepo := repository.NewSubmissionRepository(db)
	eventRepo := repository.NewSubmissionEventRepository(db)
	lifecycle := service.NewSubmissionLifecycle(submissionRepo, eventRepo, logger)

	worker := service.NewGradingWorker(assignmentRepo, lifecycle, oracle, storage, service.GradingWorkerConfig{
		QueueName:     cfg.QueueName,
		OracleTimeout: cfg.OracleTimeout,
		AudioBlobs:    repository.NewRedisAudioBlobStore(redisClient, cfg.AudioBlobTTL),
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsApp := observability.NewMetricsApp(cfg.AppName + " worker")
	go func() {
		if err := metricsApp.Listen(cfg.WorkerMetricsAddr); err != nil {
			logger.Error().Err(err).Str("address", cfg.WorkerMetricsAddr).Msg("metrics listener stopped")
		}
	}()
	defer func() {
		if err := metricsApp.ShutdownWithTimeout(5 * time.Second); err != nil {
			logger.Warn().Err(err).Msg("metrics listener shutdown failed")
		}
	}()

	logger.Info().Str("queue_driver", cfg.QueueDriver).Str("metrics_address", cfg.WorkerMetricsAddr).Msg("grading worker starting")

	if err := worker.Run(ctx, jobs); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("grading worker exited")
		stop()
		os.Exit(1)
	}
}
