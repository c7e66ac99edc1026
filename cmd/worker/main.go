package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"classroll/internal/auth"
	"classroll/internal/backend"
	"classroll/internal/cloudinary"
	"classroll/internal/config"
	"classroll/internal/logging"
	"classroll/internal/metrics"
	"classroll/internal/queue"
	"classroll/internal/reportjob"
	"classroll/internal/store"
)

// Worker consumes report jobs, builds the range workbook and uploads it.
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend != "redis" {
		logger.Fatal("worker needs QUEUE_BACKEND=redis; the memory queue runs inside the api")
	}
	if !cfg.CloudinaryConfigured() {
		logger.Fatal("cloudinary credentials are required to upload reports")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	repo := reportjob.NewRepository(db.Client)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal("report job schema failed", zap.Error(err))
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	messages, err := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey).Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}

	api := backend.New(cfg.BackendURL, cfg.BackendTimeout, &auth.ServiceTokens{
		Subject: "classroll-worker",
		Issuer:  cfg.JWTIssuer,
		Key:     cfg.JWTSigningKey,
		TTL:     cfg.ServiceTokenTTL,
	})
	cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	m := metrics.New(prometheus.DefaultRegisterer)

	logger.Info("worker started, waiting for report jobs", zap.String("queue", queue.DefaultKey))
	reportjob.NewProcessor(repo, api, cdn, m, logger).Run(ctx, messages)
	logger.Info("worker stopped")
}
