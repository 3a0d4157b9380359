package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"certportal/internal/cache"
	"certportal/internal/config"
	"certportal/internal/log"
	"certportal/internal/queue"
	"certportal/internal/repository"
	"certportal/internal/service"
	"certportal/internal/storage"
	"certportal/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)
	if cfg.EmbeddedConsumer() {
		logger.Fatal().
			Str("driver", cfg.Store.Driver).
			Msg("cleanup tasks are consumed by the api process; the worker needs store.driver=postgres and queues.embedded=false")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := cache.NewRedisClient(ctx, cfg.Redis, "worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	store, err := repository.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer store.Close()

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init blob store")
	}

	limits := service.UploadLimits{MaxFiles: cfg.Upload.MaxFiles, MaxFileSize: cfg.Upload.MaxFileSize}
	certificates := service.NewCertificateService(store, blobs, limits, nil, logger)

	processor := tasks.NewProcessor(certificates, logger)
	consumer := queue.NewConsumer(
		client,
		cfg.Redis.Stream,
		cfg.Redis.Group,
		cfg.Redis.Consumer,
		cfg.Queues.ClaimInterval,
		logger,
		processor,
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("consumer stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("consumer did not stop in time")
	}
}
