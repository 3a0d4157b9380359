package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"certportal/internal/cache"
	"certportal/internal/config"
	"certportal/internal/handlers"
	"certportal/internal/jobs"
	"certportal/internal/log"
	"certportal/internal/queue"
	"certportal/internal/ratelimit"
	"certportal/internal/repository"
	"certportal/internal/server"
	"certportal/internal/storage"
	"certportal/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := repository.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open store")
	}

	blobs, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to init blob store")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis, "api")
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, falling back to in-process limits and cleanup")
			redisClient = nil
		}
	}

	loginLimiter, apiLimiter := newLimiters(cfg, redisClient)

	handlerSet, err := handlers.NewHandlerSet(logger, cfg, handlers.Dependencies{
		Store:        store,
		Blobs:        blobs,
		Cache:        redisClient,
		LoginLimiter: loginLimiter,
		APILimiter:   apiLimiter,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build handlers")
	}

	httpServer, err := server.NewHTTPServer(cfg, logger, handlerSet)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build http server")
	}

	scheduler := jobs.NewScheduler(cfg.Jobs.CleanupSchedule, redisClient, cfg.Redis.Stream, handlerSet.Certificates(), logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	if redisClient != nil && cfg.EmbeddedConsumer() {
		processor := tasks.NewProcessor(handlerSet.Certificates(), logger)
		consumer := queue.NewConsumer(redisClient, cfg.Redis.Stream, cfg.Redis.Group, cfg.Redis.Consumer, cfg.Queues.ClaimInterval, logger, processor)
		go func() {
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("embedded consumer stopped")
			}
		}()
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(ctx, logger, httpServer, scheduler, store, redisClient)
}

func newLimiters(cfg *config.AppConfig, client *redis.Client) (ratelimit.Limiter, ratelimit.Limiter) {
	login, api := cfg.Security.LoginLimit, cfg.Security.APILimit
	if client != nil {
		return ratelimit.NewRedisLimiter(client, cache.Key(cfg.Redis.KeyPrefix, "ratelimit", "login"), login.Limit, login.Window),
			ratelimit.NewRedisLimiter(client, cache.Key(cfg.Redis.KeyPrefix, "ratelimit", "api"), api.Limit, api.Window)
	}
	return ratelimit.NewMemoryLimiter(login.Limit, login.Window, nil),
		ratelimit.NewMemoryLimiter(api.Limit, api.Window, nil)
}

func waitForShutdown(ctx context.Context, logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, store repository.Store, redisClient *redis.Client) {
	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn().Msg("scheduled jobs still running at shutdown")
	}

	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("store close error")
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
