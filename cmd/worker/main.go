package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/avelkova/taskbus/internal/config"
	"github.com/avelkova/taskbus/internal/notify"
	"github.com/avelkova/taskbus/internal/queue"
	"github.com/avelkova/taskbus/internal/store"
	"github.com/avelkova/taskbus/internal/worker"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	workQueue := queue.New(redisStore.Client(), logger)
	processor := notify.NewProcessor(pgStore, logger)
	w := worker.New(workQueue, processor, logger)

	go w.MonitorDLQ(ctx)

	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
		cancel()
		<-done
	case err := <-done:
		if errors.Is(err, worker.ErrTooManyFailures) {
			logger.Error("worker stopped after repeated failures", "error", err)
			cancel()
			os.Exit(1)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker stopped", "error", err)
			cancel()
			os.Exit(1)
		}
	}

	logger.Info("worker stopped")
}
