package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avelkova/taskbus/internal/api"
	"github.com/avelkova/taskbus/internal/bus"
	"github.com/avelkova/taskbus/internal/config"
	"github.com/avelkova/taskbus/internal/domain"
	"github.com/avelkova/taskbus/internal/notify"
	"github.com/avelkova/taskbus/internal/queue"
	"github.com/avelkova/taskbus/internal/store"
	"github.com/joho/godotenv"
)

// consumedEvents are the event types this service consumes from the bus.
var consumedEvents = []domain.EventType{
	domain.TaskCreated,
	domain.TaskUpdated,
	domain.TaskCompleted,
	domain.TaskAssigned,
	domain.UserCreated,
}

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

	if err := pgStore.RunMigrations(ctx, cfg.MigrationsDir); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	eventBus := bus.New(redisStore.Client(), logger)
	workQueue := queue.New(redisStore.Client(), logger)

	// Register event handlers, then run one consumer loop per event type.
	consumer := notify.NewConsumer(pgStore, notify.StaticAdmins{cfg.AdminUserID}, logger)
	consumer.Register(eventBus)

	for _, eventType := range consumedEvents {
		go func(t domain.EventType) {
			if err := eventBus.Consume(ctx, t, cfg.ConsumerGroup); err != nil && ctx.Err() == nil {
				logger.Error("consumer stopped", "event_type", t, "error", err)
			}
		}(eventType)
	}

	router := api.NewRouter(pgStore, eventBus, workQueue)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
