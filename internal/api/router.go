package api

import (
	"net/http"

	"github.com/avelkova/taskbus/internal/bus"
	"github.com/avelkova/taskbus/internal/queue"
	"github.com/avelkova/taskbus/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(pgStore *store.PostgresStore, eventBus *bus.Bus, workQueue *queue.WorkQueue) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	notifHandler := NewNotificationHandler(pgStore, workQueue)
	adminHandler := NewAdminHandler(eventBus, workQueue)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/", notifHandler.Create)
			r.Get("/user/{userID}", notifHandler.ListForUser)
			r.Get("/user/{userID}/unread-count", notifHandler.UnreadCount)
			r.Put("/user/{userID}/read-all", notifHandler.MarkAllRead)
			r.Get("/{id}", notifHandler.Get)
			r.Put("/{id}/read", notifHandler.MarkRead)
			r.Delete("/{id}", notifHandler.Delete)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/queue-stats", adminHandler.QueueStats)
			r.Get("/queue-dlq", adminHandler.QueueDLQItems)
			r.Delete("/queue", adminHandler.ClearQueue)
			r.Get("/event-dlq", adminHandler.EventDLQList)
			r.Post("/event-dlq/{id}/reprocess", adminHandler.EventDLQReprocess)
			r.Delete("/event-dlq", adminHandler.EventDLQClear)
			r.Get("/streams/{eventType}", adminHandler.StreamInfo)
		})
	})

	return r
}
