package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/avelkova/taskbus/internal/queue"
	"github.com/avelkova/taskbus/internal/store"
	"github.com/go-chi/chi/v5"
)

type NotificationHandler struct {
	store *store.PostgresStore
	queue *queue.WorkQueue
}

func NewNotificationHandler(s *store.PostgresStore, q *queue.WorkQueue) *NotificationHandler {
	return &NotificationHandler{store: s, queue: q}
}

type createNotificationRequest struct {
	UserID  int64  `json:"user_id"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

type createNotificationResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Create enqueues the notification for asynchronous processing. The caller
// gets a task ID, not a notification row; business failures after this
// point are only visible through the DLQ endpoints.
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == 0 {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}

	taskID, err := h.queue.Enqueue(r.Context(), map[string]any{
		"user_id": req.UserID,
		"title":   req.Title,
		"message": req.Message,
	})
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to enqueue notification")
		return
	}

	respondJSON(w, http.StatusAccepted, createNotificationResponse{
		TaskID:  taskID,
		Status:  "enqueued",
		Message: "Notification queued for processing",
	})
}

type notificationListResponse struct {
	Total       int `json:"total"`
	UnreadCount int `json:"unread_count"`
	Items       any `json:"items"`
}

func (h *NotificationHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	offset := queryInt(r, "skip", 0)
	limit := queryInt(r, "limit", 100)

	notifications, err := h.store.ListUserNotifications(r.Context(), userID, offset, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}

	unread, err := h.store.UnreadCount(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count unread notifications")
		return
	}

	respondJSON(w, http.StatusOK, notificationListResponse{
		Total:       len(notifications),
		UnreadCount: unread,
		Items:       notifications,
	})
}

func (h *NotificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	notification, err := h.store.GetNotification(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get notification")
		return
	}
	if notification == nil {
		respondError(w, http.StatusNotFound, "notification not found")
		return
	}

	respondJSON(w, http.StatusOK, notification)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	notification, err := h.store.MarkNotificationRead(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to mark notification read")
		return
	}
	if notification == nil {
		respondError(w, http.StatusNotFound, "notification not found")
		return
	}

	respondJSON(w, http.StatusOK, notification)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	updated, err := h.store.MarkAllRead(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to mark notifications read")
		return
	}

	respondJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	deleted, err := h.store.DeleteNotification(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete notification")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "notification not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	count, err := h.store.UnreadCount(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count unread notifications")
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"unread_count": count})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if val := r.URL.Query().Get(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}
