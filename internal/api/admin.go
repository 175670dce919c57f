package api

import (
	"encoding/json"
	"net/http"

	"github.com/avelkova/taskbus/internal/bus"
	"github.com/avelkova/taskbus/internal/domain"
	"github.com/avelkova/taskbus/internal/queue"
	"github.com/go-chi/chi/v5"
)

// AdminHandler exposes the operator surface: queue statistics and the two
// dead-letter queues. Dead-lettering is terminal; everything here exists so
// an operator can see it and act on it.
type AdminHandler struct {
	bus   *bus.Bus
	queue *queue.WorkQueue
}

func NewAdminHandler(b *bus.Bus, q *queue.WorkQueue) *AdminHandler {
	return &AdminHandler{bus: b, queue: q}
}

func (h *AdminHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.GetStats(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to get queue stats")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) QueueDLQItems(w http.ResponseWriter, r *http.Request) {
	limit := int64(queryInt(r, "limit", 10))

	items, err := h.queue.DLQItems(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to read queue DLQ")
		return
	}

	respondJSON(w, http.StatusOK, items)
}

func (h *AdminHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Clear(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to clear queue")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *AdminHandler) EventDLQList(w http.ResponseWriter, r *http.Request) {
	count := int64(queryInt(r, "count", 100))

	messages, err := h.bus.DLQMessages(r.Context(), count)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to read event DLQ")
		return
	}

	respondJSON(w, http.StatusOK, messages)
}

type reprocessRequest struct {
	EventType string `json:"event_type"`
}

func (h *AdminHandler) EventDLQReprocess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req reprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	eventType, err := domain.ParseEventType(req.EventType)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown event_type")
		return
	}

	newID, err := h.bus.ReprocessDLQMessage(r.Context(), id, eventType)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to reprocess DLQ message")
		return
	}
	if newID == "" {
		respondError(w, http.StatusNotFound, "DLQ message not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "reprocessed", "new_id": newID})
}

func (h *AdminHandler) EventDLQClear(w http.ResponseWriter, r *http.Request) {
	if err := h.bus.ClearDLQ(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to clear event DLQ")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *AdminHandler) StreamInfo(w http.ResponseWriter, r *http.Request) {
	eventType, err := domain.ParseEventType(chi.URLParam(r, "eventType"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown event type")
		return
	}

	info, err := h.bus.StreamInfo(r.Context(), eventType)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "failed to inspect stream")
		return
	}

	respondJSON(w, http.StatusOK, info)
}
