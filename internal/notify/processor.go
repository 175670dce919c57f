package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/avelkova/taskbus/internal/domain"
)

// NotificationStore is the slice of persistence the notify package needs.
type NotificationStore interface {
	CreateNotification(ctx context.Context, userID int64, title, message string) (*domain.Notification, error)
}

// Processor is the queue worker's single business action: turn a dequeued
// task payload into a notification row.
type Processor struct {
	store  NotificationStore
	logger *slog.Logger
}

func NewProcessor(store NotificationStore, logger *slog.Logger) *Processor {
	return &Processor{store: store, logger: logger}
}

// Process creates the notification described by the task payload. An error
// return sends the task through the queue's retry path.
func (p *Processor) Process(ctx context.Context, task *domain.QueueTask) error {
	userID, ok := int64Value(task.Payload["user_id"])
	if !ok {
		return fmt.Errorf("task %s: payload has no user_id", task.TaskID)
	}

	title, _ := task.Payload["title"].(string)
	if title == "" {
		title = "Notification"
	}
	message, _ := task.Payload["message"].(string)

	if _, err := p.store.CreateNotification(ctx, userID, title, message); err != nil {
		return fmt.Errorf("task %s: %w", task.TaskID, err)
	}

	p.logger.Info("notification sent", "task_id", task.TaskID, "user_id", userID, "title", title)
	return nil
}

// int64Value extracts an integer that may arrive as a JSON number (float64
// after decoding), a Go integer, or a numeric string.
func int64Value(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
