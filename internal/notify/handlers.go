package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avelkova/taskbus/internal/bus"
	"github.com/avelkova/taskbus/internal/domain"
)

// Consumer holds the event handlers the notifications service registers on
// the bus. Handlers are re-run whole on retry, so each one only performs an
// idempotent-enough insert keyed by consumer behavior upstream.
type Consumer struct {
	store      NotificationStore
	recipients Recipients
	logger     *slog.Logger
}

func NewConsumer(store NotificationStore, recipients Recipients, logger *slog.Logger) *Consumer {
	return &Consumer{store: store, recipients: recipients, logger: logger}
}

// Register subscribes every handler with the bus.
func (c *Consumer) Register(b *bus.Bus) {
	b.Subscribe(domain.TaskCreated, c.handleTaskCreated)
	b.Subscribe(domain.TaskUpdated, c.handleTaskUpdated)
	b.Subscribe(domain.TaskCompleted, c.handleTaskCompleted)
	b.Subscribe(domain.TaskAssigned, c.handleTaskAssigned)
	b.Subscribe(domain.UserCreated, c.handleUserCreated)
}

// handleTaskCreated notifies every worker assigned to the new task.
func (c *Consumer) handleTaskCreated(ctx context.Context, event domain.Event) error {
	title, _ := event.Data["title"].(string)

	workerIDs, ok := event.Data["worker_ids"].([]any)
	if !ok {
		c.logger.Info("task created without workers", "task_id", event.AggregateID)
		return nil
	}

	for _, raw := range workerIDs {
		workerID, ok := int64Value(raw)
		if !ok {
			return fmt.Errorf("task %s: bad worker id %v", event.AggregateID, raw)
		}
		_, err := c.store.CreateNotification(ctx, workerID,
			"New task assigned",
			fmt.Sprintf("New task assigned: %s", title),
		)
		if err != nil {
			return err
		}
	}

	c.logger.Info("task created notifications sent", "task_id", event.AggregateID, "workers", len(workerIDs))
	return nil
}

// handleTaskUpdated notifies the administrators resolved by the injected
// recipients policy.
func (c *Consumer) handleTaskUpdated(ctx context.Context, event domain.Event) error {
	title, _ := event.Data["title"].(string)
	return c.notifyAdmins(ctx, event,
		"Task updated",
		fmt.Sprintf("Task updated: %s", title),
	)
}

// handleTaskCompleted notifies administrators that a worker finished a task.
func (c *Consumer) handleTaskCompleted(ctx context.Context, event domain.Event) error {
	workerID, _ := int64Value(event.Data["worker_id"])
	return c.notifyAdmins(ctx, event,
		"Task completed",
		fmt.Sprintf("Task completed by worker %d", workerID),
	)
}

// handleTaskAssigned notifies the assigned worker directly.
func (c *Consumer) handleTaskAssigned(ctx context.Context, event domain.Event) error {
	workerID, ok := int64Value(event.Data["worker_id"])
	if !ok {
		return fmt.Errorf("task %s: assignment event has no worker_id", event.AggregateID)
	}

	message, _ := event.Data["message"].(string)
	if message == "" {
		message = "Task assigned to you"
	}

	_, err := c.store.CreateNotification(ctx, workerID, "Task assigned", message)
	if err != nil {
		return err
	}

	c.logger.Info("assignment notification sent", "task_id", event.AggregateID, "worker_id", workerID)
	return nil
}

// handleUserCreated only records the fact; there is nobody to notify yet.
func (c *Consumer) handleUserCreated(ctx context.Context, event domain.Event) error {
	email, _ := event.Data["email"].(string)
	c.logger.Info("new user created", "user_id", event.AggregateID, "email", email)
	return nil
}

func (c *Consumer) notifyAdmins(ctx context.Context, event domain.Event, title, message string) error {
	admins, err := c.recipients.Admins(ctx)
	if err != nil {
		return fmt.Errorf("resolving admin recipients: %w", err)
	}

	for _, adminID := range admins {
		if _, err := c.store.CreateNotification(ctx, adminID, title, message); err != nil {
			return err
		}
	}

	c.logger.Info("admin notifications sent",
		"event_type", event.Type,
		"task_id", event.AggregateID,
		"admins", len(admins),
	)
	return nil
}
