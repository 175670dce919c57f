package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avelkova/taskbus/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	// PendingList holds tasks waiting for a worker; DLQList holds tasks
	// that exhausted their retries. Completed records live under
	// completedKeyPrefix + task_id with a bounded TTL.
	PendingList        = "queues:notifications"
	DLQList            = "dlq:notifications"
	completedKeyPrefix = "completed:"

	defaultMaxRetries = 3
	dequeueTimeout    = time.Second
	completedTTL      = 24 * time.Hour
)

// ErrQueueUnavailable marks transport failures talking to Redis. Enqueue
// surfaces it; the worker loop logs it and backs off.
var ErrQueueUnavailable = errors.New("work queue unavailable")

// WorkQueue is a durable FIFO of background tasks over a Redis list, with
// per-task retry accounting and a dead-letter list for exhausted tasks.
type WorkQueue struct {
	client     *redis.Client
	logger     *slog.Logger
	maxRetries int
}

func New(client *redis.Client, logger *slog.Logger) *WorkQueue {
	return &WorkQueue{
		client:     client,
		logger:     logger,
		maxRetries: defaultMaxRetries,
	}
}

// Enqueue appends a fresh task carrying the payload and returns its ID.
// Task IDs are time-derived, unique within practical tolerance.
func (q *WorkQueue) Enqueue(ctx context.Context, payload map[string]any) (string, error) {
	now := time.Now().UTC()
	task := domain.QueueTask{
		TaskID:    now.Format(time.RFC3339Nano),
		Payload:   payload,
		Retries:   0,
		CreatedAt: now,
		Attempts:  []domain.Attempt{},
	}

	if err := q.push(ctx, PendingList, task); err != nil {
		return "", fmt.Errorf("%w: enqueueing task: %v", ErrQueueUnavailable, err)
	}

	q.logger.Info("task enqueued", "task_id", task.TaskID)
	return task.TaskID, nil
}

// Dequeue pops the oldest pending task, blocking up to one second. It
// returns (nil, nil) when the queue is empty so the caller's loop stays
// responsive to shutdown.
func (q *WorkQueue) Dequeue(ctx context.Context) (*domain.QueueTask, error) {
	res, err := q.client.BRPop(ctx, dequeueTimeout, PendingList).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: dequeueing task: %v", ErrQueueUnavailable, err)
	}

	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP result: %v", res)
	}

	var task domain.QueueTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("decoding task: %w", err)
	}

	q.logger.Info("task dequeued", "task_id", task.TaskID)
	return &task, nil
}

// MarkAsRetry increments the task's retry counter. Below the limit the task
// is pushed back onto the pending list with an attempt record and true is
// returned; otherwise it is marked failed, pushed to the DLQ list, and
// false is returned.
func (q *WorkQueue) MarkAsRetry(ctx context.Context, task *domain.QueueTask) (bool, error) {
	task.Retries++

	if task.Retries >= q.maxRetries {
		now := time.Now().UTC()
		task.Status = domain.TaskStatusFailed
		task.FailedAt = &now

		if err := q.push(ctx, DLQList, *task); err != nil {
			return false, fmt.Errorf("%w: dead-lettering task %s: %v", ErrQueueUnavailable, task.TaskID, err)
		}

		q.logger.Warn("task moved to DLQ",
			"task_id", task.TaskID,
			"retries", task.Retries,
		)
		return false, nil
	}

	task.Attempts = append(task.Attempts, domain.Attempt{
		Timestamp:   time.Now().UTC(),
		RetryNumber: task.Retries,
	})

	if err := q.push(ctx, PendingList, *task); err != nil {
		return false, fmt.Errorf("%w: requeueing task %s: %v", ErrQueueUnavailable, task.TaskID, err)
	}

	q.logger.Info("task requeued",
		"task_id", task.TaskID,
		"retry", task.Retries,
		"max_retries", q.maxRetries,
	)
	return true, nil
}

// MarkAsCompleted writes an audit snapshot of the task under a per-task key
// with a 24-hour expiry. The task itself was already popped from the list.
func (q *WorkQueue) MarkAsCompleted(ctx context.Context, task *domain.QueueTask) error {
	task.Status = domain.TaskStatusCompleted
	record := domain.CompletedTask{
		QueueTask:   *task,
		CompletedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding completed record: %w", err)
	}

	err = q.client.SetEx(ctx, completedKeyPrefix+task.TaskID, data, completedTTL).Err()
	if err != nil {
		return fmt.Errorf("%w: recording completed task %s: %v", ErrQueueUnavailable, task.TaskID, err)
	}

	q.logger.Info("task completed", "task_id", task.TaskID)
	return nil
}

// CompletedTask returns the audit snapshot for a task ID, or nil if it has
// expired or never completed.
func (q *WorkQueue) CompletedTask(ctx context.Context, taskID string) (*domain.CompletedTask, error) {
	data, err := q.client.Get(ctx, completedKeyPrefix+taskID).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: reading completed task %s: %v", ErrQueueUnavailable, taskID, err)
	}

	var record domain.CompletedTask
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding completed record: %w", err)
	}
	return &record, nil
}

// Stats is a point-in-time snapshot of both list lengths.
type Stats struct {
	QueueLength int64  `json:"queue_length"`
	DLQLength   int64  `json:"dlq_length"`
	QueueName   string `json:"queue_name"`
	DLQName     string `json:"dlq_name"`
}

func (q *WorkQueue) GetStats(ctx context.Context) (*Stats, error) {
	queueLen, err := q.client.LLen(ctx, PendingList).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: reading queue length: %v", ErrQueueUnavailable, err)
	}

	dlqLen, err := q.client.LLen(ctx, DLQList).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: reading DLQ length: %v", ErrQueueUnavailable, err)
	}

	return &Stats{
		QueueLength: queueLen,
		DLQLength:   dlqLen,
		QueueName:   PendingList,
		DLQName:     DLQList,
	}, nil
}

// DLQItems returns up to limit dead-lettered tasks, newest first.
func (q *WorkQueue) DLQItems(ctx context.Context, limit int64) ([]domain.QueueTask, error) {
	items, err := q.client.LRange(ctx, DLQList, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: reading DLQ items: %v", ErrQueueUnavailable, err)
	}

	tasks := make([]domain.QueueTask, 0, len(items))
	for _, item := range items {
		var task domain.QueueTask
		if err := json.Unmarshal([]byte(item), &task); err != nil {
			q.logger.Error("skipping malformed DLQ item", "error", err)
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Clear empties the pending list. Administrative and test use only.
func (q *WorkQueue) Clear(ctx context.Context) error {
	if err := q.client.Del(ctx, PendingList).Err(); err != nil {
		return fmt.Errorf("%w: clearing queue: %v", ErrQueueUnavailable, err)
	}
	q.logger.Warn("queue cleared")
	return nil
}

func (q *WorkQueue) push(ctx context.Context, list string, task domain.QueueTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	return q.client.LPush(ctx, list, data).Err()
}
