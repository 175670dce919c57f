package queue

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupQueueTest(t *testing.T) (*WorkQueue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(client, logger), mr
}

func TestEnqueueDequeue_RoundTrip(t *testing.T) {
	q, _ := setupQueueTest(t)
	ctx := context.Background()

	payload := map[string]any{"user_id": float64(7), "title": "t", "message": "m"}

	taskID, err := q.Enqueue(ctx, payload)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if taskID == "" {
		t.Fatal("enqueue returned empty task ID")
	}

	task, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if task == nil {
		t.Fatal("dequeue returned nil for non-empty queue")
	}

	if task.TaskID != taskID {
		t.Errorf("TaskID = %q, want %q", task.TaskID, taskID)
	}
	if task.Retries != 0 {
		t.Errorf("Retries = %d, want 0", task.Retries)
	}
	if got := task.Payload["user_id"]; got != float64(7) {
		t.Errorf("user_id = %v, want 7", got)
	}
	if got := task.Payload["title"]; got != "t" {
		t.Errorf("title = %v, want t", got)
	}
	if len(task.Attempts) != 0 {
		t.Errorf("Attempts = %v, want empty", task.Attempts)
	}
}

func TestDequeue_FIFOOrder(t *testing.T) {
	q, _ := setupQueueTest(t)
	ctx := context.Background()

	first, _ := q.Enqueue(ctx, map[string]any{"n": 1})
	second, _ := q.Enqueue(ctx, map[string]any{"n": 2})

	task1, err := q.Dequeue(ctx)
	if err != nil || task1 == nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	task2, err := q.Dequeue(ctx)
	if err != nil || task2 == nil {
		t.Fatalf("dequeue failed: %v", err)
	}

	if task1.TaskID != first {
		t.Errorf("first dequeue = %q, want %q", task1.TaskID, first)
	}
	if task2.TaskID != second {
		t.Errorf("second dequeue = %q, want %q", task2.TaskID, second)
	}
}

func TestMarkAsRetry_RequeuesUntilLimit(t *testing.T) {
	q, _ := setupQueueTest(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, map[string]any{"user_id": 1}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// Dequeue and fail the task until its retry budget runs out.
	var lastRetried bool
	for i := 0; i < defaultMaxRetries; i++ {
		task, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue %d failed: %v", i, err)
		}
		if task == nil {
			t.Fatalf("dequeue %d returned nil; task should have been requeued", i)
		}

		lastRetried, err = q.MarkAsRetry(ctx, task)
		if err != nil {
			t.Fatalf("retry %d failed: %v", i, err)
		}
	}

	if lastRetried {
		t.Error("final MarkAsRetry should return false")
	}

	stats, err := q.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.QueueLength != 0 {
		t.Errorf("queue_length = %d, want 0", stats.QueueLength)
	}
	if stats.DLQLength != 1 {
		t.Errorf("dlq_length = %d, want 1", stats.DLQLength)
	}

	items, err := q.DLQItems(ctx, 10)
	if err != nil {
		t.Fatalf("DLQ items failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 DLQ item, got %d", len(items))
	}

	dead := items[0]
	if dead.Retries != defaultMaxRetries {
		t.Errorf("DLQ retries = %d, want %d", dead.Retries, defaultMaxRetries)
	}
	if dead.Status != "failed" {
		t.Errorf("status = %q, want failed", dead.Status)
	}
	if dead.FailedAt == nil {
		t.Error("failed_at should be set")
	}
	// Attempts records every retry short of the final dead-lettering one.
	if len(dead.Attempts) != defaultMaxRetries-1 {
		t.Errorf("attempts = %d, want %d", len(dead.Attempts), defaultMaxRetries-1)
	}
}

func TestMarkAsCompleted_WritesExpiringRecord(t *testing.T) {
	q, mr := setupQueueTest(t)
	ctx := context.Background()

	taskID, err := q.Enqueue(ctx, map[string]any{"user_id": 2})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	task, err := q.Dequeue(ctx)
	if err != nil || task == nil {
		t.Fatalf("dequeue failed: %v", err)
	}

	if err := q.MarkAsCompleted(ctx, task); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	record, err := q.CompletedTask(ctx, taskID)
	if err != nil {
		t.Fatalf("reading completed record: %v", err)
	}
	if record == nil {
		t.Fatal("completed record missing")
	}
	if record.Status != "completed" {
		t.Errorf("status = %q, want completed", record.Status)
	}
	if record.CompletedAt.IsZero() {
		t.Error("completed_at should be set")
	}

	if ttl := mr.TTL(completedKeyPrefix + taskID); ttl != completedTTL {
		t.Errorf("TTL = %v, want %v", ttl, completedTTL)
	}

	// After the retention window the record is gone.
	mr.FastForward(completedTTL)
	record, err = q.CompletedTask(ctx, taskID)
	if err != nil {
		t.Fatalf("reading expired record: %v", err)
	}
	if record != nil {
		t.Error("record should have expired")
	}
}

func TestGetStats_TracksBothLists(t *testing.T) {
	q, _ := setupQueueTest(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, map[string]any{"n": i}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}

	stats, err := q.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.QueueLength != 2 {
		t.Errorf("queue_length = %d, want 2", stats.QueueLength)
	}
	if stats.DLQLength != 0 {
		t.Errorf("dlq_length = %d, want 0", stats.DLQLength)
	}
	if stats.QueueName != PendingList || stats.DLQName != DLQList {
		t.Errorf("unexpected list names: %q %q", stats.QueueName, stats.DLQName)
	}
}

func TestClear_EmptiesPendingOnly(t *testing.T) {
	q, _ := setupQueueTest(t)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, map[string]any{"n": 1}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := q.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	stats, err := q.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.QueueLength != 0 {
		t.Errorf("queue_length = %d, want 0", stats.QueueLength)
	}
}
